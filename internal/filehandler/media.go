// Package filehandler finds the image batch for a registration and reads
// the EXIF metadata of its files.
//
// The batch is the set of compressed_* images in the session directory:
// the files the upload step hands to the site in one multi-file upload.
package filehandler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// BatchPrefix marks the files of a session directory that belong to the
// upload batch.
const BatchPrefix = "compressed_"

// SupportedImageExtensions are the formats the site's uploader accepts.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// MediaFile is one image of a batch.
type MediaFile struct {
	Path     string
	MIMEType string
	Size     int64
	Metadata *ImageMetadata
}

// Name is the base file name; the site lists uploads by it.
func (m *MediaFile) Name() string {
	return filepath.Base(m.Path)
}

// LoadMediaFile stats a file and reads its EXIF metadata. A file without
// readable metadata is still returned.
func LoadMediaFile(filePath string) (*MediaFile, error) {
	log.Debug().Str("path", filePath).Msg("Loading media file")

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", filePath)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("path is a directory, not a file: %s", filePath)
	}

	mimeType, err := GetMIMEType(filepath.Ext(filePath))
	if err != nil {
		return nil, err
	}

	mediaFile := &MediaFile{
		Path:     filePath,
		MIMEType: mimeType,
		Size:     info.Size(),
	}

	imgMeta, err := ExtractImageMetadata(filePath)
	if err != nil {
		log.Warn().Err(err).Str("path", filePath).Msg("Failed to extract image metadata, continuing without it")
	} else {
		mediaFile.Metadata = imgMeta
	}
	return mediaFile, nil
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension is an uploadable image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsBatchFile reports whether a file name belongs to the upload batch.
func IsBatchFile(name string) bool {
	return strings.HasPrefix(name, BatchPrefix) && IsImage(filepath.Ext(name))
}

// CoordinatesToDMS converts decimal degrees to degrees, minutes, seconds format.
func CoordinatesToDMS(lat, lon float64) string {
	latDir := "N"
	if lat < 0 {
		latDir = "S"
		lat = -lat
	}

	lonDir := "E"
	if lon < 0 {
		lonDir = "W"
		lon = -lon
	}

	latDeg := int(lat)
	latMin := int((lat - float64(latDeg)) * 60)
	latSec := ((lat-float64(latDeg))*60 - float64(latMin)) * 60

	lonDeg := int(lon)
	lonMin := int((lon - float64(lonDeg)) * 60)
	lonSec := ((lon-float64(lonDeg))*60 - float64(lonMin)) * 60

	return fmt.Sprintf("%d°%d'%.2f\"%s, %d°%d'%.2f\"%s",
		latDeg, latMin, latSec, latDir,
		lonDeg, lonMin, lonSec, lonDir)
}
