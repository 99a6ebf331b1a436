package filehandler

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// ImageMetadata contains EXIF metadata extracted from an image.
type ImageMetadata struct {
	// GPS coordinates (converted from EXIF Rational format to float64)
	Latitude  float64
	Longitude float64
	HasGPS    bool

	DateTaken time.Time
	HasDate   bool

	CameraMake  string
	CameraModel string
}

// ExtractImageMetadata reads EXIF metadata from an image file. Only the
// metadata block is read, not the pixel data.
func ExtractImageMetadata(filePath string) (*ImageMetadata, error) {
	log.Debug().Str("path", filePath).Msg("Extracting EXIF metadata")

	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	exifData, err := imagemeta.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("failed to decode EXIF metadata: %w", err)
	}

	metadata := &ImageMetadata{}

	gps := exifData.GPS
	if gps.Latitude() != 0 || gps.Longitude() != 0 {
		metadata.Latitude = gps.Latitude()
		metadata.Longitude = gps.Longitude()
		metadata.HasGPS = true
	}

	// DateTimeOriginal > CreateDate > ModifyDate
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		metadata.DateTaken, metadata.HasDate = exifData.DateTimeOriginal(), true
	case !exifData.CreateDate().IsZero():
		metadata.DateTaken, metadata.HasDate = exifData.CreateDate(), true
	case !exifData.ModifyDate().IsZero():
		metadata.DateTaken, metadata.HasDate = exifData.ModifyDate(), true
	}

	metadata.CameraMake = strings.TrimSpace(exifData.Make)
	metadata.CameraModel = strings.TrimSpace(exifData.Model)

	log.Debug().
		Str("path", filePath).
		Bool("has_gps", metadata.HasGPS).
		Bool("has_date", metadata.HasDate).
		Msg("Image metadata extraction complete")

	return metadata, nil
}

// Summary is a one-line description for the plan output.
func (m *ImageMetadata) Summary() string {
	var parts []string
	if m.HasGPS {
		parts = append(parts, fmt.Sprintf("gps %.6f,%.6f (%s)", m.Latitude, m.Longitude, CoordinatesToDMS(m.Latitude, m.Longitude)))
	} else {
		parts = append(parts, "no gps")
	}
	if m.HasDate {
		parts = append(parts, m.DateTaken.Format("2006-01-02 15:04"))
	}
	if cam := strings.TrimSpace(m.CameraMake + " " + m.CameraModel); cam != "" {
		parts = append(parts, cam)
	}
	return strings.Join(parts, ", ")
}

// DistanceKm is the great-circle distance between the image's GPS fix and
// the given point. ok is false when the image has no GPS.
func (m *ImageMetadata) DistanceKm(lat, lon float64) (km float64, ok bool) {
	if m == nil || !m.HasGPS {
		return 0, false
	}
	const earthRadiusKm = 6371.0
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat - m.Latitude)
	dLon := rad(lon - m.Longitude)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(m.Latitude))*math.Cos(rad(lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a)), true
}
