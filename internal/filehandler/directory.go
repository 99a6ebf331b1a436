package filehandler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog/log"
)

// ScanBatch returns the absolute paths of the batch files directly inside
// dirPath, sorted by name. Subdirectories are not searched; symlinks to
// files are followed.
func ScanBatch(dirPath string) ([]string, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("directory not found: %s", dirPath)
		}
		return nil, fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("path is not a directory: %s", dirPath)
	}

	absPath, err := filepath.Abs(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	entries, err := os.ReadDir(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if !IsBatchFile(e.Name()) {
			continue
		}
		path := filepath.Join(absPath, e.Name())
		// Stat follows symlinks.
		fi, err := os.Stat(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Failed to stat batch file, skipping")
			continue
		}
		if !fi.Mode().IsRegular() {
			continue
		}
		paths = append(paths, path)
	}
	sort.Strings(paths)

	log.Info().
		Int("batch_files", len(paths)).
		Str("directory", absPath).
		Msg("Batch scan complete")
	return paths, nil
}

// LoadBatch loads every batch file with its metadata.
func LoadBatch(dirPath string) ([]*MediaFile, error) {
	paths, err := ScanBatch(dirPath)
	if err != nil {
		return nil, err
	}
	files := make([]*MediaFile, 0, len(paths))
	for _, p := range paths {
		mf, err := LoadMediaFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, mf)
	}
	return files, nil
}
