package filehandler

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestImageMetadataSummary(t *testing.T) {
	meta := &ImageMetadata{
		Latitude:    36.7382,
		Longitude:   139.5039,
		HasGPS:      true,
		DateTaken:   time.Date(2024, 11, 3, 9, 15, 0, 0, time.UTC),
		HasDate:     true,
		CameraMake:  "FUJIFILM",
		CameraModel: "X-T5",
	}
	got := meta.Summary()
	for _, want := range []string{"gps 36.738200,139.503900", "2024-11-03 09:15", "FUJIFILM X-T5"} {
		if !strings.Contains(got, want) {
			t.Errorf("Summary() = %q, missing %q", got, want)
		}
	}

	if got := (&ImageMetadata{}).Summary(); got != "no gps" {
		t.Errorf("empty Summary() = %q", got)
	}
}

func TestImageMetadataDistanceKm(t *testing.T) {
	meta := &ImageMetadata{Latitude: 36.7382, Longitude: 139.5039, HasGPS: true}

	km, ok := meta.DistanceKm(36.7382, 139.5039)
	if !ok || km > 0.001 {
		t.Errorf("same point = %v, %v", km, ok)
	}
	// One degree of latitude is about 111 km.
	km, _ = meta.DistanceKm(37.7382, 139.5039)
	if math.Abs(km-111.2) > 1 {
		t.Errorf("one degree = %v km", km)
	}

	if _, ok := (&ImageMetadata{}).DistanceKm(0, 0); ok {
		t.Error("no gps should report !ok")
	}
	var nilMeta *ImageMetadata
	if _, ok := nilMeta.DistanceKm(0, 0); ok {
		t.Error("nil metadata should report !ok")
	}
}

func TestExtractImageMetadataNotAnImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compressed_fake.jpg")
	if err := os.WriteFile(path, []byte("not a jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := ExtractImageMetadata(path); err == nil {
		t.Error("expected decode error")
	}

	// LoadMediaFile tolerates missing metadata.
	mf, err := LoadMediaFile(path)
	if err != nil {
		t.Fatalf("LoadMediaFile: %v", err)
	}
	if mf.Metadata != nil || mf.MIMEType != "image/jpeg" || mf.Name() != "compressed_fake.jpg" {
		t.Errorf("got %+v", mf)
	}
}
