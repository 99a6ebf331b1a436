package filehandler

import (
	"strings"
	"testing"
)

func TestIsImage(t *testing.T) {
	tests := []struct {
		ext      string
		expected bool
	}{
		{".jpg", true},
		{".jpeg", true},
		{".JPG", true},
		{".png", true},
		{".PNG", true},
		{".heic", false},
		{".gif", false},
		{".mp4", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			if got := IsImage(tt.ext); got != tt.expected {
				t.Errorf("IsImage(%q) = %v, want %v", tt.ext, got, tt.expected)
			}
		})
	}
}

func TestIsBatchFile(t *testing.T) {
	tests := []struct {
		name     string
		expected bool
	}{
		{"compressed_falls.jpg", true},
		{"compressed_bridge.JPEG", true},
		{"compressed_map.png", true},
		{"falls.jpg", false},
		{"Compressed_falls.jpg", false},
		{"compressed_notes.txt", false},
		{"compressed_", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsBatchFile(tt.name); got != tt.expected {
				t.Errorf("IsBatchFile(%q) = %v, want %v", tt.name, got, tt.expected)
			}
		})
	}
}

func TestGetMIMEType(t *testing.T) {
	tests := []struct {
		ext     string
		want    string
		wantErr bool
	}{
		{".jpg", "image/jpeg", false},
		{".JPEG", "image/jpeg", false},
		{".png", "image/png", false},
		{".webp", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			got, err := GetMIMEType(tt.ext)
			if (err != nil) != tt.wantErr {
				t.Fatalf("GetMIMEType(%q) error = %v, wantErr %v", tt.ext, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("GetMIMEType(%q) = %q, want %q", tt.ext, got, tt.want)
			}
		})
	}
}

func TestCoordinatesToDMS(t *testing.T) {
	got := CoordinatesToDMS(36.7382, 139.5039)
	if !strings.HasPrefix(got, "36°44'") || !strings.Contains(got, "\"N, 139°30'") || !strings.HasSuffix(got, "\"E") {
		t.Errorf("CoordinatesToDMS = %q", got)
	}
	got = CoordinatesToDMS(-33.8688, -151.2093)
	if !strings.Contains(got, "S, ") || !strings.HasSuffix(got, "W") {
		t.Errorf("southern/western hemisphere = %q", got)
	}
}
