package registration

import (
	"fmt"
	"path/filepath"
	"strings"
)

// FileRef points at a prepared file the browser can read.
type FileRef struct {
	Path string
}

// Name is the base file name; the image picker lists files by it.
func (f FileRef) Name() string {
	return filepath.Base(f.Path)
}

func (f FileRef) String() string { return f.Path }

// Coordinates is a latitude/longitude pair as resolved by the site.
type Coordinates struct {
	Latitude  float64
	Longitude float64
}

// Record is the input for one registration run. The caller builds it
// before the run; the workflow only writes the coordinates, once, after the
// site has geocoded the address.
type Record struct {
	Place       string
	Reading     string
	Description string
	Address     string

	MainImage *FileRef
	// AssociatedImages are attached in order. An entry naming the main image
	// is skipped.
	AssociatedImages []FileRef

	coords *Coordinates
}

// Coordinates returns the geocoded position and whether it has been set.
func (r *Record) Coordinates() (Coordinates, bool) {
	if r.coords == nil {
		return Coordinates{}, false
	}
	return *r.coords, true
}

func (r *Record) setCoordinates(c Coordinates) error {
	if r.coords != nil {
		return fmt.Errorf("coordinates already set to %v,%v", r.coords.Latitude, r.coords.Longitude)
	}
	r.coords = &c
	return nil
}

// Validate rejects records that cannot be registered.
func (r *Record) Validate() error {
	if r == nil {
		return newError(KindInvalidInput, "", "record is nil")
	}
	if strings.TrimSpace(r.Place) == "" {
		return newError(KindInvalidInput, "place", "place name is required")
	}
	if r.coords != nil {
		return newError(KindInvalidInput, "coordinates", "record was already geocoded; build a new record for each run")
	}
	if r.MainImage != nil && strings.TrimSpace(r.MainImage.Path) == "" {
		return newError(KindInvalidInput, "main image", "main image path is empty")
	}
	for i, f := range r.AssociatedImages {
		if strings.TrimSpace(f.Path) == "" {
			return newError(KindInvalidInput, "associated images", "entry %d has an empty path", i)
		}
	}
	return nil
}

// associatedToSelect returns the associated images in order, minus any
// entry that names the main image.
func (r *Record) associatedToSelect() []FileRef {
	out := make([]FileRef, 0, len(r.AssociatedImages))
	for _, f := range r.AssociatedImages {
		if r.MainImage != nil && f.Name() == r.MainImage.Name() {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Credentials are the site login pair.
type Credentials struct {
	LoginID  string
	Password string
}

// String never renders the password.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{LoginID: %q, Password: <redacted>}", c.LoginID)
}
