// Package manifest reads the YAML files that describe what to register:
// one entry per place, each pointing at the session directory that holds
// its prepared images.
//
//	base_dir: ~/fc/sessions
//	entries:
//	  - place: 華厳の滝
//	    reading: けごんのたき
//	    address: 栃木県日光市中宮祠
//	    description: |
//	      ...
//	    dir: kegon
//	    main_image: compressed_falls.jpg
//	    associated_images: [compressed_bridge.jpg, compressed_lake.jpg]
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/fc-registrar/internal/registration"
	"gopkg.in/yaml.v3"
)

// Entry describes one registration.
type Entry struct {
	Place       string `yaml:"place" json:"place"`
	Reading     string `yaml:"reading,omitempty" json:"reading,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Address     string `yaml:"address,omitempty" json:"address,omitempty"`

	// Dir is the session directory, relative to the manifest's base dir.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
	// S3Prefix replaces Dir when the batch lives in S3.
	S3Prefix string `yaml:"s3_prefix,omitempty" json:"s3Prefix,omitempty"`

	// Image names are relative to the session directory.
	MainImage        string   `yaml:"main_image,omitempty" json:"mainImage,omitempty"`
	AssociatedImages []string `yaml:"associated_images,omitempty" json:"associatedImages,omitempty"`
}

// Manifest is a batch of entries.
type Manifest struct {
	BaseDir string  `yaml:"base_dir,omitempty"`
	Entries []Entry `yaml:"entries"`
}

// Load reads and validates a manifest file. A relative base_dir is resolved
// against the manifest's own directory.
func Load(path string) (*Manifest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	m, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.BaseDir = resolveDir(filepath.Dir(path), m.BaseDir)
	return m, nil
}

// Decode parses a manifest. Unknown keys are rejected so a typo in a field
// name does not silently drop data.
func Decode(r io.Reader) (*Manifest, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("manifest is empty")
		}
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadEntry reads a file holding a single entry, for the register command.
func LoadEntry(path string) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open record: %w", err)
	}
	var e Entry
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("%s: decode record: %w", path, err)
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if e.Dir == "" {
		e.Dir = filepath.Dir(path)
	} else {
		e.Dir = resolveDir(filepath.Dir(path), e.Dir)
	}
	return &e, nil
}

// Validate checks every entry and rejects a place listed twice.
func (m *Manifest) Validate() error {
	if len(m.Entries) == 0 {
		return errors.New("manifest has no entries")
	}
	seen := make(map[string]int, len(m.Entries))
	for i := range m.Entries {
		if err := m.Entries[i].Validate(); err != nil {
			return fmt.Errorf("entry %d: %w", i+1, err)
		}
		place := strings.TrimSpace(m.Entries[i].Place)
		if prev, ok := seen[place]; ok {
			return fmt.Errorf("entry %d: place %q already listed as entry %d", i+1, place, prev)
		}
		seen[place] = i + 1
	}
	return nil
}

// Validate checks the fields a run needs before any browser starts.
func (e *Entry) Validate() error {
	if strings.TrimSpace(e.Place) == "" {
		return errors.New("place is required")
	}
	for _, name := range append([]string{e.MainImage}, e.AssociatedImages...) {
		if name != "" && filepath.Base(name) != name {
			return fmt.Errorf("image %q must be a file name inside the session directory", name)
		}
	}
	return nil
}

// SessionDir is the entry's directory, resolved against baseDir.
func (e *Entry) SessionDir(baseDir string) string {
	return resolveDir(baseDir, e.Dir)
}

// Record builds the workflow input with image paths inside dir.
func (e *Entry) Record(dir string) *registration.Record {
	rec := &registration.Record{
		Place:       strings.TrimSpace(e.Place),
		Reading:     e.Reading,
		Description: e.Description,
		Address:     e.Address,
	}
	if e.MainImage != "" {
		rec.MainImage = &registration.FileRef{Path: filepath.Join(dir, e.MainImage)}
	}
	for _, name := range e.AssociatedImages {
		rec.AssociatedImages = append(rec.AssociatedImages, registration.FileRef{Path: filepath.Join(dir, name)})
	}
	return rec
}

func resolveDir(base, dir string) string {
	switch {
	case dir == "":
		return base
	case strings.HasPrefix(dir, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, dir[2:])
		}
	case filepath.IsAbs(dir):
		return dir
	}
	return filepath.Join(base, dir)
}
