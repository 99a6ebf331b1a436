package main

import (
	"fmt"
	"strings"

	"github.com/fpang/fc-registrar/internal/filehandler"
	"github.com/fpang/fc-registrar/internal/manifest"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/spf13/cobra"
)

// recordFlags describe a single registration, either as a YAML record file
// or inline.
type recordFlags struct {
	file        string
	dir         string
	place       string
	reading     string
	address     string
	description string
	mainImage   string
	associated  []string
}

func (f *recordFlags) add(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.file, "record", "r", "", "YAML file with one record (place, reading, address, description, images)")
	fl.StringVarP(&f.dir, "dir", "d", "", "Session directory holding the compressed_* images (default: the record file's directory)")
	fl.StringVar(&f.place, "place", "", "Place name")
	fl.StringVar(&f.reading, "reading", "", "Phonetic reading of the place name")
	fl.StringVar(&f.address, "address", "", "Address the site geocodes")
	fl.StringVar(&f.description, "description", "", "Description text")
	fl.StringVar(&f.mainImage, "main-image", "", "File name of the main image")
	fl.StringSliceVar(&f.associated, "associated", nil, "File names of the associated images, in order")
}

// set reports whether any record source was given.
func (f *recordFlags) set() bool {
	return f.file != "" || f.place != ""
}

// entry builds the record entry. Inline flags override the file's fields.
func (f *recordFlags) entry() (*manifest.Entry, error) {
	e := &manifest.Entry{}
	if f.file != "" {
		loaded, err := manifest.LoadEntry(f.file)
		if err != nil {
			return nil, err
		}
		e = loaded
	}
	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&e.Place, f.place)
	override(&e.Reading, f.reading)
	override(&e.Address, f.address)
	override(&e.Description, f.description)
	override(&e.MainImage, f.mainImage)
	override(&e.Dir, f.dir)
	if len(f.associated) > 0 {
		e.AssociatedImages = f.associated
	}
	if err := e.Validate(); err != nil {
		return nil, fmt.Errorf("record: %w", err)
	}
	return e, nil
}

// batchRefs lists the upload batch of dir.
func batchRefs(dir string) ([]registration.FileRef, error) {
	paths, err := filehandler.ScanBatch(dir)
	if err != nil {
		return nil, err
	}
	refs := make([]registration.FileRef, 0, len(paths))
	for _, p := range paths {
		refs = append(refs, registration.FileRef{Path: p})
	}
	return refs, nil
}

func placeLabel(e *manifest.Entry) string {
	if r := strings.TrimSpace(e.Reading); r != "" {
		return fmt.Sprintf("%s (%s)", e.Place, r)
	}
	return e.Place
}
