package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fpang/fc-registrar/internal/cli"
	"github.com/fpang/fc-registrar/internal/filehandler"
	"github.com/fpang/fc-registrar/internal/manifest"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/spf13/cobra"
)

type point struct {
	lat, lon float64
}

func parsePoint(s string) (*point, error) {
	latS, lonS, ok := strings.Cut(s, ",")
	if !ok {
		return nil, fmt.Errorf("expected LAT,LON, got %q", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(latS), 64)
	if err != nil || lat < -90 || lat > 90 {
		return nil, fmt.Errorf("invalid latitude %q", latS)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(lonS), 64)
	if err != nil || lon < -180 || lon > 180 {
		return nil, fmt.Errorf("invalid longitude %q", lonS)
	}
	return &point{lat: lat, lon: lon}, nil
}

func newPlanCmd(a *app) *cobra.Command {
	var (
		rf      recordFlags
		nearArg string
		maxKm   float64
	)
	cmd := &cobra.Command{
		Use:   "plan [MANIFEST]",
		Short: "Check records and batches without opening a browser",
		Long: `Validate a record (or every entry of a manifest), list the upload batch
with each image's EXIF GPS fix, and show which steps would run.

With --near, images taken further than --max-distance km from the point are
flagged.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var near *point
			if nearArg != "" {
				p, err := parsePoint(nearArg)
				if err != nil {
					return &exitError{code: cli.ExitInput, err: err}
				}
				near = p
			}

			var entries []*manifest.Entry
			var baseDir string
			switch {
			case len(args) == 1:
				m, err := manifest.Load(args[0])
				if err != nil {
					return &exitError{code: cli.ExitInput, err: err}
				}
				baseDir = m.BaseDir
				for i := range m.Entries {
					entries = append(entries, &m.Entries[i])
				}
			case rf.set():
				e, err := rf.entry()
				if err != nil {
					return &exitError{code: cli.ExitInput, err: err}
				}
				entries = append(entries, e)
			default:
				return &exitError{code: cli.ExitInput, err: fmt.Errorf("give a manifest, --record or --place")}
			}

			out := cmd.OutOrStdout()
			problems := 0
			for _, e := range entries {
				problems += writePlan(out, e, e.SessionDir(baseDir), near, maxKm)
			}
			fmt.Fprintf(out, "\n%d entries, %d problems\n", len(entries), problems)
			if problems > 0 {
				return &exitError{code: cli.ExitInput, err: fmt.Errorf("plan found %d problems", problems)}
			}
			return nil
		},
	}
	rf.add(cmd)
	cmd.Flags().StringVar(&nearArg, "near", "", "Expected location as LAT,LON for the EXIF cross-check")
	cmd.Flags().Float64Var(&maxKm, "max-distance", 5, "Distance in km beyond which an image is flagged")
	return cmd
}

// writePlan prints the plan for one entry and returns the number of
// problems that would stop or spoil the run.
func writePlan(w io.Writer, e *manifest.Entry, dir string, near *point, maxKm float64) int {
	problems := 0
	problem := func(format string, args ...any) {
		problems++
		fmt.Fprintf(w, "  ! "+format+"\n", args...)
	}

	fmt.Fprintf(w, "\n%s\n", placeLabel(e))
	if e.Address != "" {
		fmt.Fprintf(w, "  address: %s\n", e.Address)
	}
	fmt.Fprintf(w, "  session: %s\n", dir)

	rec := e.Record(dir)
	if err := rec.Validate(); err != nil {
		problem("%v", err)
	}

	files, err := filehandler.LoadBatch(dir)
	if err != nil {
		problem("%v", err)
	}
	inBatch := make(map[string]bool, len(files))
	fmt.Fprintf(w, "  batch: %d images\n", len(files))
	for i, f := range files {
		inBatch[f.Name()] = true
		meta := "no metadata"
		if f.Metadata != nil {
			meta = f.Metadata.Summary()
		}
		fmt.Fprintf(w, "   %2d. %s (%.1f MB) %s\n", i+1, f.Name(), float64(f.Size)/(1024*1024), meta)
		if near == nil {
			continue
		}
		if km, ok := f.Metadata.DistanceKm(near.lat, near.lon); ok && km > maxKm {
			problem("%s was taken %.1f km from %.6f,%.6f", f.Name(), km, near.lat, near.lon)
		}
	}

	if rec.MainImage != nil {
		fmt.Fprintf(w, "  main image: %s%s\n", rec.MainImage.Name(), libraryNote(inBatch, rec.MainImage.Name()))
	}
	for _, ref := range rec.AssociatedImages {
		note := libraryNote(inBatch, ref.Name())
		if rec.MainImage != nil && ref.Name() == rec.MainImage.Name() {
			note = " (same as main image, skipped)"
		}
		fmt.Fprintf(w, "  associated: %s%s\n", ref.Name(), note)
	}

	fmt.Fprintf(w, "  steps: %s\n", strings.Join(plannedSteps(rec, files), ", "))
	return problems
}

func libraryNote(inBatch map[string]bool, name string) string {
	if inBatch[name] {
		return ""
	}
	return " (not in this batch; must already be in the site's library)"
}

// plannedSteps lists the steps a run would execute, marking the ones it
// would skip.
func plannedSteps(rec *registration.Record, files []*filehandler.MediaFile) []string {
	env := &registration.Env{Record: rec}
	for _, f := range files {
		env.Batch = append(env.Batch, registration.FileRef{Path: f.Path})
	}
	var out []string
	for _, s := range registration.DefaultSteps() {
		name := s.Name()
		if c, ok := s.(registration.Conditional); ok && !c.ShouldRun(env) {
			name += " (skip)"
		}
		out = append(out, name)
	}
	return out
}
