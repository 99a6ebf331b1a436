package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/fpang/fc-registrar/internal/cli"
	"github.com/fpang/fc-registrar/internal/config"
	"github.com/fpang/fc-registrar/internal/filehandler"
	"github.com/fpang/fc-registrar/internal/manifest"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/fpang/fc-registrar/internal/s3util"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newBatchCmd(a *app) *cobra.Command {
	var noPrompt bool
	cmd := &cobra.Command{
		Use:   "batch MANIFEST",
		Short: "Register every place in a manifest",
		Long: `Register every entry of a YAML manifest. Each entry runs in its own
browser; --parallel bounds how many are open at once. A failed entry does not
stop the others.

Entries with s3_prefix have their batch downloaded from --bucket first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := manifest.Load(args[0])
			if err != nil {
				return &exitError{code: cli.ExitInput, err: err}
			}
			creds := cli.InitCredentials(!noPrompt)

			ctx := cmd.Context()
			eng, err := newEngine(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer eng.close()
			eng.logStartup("fc-registrar")

			tmp, err := os.MkdirTemp("", "fc-batch-")
			if err != nil {
				return fmt.Errorf("create staging dir: %w", err)
			}
			defer os.RemoveAll(tmp)

			// Entries that cannot be prepared are reported without a run.
			results := make([]*registration.Result, len(m.Entries))
			var workflows []*registration.Workflow
			var slots []int
			for i := range m.Entries {
				e := &m.Entries[i]
				dir, err := stageEntry(ctx, eng, m, e, filepath.Join(tmp, fmt.Sprintf("%03d", i)))
				if err != nil {
					log.Error().Err(err).Str("place", e.Place).Msg("Entry skipped")
					results[i] = &registration.Result{
						Place: e.Place,
						State: registration.StateFailed,
						Err:   &registration.Error{Kind: registration.KindInvalidInput, Message: "prepare batch", Err: err},
					}
					continue
				}
				batch, err := batchRefs(dir)
				if err != nil {
					results[i] = &registration.Result{
						Place: e.Place,
						State: registration.StateFailed,
						Err:   &registration.Error{Kind: registration.KindInvalidInput, Message: "scan batch", Err: err},
					}
					continue
				}
				workflows = append(workflows, registration.New(e.Record(dir), batch, creds, eng.options()))
				slots = append(slots, i)
			}

			log.Info().
				Int("entries", len(m.Entries)).
				Int("runnable", len(workflows)).
				Int("parallel", a.cfg.Parallel).
				Msg("Starting batch")

			for j, res := range registration.RunAll(ctx, workflows, a.cfg.Parallel) {
				results[slots[j]] = res
			}

			code := cli.ExitOK
			failed := 0
			for _, res := range results {
				cli.PrintResult(os.Stdout, res)
				if res.State != registration.StateCompleted {
					failed++
					if c := cli.HandleRunError(res.Err); code == cli.ExitOK {
						code = c
					}
				}
			}
			fmt.Printf("\n%d of %d registered\n", len(results)-failed, len(results))
			if code != cli.ExitOK {
				return &exitError{code: code, err: fmt.Errorf("%d of %d registrations failed", failed, len(results))}
			}
			return nil
		},
	}
	cmd.Flags().Int("parallel", config.Defaults().Parallel, "Browsers open at once")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Never show the login dialog")
	return cmd
}

// stageEntry returns the local session directory for e, downloading the
// batch from S3 into staging when the entry names an s3_prefix.
func stageEntry(ctx context.Context, eng *engine, m *manifest.Manifest, e *manifest.Entry, staging string) (string, error) {
	if e.S3Prefix == "" {
		return e.SessionDir(m.BaseDir), nil
	}
	if eng.s3 == nil {
		return "", fmt.Errorf("entry %q has s3_prefix but no bucket is configured", e.Place)
	}
	keep := func(name string) bool {
		return filehandler.IsBatchFile(name) || name == e.MainImage || slices.Contains(e.AssociatedImages, name)
	}
	paths, err := s3util.DownloadPrefix(ctx, eng.s3, eng.cfg.AWS.Bucket, e.S3Prefix, staging, keep)
	if err != nil {
		return "", err
	}
	log.Debug().Str("prefix", e.S3Prefix).Int("files", len(paths)).Msg("Batch downloaded")
	return staging, nil
}
