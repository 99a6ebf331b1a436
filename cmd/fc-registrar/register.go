package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fpang/fc-registrar/internal/cli"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRegisterCmd(a *app) *cobra.Command {
	var (
		rf       recordFlags
		noPrompt bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register one place",
		Long: `Register one place from a record file or inline flags.

Every compressed_* .jpg/.jpeg/.png file in the session directory is uploaded
in one batch before the images are selected.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !rf.set() {
				return &exitError{code: cli.ExitInput, err: errors.New("either --record or --place is required")}
			}
			entry, err := rf.entry()
			if err != nil {
				return &exitError{code: cli.ExitInput, err: err}
			}
			dir := entry.Dir
			if dir == "" {
				dir = cli.PromptForDirectory()
			}
			dir = cli.ValidateAndResolveDirectory(dir)

			batch, err := batchRefs(dir)
			if err != nil {
				return &exitError{code: cli.ExitInput, err: err}
			}
			rec := entry.Record(dir)
			creds := cli.InitCredentials(!noPrompt)

			ctx := cmd.Context()
			eng, err := newEngine(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer eng.close()
			eng.logStartup("fc-registrar")

			log.Info().
				Str("place", rec.Place).
				Str("dir", dir).
				Int("images", len(batch)).
				Msg("Starting registration")

			res, runErr := registration.New(rec, batch, creds, eng.options()).Run(ctx)
			if res != nil {
				cli.PrintResult(os.Stdout, res)
			}
			if c, ok := rec.Coordinates(); ok {
				fmt.Printf("  coordinates: %.6f,%.6f\n", c.Latitude, c.Longitude)
			}
			if code := cli.HandleRunError(runErr); code != cli.ExitOK {
				return &exitError{code: code, err: runErr}
			}
			return nil
		},
	}
	rf.add(cmd)
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Never show the login dialog; fail when no stored credentials exist")
	return cmd
}
