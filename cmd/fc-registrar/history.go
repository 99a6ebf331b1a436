package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fpang/fc-registrar/internal/cli"
	"github.com/fpang/fc-registrar/internal/store"
	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		runID  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history PLACE",
		Short: "Show the recorded runs for a place",
		Long: `List the run ledger entries for a place, oldest first, or show one run
in detail with --run. Requires --run-table (or aws.run_table).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.AWS.RunTable == "" {
				return &exitError{code: cli.ExitInput, err: errors.New("no run table configured; set --run-table or aws.run_table")}
			}
			ctx := cmd.Context()
			eng, err := newEngine(ctx, a.cfg)
			if err != nil {
				return err
			}
			defer eng.close()

			place := args[0]
			var runs []*store.RunRecord
			if runID != "" {
				run, err := eng.runs.GetRun(ctx, place, runID)
				if err != nil {
					return err
				}
				if run == nil {
					return &exitError{code: cli.ExitInput, err: fmt.Errorf("no run %s for %s", runID, place)}
				}
				runs = append(runs, run)
			} else if runs, err = eng.runs.ListRuns(ctx, place); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(runs)
			}
			writeHistory(out, runs, runID != "")
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Show one run with its steps")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the records as JSON")
	return cmd
}

func writeHistory(w io.Writer, runs []*store.RunRecord, detail bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tRUN\tSTATE\tIMAGES\tDURATION\tFAILED STEP\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			time.Unix(r.StartedAt, 0).Local().Format("2006-01-02 15:04"),
			r.RunID, r.State, r.Images,
			cli.FormatDurationShort(time.Duration(r.DurationMs)*time.Millisecond),
			dash(r.FailedStep), dash(r.ErrorKind))
	}
	tw.Flush()

	if !detail {
		return
	}
	for _, r := range runs {
		for _, s := range r.Steps {
			fmt.Fprintf(w, "  %-8s %-26s %s\n", s.Status, s.Name, cli.FormatDurationShort(time.Duration(s.DurationMs)*time.Millisecond))
		}
		if r.ErrorMessage != "" {
			fmt.Fprintf(w, "  error: %s\n", r.ErrorMessage)
		}
		for _, m := range r.PageMessages {
			fmt.Fprintf(w, "  page: %s\n", m)
		}
		for _, art := range r.Artifacts {
			fmt.Fprintf(w, "  artifact: %s\n", art)
		}
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
