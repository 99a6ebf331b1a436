package main

import (
	"os"

	"github.com/fpang/fc-registrar/internal/config"
	"github.com/fpang/fc-registrar/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// app is the state shared by the subcommands once the root has resolved
// the configuration.
type app struct {
	configFile string
	envFile    string
	logLevel   string

	cfg     *config.Config
	cfgUsed string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	defaults := config.Defaults()

	cmd := &cobra.Command{
		Use:   "fc-registrar",
		Short: "Register places on fc.jl-db.jp through a browser",
		Long: `fc-registrar fills in the fc.jl-db.jp location form the way an operator
would: it logs in, uploads the session's compressed_* images, lets the site
geocode the address, picks the main and associated images, and saves.

Configuration comes from built-in defaults, then a YAML config file, then
FC_* environment variables (a .env file is loaded first), then flags.

Examples:
  fc-registrar register --record kegon.yaml
  fc-registrar register --place 華厳の滝 --address 栃木県日光市中宮祠 -d ./kegon
  fc-registrar batch trip.yaml --parallel 2
  fc-registrar plan trip.yaml --near 36.7382,139.5039
  fc-registrar history 華厳の滝 --run-table fc-runs`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := a.logLevel
			if level == "" {
				level = os.Getenv("FC_LOG_LEVEL")
			}
			logging.InitTo(os.Stderr, level, os.Getenv("FC_LOG_FORMAT"))

			cfg, used, err := config.Load(config.LoadOptions{
				ConfigFile: a.configFile,
				EnvFile:    a.envFile,
				Flags:      cmd.Flags(),
			})
			if err != nil {
				return err
			}
			a.cfg, a.cfgUsed = cfg, used
			if used != "" {
				log.Debug().Str("file", used).Msg("Using config file")
			}
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "Config file (default .fc-registrar/config.yaml, then ~/.config/fc-registrar/config.yaml)")
	pf.StringVar(&a.envFile, "env-file", "", "Environment file loaded before FC_* variables are read (default .env)")
	pf.StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn, error (default from FC_LOG_LEVEL, else info)")
	pf.String("base-url", defaults.BaseURL, "Site root URL")
	pf.Bool("headless", defaults.Browser.Headless, "Run Chrome without a window")
	pf.String("chrome-path", defaults.Browser.ExecPath, "Chrome executable (default: found on PATH)")
	pf.String("diagnostics-dir", defaults.Diagnostics.Dir, "Where failure snapshots are written")
	pf.Bool("no-diagnostics", false, "Do not capture page snapshots on failure")
	pf.String("bucket", defaults.AWS.Bucket, "S3 bucket for image batches and diagnostics")
	pf.String("run-table", defaults.AWS.RunTable, "DynamoDB table for the run ledger")
	pf.String("trace", defaults.Tracing.Exporter, "Span exporter: none or stdout")
	pf.Bool("metrics", defaults.Metrics.Enabled, "Emit CloudWatch EMF metrics on stderr")

	cmd.AddCommand(
		newRegisterCmd(a),
		newBatchCmd(a),
		newPlanCmd(a),
		newHistoryCmd(a),
	)
	return cmd
}
