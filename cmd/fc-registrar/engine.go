package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/fpang/fc-registrar/internal/config"
	"github.com/fpang/fc-registrar/internal/diagnostics"
	"github.com/fpang/fc-registrar/internal/logging"
	"github.com/fpang/fc-registrar/internal/metrics"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/fpang/fc-registrar/internal/s3util"
	"github.com/fpang/fc-registrar/internal/store"
	"github.com/fpang/fc-registrar/internal/tracing"
	"github.com/rs/zerolog/log"
)

// engine is everything a run needs besides its record, batch and
// credentials.
type engine struct {
	cfg       *config.Config
	tracer    *tracing.Provider
	observer  registration.Observer
	diagnoser registration.Diagnoser
	runs      store.RunStore
	s3        s3util.API
}

// newEngine wires the observers, diagnostics and optional AWS resources
// from the configuration. Call close when done to flush spans.
func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	e := &engine{cfg: cfg}

	tp, err := tracing.NewProvider(tracing.Config{
		Exporter:    cfg.Tracing.Exporter,
		ServiceName: cfg.Tracing.ServiceName,
		Writer:      os.Stderr,
	})
	if err != nil {
		return nil, err
	}
	e.tracer = tp

	if cfg.AWS.Bucket != "" || cfg.AWS.RunTable != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		if cfg.AWS.Bucket != "" {
			e.s3 = s3.NewFromConfig(awsCfg)
		}
		if cfg.AWS.RunTable != "" {
			e.runs = store.NewDynamoStore(dynamodb.NewFromConfig(awsCfg), cfg.AWS.RunTable)
		}
	}

	observers := []registration.Observer{registration.LoggingObserver{}}
	if cfg.Metrics.Enabled {
		metrics.SetOutput(os.Stderr)
		observers = append(observers, registration.MetricsObserver{Namespace: cfg.Metrics.Namespace})
	}
	if tp.Enabled() {
		observers = append(observers, tracing.NewObserver(tp.Tracer()))
	}
	if e.runs != nil {
		observers = append(observers, store.Ledger{Store: e.runs})
	}
	e.observer = registration.NewCompositeObserver(observers...)

	if cfg.Diagnostics.Enabled {
		var sink diagnostics.Sink = diagnostics.DirSink{Dir: cfg.Diagnostics.Dir}
		if e.s3 != nil && cfg.Diagnostics.S3Prefix != "" {
			sink = diagnostics.S3Sink{Client: e.s3, Bucket: cfg.AWS.Bucket, Prefix: cfg.Diagnostics.S3Prefix}
		}
		e.diagnoser = &diagnostics.Capturer{Sink: sink}
	}
	return e, nil
}

// options builds the workflow options for one run.
func (e *engine) options() registration.Options {
	bopts := e.cfg.Browser.Options()
	return registration.Options{
		BaseURL:  e.cfg.BaseURL,
		Locators: e.cfg.Locators,
		Timing:   e.cfg.Timing,
		NewSession: func(ctx context.Context) (browser.Session, error) {
			c, err := browser.NewChrome(ctx, bopts)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Observer:        e.observer,
		Diagnoser:       e.diagnoser,
		DiagnoseTimeout: e.cfg.Diagnostics.Timeout,
	}
}

func (e *engine) logStartup(name string) {
	c := e.cfg
	logging.NewStartupLogger(name).
		CommitHash(commitHash).
		Browser("headless", strconv.FormatBool(c.Browser.Headless)).
		Browser("execPath", c.Browser.ExecPath).
		Browser("window", fmt.Sprintf("%dx%d", c.Browser.WindowWidth, c.Browser.WindowHeight)).
		S3Bucket("artifacts", c.AWS.Bucket).
		DynamoTable("runs", c.AWS.RunTable).
		Feature("diagnostics", c.Diagnostics.Enabled).
		Feature("metrics", c.Metrics.Enabled).
		Feature("tracing", e.tracer.Enabled()).
		Feature("ledger", e.runs != nil).
		Config("baseUrl", c.BaseURL).
		Config("parallel", strconv.Itoa(c.Parallel)).
		Config("categoryId", c.Locators.CategoryID).
		Log()
}

func (e *engine) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.tracer.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to flush spans")
	}
}
