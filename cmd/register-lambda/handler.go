package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/fpang/fc-registrar/internal/config"
	"github.com/fpang/fc-registrar/internal/diagnostics"
	"github.com/fpang/fc-registrar/internal/filehandler"
	"github.com/fpang/fc-registrar/internal/manifest"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/fpang/fc-registrar/internal/s3util"
	"github.com/fpang/fc-registrar/internal/store"
	"github.com/rs/zerolog/log"
)

// RegisterEvent is the invocation payload: one manifest entry whose
// images live under S3Prefix.
type RegisterEvent struct {
	manifest.Entry
	// Bucket overrides FC_BUCKET_NAME.
	Bucket string `json:"bucket,omitempty"`
}

// RegisterResult is returned to the caller. A failed registration is a
// result with State "failed", not a function error.
type RegisterResult struct {
	RunID        string            `json:"runId"`
	Place        string            `json:"place"`
	State        string            `json:"state"`
	FailedStep   string            `json:"failedStep,omitempty"`
	ErrorKind    string            `json:"errorKind,omitempty"`
	Error        string            `json:"error,omitempty"`
	Latitude     *float64          `json:"latitude,omitempty"`
	Longitude    *float64          `json:"longitude,omitempty"`
	Images       int               `json:"images"`
	DurationMs   int64             `json:"durationMs"`
	Steps        []store.StepEntry `json:"steps"`
	PageMessages []string          `json:"pageMessages,omitempty"`
	// Artifacts are presigned URLs to the failure snapshot.
	Artifacts []string `json:"artifacts,omitempty"`
}

// registrar holds what outlives a single invocation.
type registrar struct {
	cfg         *config.Config
	s3          s3util.API
	presigner   *s3.PresignClient
	bucket      string
	diagPrefix  string
	presignTTL  time.Duration
	workDir     string
	runs        store.RunStore
	credentials func(context.Context) (registration.Credentials, error)
	newSession  registration.SessionFactory
}

var coldStart = true

func (r *registrar) handle(ctx context.Context, event RegisterEvent) (RegisterResult, error) {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "register-lambda").Msg("Cold start: first invocation")
	}

	logger := log.With().Str("place", event.Place).Str("s3Prefix", event.S3Prefix).Logger()

	if err := event.Entry.Validate(); err != nil {
		return RegisterResult{Place: event.Place, State: "failed", ErrorKind: registration.KindInvalidInput.Slug(), Error: err.Error()}, err
	}
	if strings.TrimSpace(event.S3Prefix) == "" {
		err := errors.New("s3Prefix is required")
		return RegisterResult{Place: event.Place, State: "failed", ErrorKind: registration.KindInvalidInput.Slug(), Error: err.Error()}, err
	}
	bucket := r.bucket
	if event.Bucket != "" {
		bucket = event.Bucket
	}

	creds, err := r.credentials(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load site credentials")
		return RegisterResult{Place: event.Place, State: "failed"}, fmt.Errorf("load credentials: %w", err)
	}

	dir, err := os.MkdirTemp(r.workDir, "fc-run-")
	if err != nil {
		return RegisterResult{Place: event.Place, State: "failed"}, fmt.Errorf("create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	keep := func(name string) bool {
		return filehandler.IsBatchFile(name) || name == event.MainImage || slices.Contains(event.AssociatedImages, name)
	}
	if _, err := s3util.DownloadPrefix(ctx, r.s3, bucket, event.S3Prefix, dir, keep); err != nil {
		logger.Error().Err(err).Msg("Failed to download batch")
		return RegisterResult{Place: event.Place, State: "failed"}, err
	}
	paths, err := filehandler.ScanBatch(dir)
	if err != nil {
		return RegisterResult{Place: event.Place, State: "failed"}, err
	}
	batch := make([]registration.FileRef, 0, len(paths))
	for _, p := range paths {
		batch = append(batch, registration.FileRef{Path: p})
	}
	logger.Info().Int("images", len(batch)).Msg("Batch downloaded")

	rec := event.Entry.Record(dir)
	wf := registration.New(rec, batch, creds, r.options(bucket))
	res, runErr := wf.Run(ctx)
	if res == nil {
		return RegisterResult{Place: event.Place, State: "failed"}, runErr
	}

	out := r.result(ctx, res, rec)
	logger.Info().
		Str("runId", out.RunID).
		Str("state", out.State).
		Str("failedStep", out.FailedStep).
		Int64("durationMs", out.DurationMs).
		Msg("Registration finished")
	return out, nil
}

func (r *registrar) options(bucket string) registration.Options {
	observers := []registration.Observer{
		registration.LoggingObserver{},
		registration.MetricsObserver{Namespace: r.cfg.Metrics.Namespace},
	}
	if r.runs != nil {
		observers = append(observers, store.Ledger{Store: r.runs})
	}
	opts := registration.Options{
		BaseURL:         r.cfg.BaseURL,
		Locators:        r.cfg.Locators,
		Timing:          r.cfg.Timing,
		NewSession:      r.newSession,
		Observer:        registration.NewCompositeObserver(observers...),
		DiagnoseTimeout: r.cfg.Diagnostics.Timeout,
	}
	if r.cfg.Diagnostics.Enabled {
		opts.Diagnoser = &diagnostics.Capturer{Sink: diagnostics.S3Sink{
			Client: r.s3,
			Bucket: bucket,
			Prefix: r.diagPrefix,
		}}
	}
	return opts
}

func (r *registrar) result(ctx context.Context, res *registration.Result, rec *registration.Record) RegisterResult {
	ledger := store.FromResult(res)
	out := RegisterResult{
		RunID:        res.RunID,
		Place:        res.Place,
		State:        res.State.String(),
		FailedStep:   res.FailedStep,
		ErrorKind:    ledger.ErrorKind,
		Error:        ledger.ErrorMessage,
		Images:       res.Images,
		DurationMs:   ledger.DurationMs,
		Steps:        ledger.Steps,
		PageMessages: res.PageMessages,
	}
	if c, ok := rec.Coordinates(); ok {
		out.Latitude, out.Longitude = &c.Latitude, &c.Longitude
	}
	for _, loc := range res.Artifacts {
		out.Artifacts = append(out.Artifacts, r.presign(ctx, loc))
	}
	return out
}

// presign turns an s3:// artifact location into a download URL. The
// location is returned unchanged when it cannot be signed.
func (r *registrar) presign(ctx context.Context, loc string) string {
	rest, ok := strings.CutPrefix(loc, "s3://")
	if !ok || r.presigner == nil {
		return loc
	}
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok {
		return loc
	}
	url, err := s3util.GeneratePresignedURL(ctx, r.presigner, bucket, key, r.presignTTL)
	if err != nil {
		log.Warn().Err(err).Str("location", loc).Msg("Failed to presign artifact")
		return loc
	}
	return url
}
