package registration

import (
	"context"

	"github.com/fpang/fc-registrar/internal/metrics"
	"github.com/rs/zerolog/log"
)

// RunInfo identifies a run to observers.
type RunInfo struct {
	ID     string
	Place  string
	Images int
}

// Observer receives run and step lifecycle callbacks. Implementations must
// be fast; they run on the workflow's goroutine.
type Observer interface {
	OnRunStart(ctx context.Context, run RunInfo)
	OnStepStart(ctx context.Context, run RunInfo, step string, index int)
	// OnStepFinished is called for completed, failed and skipped steps.
	OnStepFinished(ctx context.Context, run RunInfo, report StepReport)
	// OnRunFinished is called once per run, after the browser is closed.
	OnRunFinished(ctx context.Context, res *Result)
}

// NoopObserver ignores every event.
type NoopObserver struct{}

func (NoopObserver) OnRunStart(context.Context, RunInfo)                 {}
func (NoopObserver) OnStepStart(context.Context, RunInfo, string, int)   {}
func (NoopObserver) OnStepFinished(context.Context, RunInfo, StepReport) {}
func (NoopObserver) OnRunFinished(context.Context, *Result)              {}

type compositeObserver []Observer

// NewCompositeObserver fans events out to every non-nil observer.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make(compositeObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	switch len(filtered) {
	case 0:
		return NoopObserver{}
	case 1:
		return filtered[0]
	}
	return filtered
}

func (c compositeObserver) OnRunStart(ctx context.Context, run RunInfo) {
	for _, o := range c {
		o.OnRunStart(ctx, run)
	}
}

func (c compositeObserver) OnStepStart(ctx context.Context, run RunInfo, step string, index int) {
	for _, o := range c {
		o.OnStepStart(ctx, run, step, index)
	}
}

func (c compositeObserver) OnStepFinished(ctx context.Context, run RunInfo, report StepReport) {
	for _, o := range c {
		o.OnStepFinished(ctx, run, report)
	}
}

func (c compositeObserver) OnRunFinished(ctx context.Context, res *Result) {
	for _, o := range c {
		o.OnRunFinished(ctx, res)
	}
}

// LoggingObserver logs the lifecycle through the global zerolog logger.
type LoggingObserver struct{}

func (LoggingObserver) OnRunStart(_ context.Context, run RunInfo) {
	log.Info().
		Str("runId", run.ID).
		Str("place", run.Place).
		Int("images", run.Images).
		Msg("Registration started")
}

func (LoggingObserver) OnStepStart(_ context.Context, run RunInfo, step string, index int) {
	log.Debug().
		Str("runId", run.ID).
		Str("step", step).
		Int("index", index).
		Msg("Step started")
}

func (LoggingObserver) OnStepFinished(_ context.Context, run RunInfo, r StepReport) {
	ev := log.Debug()
	switch r.Status {
	case StepFailed:
		ev = log.Error().Err(r.Err)
	case StepCompleted:
		ev = log.Info()
	}
	ev.Str("runId", run.ID).
		Str("step", r.Name).
		Str("status", string(r.Status)).
		Dur("duration", r.Duration).
		Msg("Step finished")
}

func (LoggingObserver) OnRunFinished(_ context.Context, res *Result) {
	if res.State == StateCompleted {
		log.Info().
			Str("runId", res.RunID).
			Str("place", res.Place).
			Dur("duration", res.Duration).
			Msg("Registration completed")
		return
	}
	log.Error().
		Err(res.Err).
		Str("runId", res.RunID).
		Str("place", res.Place).
		Str("step", res.FailedStep).
		Str("kind", KindOf(res.Err).Slug()).
		Strs("pageMessages", res.PageMessages).
		Dur("duration", res.Duration).
		Msg("Registration failed")
}

// MetricsObserver emits one EMF document per step and one per run.
type MetricsObserver struct {
	NoopObserver
	Namespace string
	// New builds a recorder. Defaults to metrics.New.
	New func(namespace string) *metrics.Recorder
}

func (m MetricsObserver) recorder() *metrics.Recorder {
	ns := m.Namespace
	if ns == "" {
		ns = "FcRegistrar"
	}
	if m.New != nil {
		return m.New(ns)
	}
	return metrics.New(ns)
}

func (m MetricsObserver) OnStepFinished(_ context.Context, run RunInfo, r StepReport) {
	if r.Status == StepSkipped {
		return
	}
	m.recorder().
		Dimension("Step", r.Name).
		Dimension("Status", string(r.Status)).
		Metric("StepLatencyMs", float64(r.Duration.Milliseconds()), metrics.UnitMilliseconds).
		Property("runId", run.ID).
		Flush()
}

func (m MetricsObserver) OnRunFinished(_ context.Context, res *Result) {
	rec := m.recorder().
		Dimension("State", res.State.String()).
		Metric("RegistrationMs", float64(res.Duration.Milliseconds()), metrics.UnitMilliseconds).
		Count("Registrations").
		Property("runId", res.RunID).
		Property("place", res.Place)
	if res.Err != nil {
		rec.Property("errorKind", KindOf(res.Err).Slug()).
			Property("failedStep", res.FailedStep)
	}
	rec.Flush()
}
