package tracing

import (
	"context"
	"sync"

	"github.com/fpang/fc-registrar/internal/registration"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrRunID      = "registration.run_id"
	AttrPlace      = "registration.place"
	AttrImages     = "registration.images"
	AttrStep       = "registration.step"
	AttrStepIndex  = "registration.step_index"
	AttrStepStatus = "registration.step_status"
	AttrErrorKind  = "error.type"
	AttrFailedStep = "registration.failed_step"
)

type runSpans struct {
	ctx  context.Context
	run  trace.Span
	step trace.Span
}

// Observer turns workflow callbacks into spans. One Observer may serve
// many concurrent runs.
type Observer struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]*runSpans
}

var _ registration.Observer = (*Observer)(nil)

// NewObserver creates an Observer using tracer.
func NewObserver(tracer trace.Tracer) *Observer {
	return &Observer{tracer: tracer, runs: make(map[string]*runSpans)}
}

func (o *Observer) OnRunStart(ctx context.Context, run registration.RunInfo) {
	ctx, span := o.tracer.Start(ctx, "registration",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrRunID, run.ID),
			attribute.String(AttrPlace, run.Place),
			attribute.Int(AttrImages, run.Images),
		),
	)
	o.mu.Lock()
	o.runs[run.ID] = &runSpans{ctx: ctx, run: span}
	o.mu.Unlock()
}

func (o *Observer) OnStepStart(_ context.Context, run registration.RunInfo, step string, index int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs := o.runs[run.ID]
	if rs == nil {
		return
	}
	_, rs.step = o.tracer.Start(rs.ctx, step, trace.WithAttributes(
		attribute.String(AttrStep, step),
		attribute.Int(AttrStepIndex, index),
	))
}

func (o *Observer) OnStepFinished(_ context.Context, run registration.RunInfo, r registration.StepReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rs := o.runs[run.ID]
	if rs == nil || r.Status == registration.StepSkipped {
		return
	}
	span := rs.step
	rs.step = nil
	if span == nil {
		return
	}
	span.SetAttributes(attribute.String(AttrStepStatus, string(r.Status)))
	if r.Err != nil {
		span.RecordError(r.Err)
		span.SetStatus(codes.Error, r.Err.Error())
		span.SetAttributes(attribute.String(AttrErrorKind, registration.KindOf(r.Err).Slug()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (o *Observer) OnRunFinished(_ context.Context, res *registration.Result) {
	o.mu.Lock()
	rs := o.runs[res.RunID]
	delete(o.runs, res.RunID)
	o.mu.Unlock()
	if rs == nil {
		return
	}
	if rs.step != nil {
		rs.step.End()
	}
	if res.Err != nil {
		rs.run.RecordError(res.Err)
		rs.run.SetStatus(codes.Error, res.Err.Error())
		rs.run.SetAttributes(
			attribute.String(AttrErrorKind, registration.KindOf(res.Err).Slug()),
			attribute.String(AttrFailedStep, res.FailedStep),
		)
	} else {
		rs.run.SetStatus(codes.Ok, "")
	}
	rs.run.End()
}
