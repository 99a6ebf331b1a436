package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func setupTestTracer(t *testing.T) (*Observer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return NewObserver(tp.Tracer("test")), exporter
}

func attr(s tracetest.SpanStub, key string) (attribute.Value, bool) {
	for _, kv := range s.Attributes {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestObserver_SpansPerStep(t *testing.T) {
	obs, exp := setupTestTracer(t)
	ctx := context.Background()
	run := registration.RunInfo{ID: "r1", Place: "華厳の滝", Images: 3}
	stepErr := &registration.Error{Kind: registration.KindUnexpectedAlert, Step: "trigger-geocode", Message: "geocode rejected"}

	obs.OnRunStart(ctx, run)
	obs.OnStepStart(ctx, run, "authenticate", 0)
	obs.OnStepFinished(ctx, run, registration.StepReport{Name: "authenticate", Status: registration.StepCompleted})
	obs.OnStepFinished(ctx, run, registration.StepReport{Name: "upload-images", Index: 2, Status: registration.StepSkipped})
	obs.OnStepStart(ctx, run, "trigger-geocode", 4)
	obs.OnStepFinished(ctx, run, registration.StepReport{Name: "trigger-geocode", Status: registration.StepFailed, Err: stepErr})
	obs.OnRunFinished(ctx, &registration.Result{RunID: "r1", State: registration.StateFailed, Err: stepErr, FailedStep: "trigger-geocode"})

	spans := exp.GetSpans()
	require.Len(t, spans, 3)

	auth, geo, root := spans[0], spans[1], spans[2]
	assert.Equal(t, "authenticate", auth.Name)
	assert.Equal(t, codes.Ok, auth.Status.Code)
	assert.Equal(t, "trigger-geocode", geo.Name)
	assert.Equal(t, codes.Error, geo.Status.Code)
	kind, ok := attr(geo, AttrErrorKind)
	require.True(t, ok)
	assert.Equal(t, "unexpected_alert", kind.AsString())

	assert.Equal(t, "registration", root.Name)
	assert.Equal(t, codes.Error, root.Status.Code)
	assert.Equal(t, root.SpanContext.SpanID(), auth.Parent.SpanID())
	assert.Equal(t, root.SpanContext.TraceID(), geo.SpanContext.TraceID())
	place, _ := attr(root, AttrPlace)
	assert.Equal(t, "華厳の滝", place.AsString())
	failed, _ := attr(root, AttrFailedStep)
	assert.Equal(t, "trigger-geocode", failed.AsString())
}

func TestObserver_ConcurrentRunsAreSeparate(t *testing.T) {
	obs, exp := setupTestTracer(t)
	ctx := context.Background()
	a := registration.RunInfo{ID: "a", Place: "A"}
	b := registration.RunInfo{ID: "b", Place: "B"}

	obs.OnRunStart(ctx, a)
	obs.OnRunStart(ctx, b)
	obs.OnStepStart(ctx, a, "authenticate", 0)
	obs.OnStepStart(ctx, b, "authenticate", 0)
	obs.OnStepFinished(ctx, b, registration.StepReport{Name: "authenticate", Status: registration.StepCompleted})
	obs.OnRunFinished(ctx, &registration.Result{RunID: "b", State: registration.StateCompleted})
	obs.OnStepFinished(ctx, a, registration.StepReport{Name: "authenticate", Status: registration.StepFailed, Err: errors.New("x")})
	obs.OnRunFinished(ctx, &registration.Result{RunID: "a", State: registration.StateFailed, Err: errors.New("x")})

	spans := exp.GetSpans()
	require.Len(t, spans, 4)
	traces := map[string]int{}
	for _, s := range spans {
		traces[s.SpanContext.TraceID().String()]++
	}
	assert.Len(t, traces, 2)
	assert.Empty(t, obs.runs)
}

func TestObserver_UnknownRunIgnored(t *testing.T) {
	obs, exp := setupTestTracer(t)
	ctx := context.Background()
	run := registration.RunInfo{ID: "ghost"}

	obs.OnStepStart(ctx, run, "save", 10)
	obs.OnStepFinished(ctx, run, registration.StepReport{Name: "save"})
	obs.OnRunFinished(ctx, &registration.Result{RunID: "ghost"})
	assert.Empty(t, exp.GetSpans())
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	_, err = NewProvider(Config{Exporter: "jaeger"})
	assert.Error(t, err)

	var buf bytes.Buffer
	p, err = NewProvider(Config{Exporter: "stdout", Writer: &buf})
	require.NoError(t, err)
	assert.True(t, p.Enabled())
	_, span = p.Tracer().Start(context.Background(), "exported")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "exported")
}
