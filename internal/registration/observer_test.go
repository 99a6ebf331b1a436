package registration

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/fpang/fc-registrar/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func emfLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var docs []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var doc map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &doc))
		docs = append(docs, doc)
	}
	return docs
}

func metricsObserverTo(w io.Writer) MetricsObserver {
	return MetricsObserver{
		Namespace: "FcRegistrarTest",
		New:       func(ns string) *metrics.Recorder { return metrics.NewTo(w, ns) },
	}
}

func TestMetricsObserver_StepsAndRun(t *testing.T) {
	var buf bytes.Buffer
	site := newFakeSite(library...)
	wf, _ := newWorkflow(sampleRecord(), nil, site, func(o *Options) {
		o.Observer = metricsObserverTo(&buf)
	})

	res, err := wf.Run(context.Background())
	require.NoError(t, err)

	docs := emfLines(t, &buf)
	// upload-images is skipped for an empty batch and emits nothing.
	require.Len(t, docs, len(DefaultSteps()))

	steps := docs[:len(docs)-1]
	for _, d := range steps {
		assert.Equal(t, "completed", d["Status"])
		assert.Equal(t, res.RunID, d["runId"])
		assert.NotEqual(t, "upload-images", d["Step"])
	}
	run := docs[len(docs)-1]
	assert.Equal(t, "completed", run["State"])
	assert.EqualValues(t, 1, run["Registrations"])
	assert.Equal(t, "華厳の滝", run["place"])
	assert.NotContains(t, run, "errorKind")
}

func TestMetricsObserver_FailureCarriesKind(t *testing.T) {
	var buf bytes.Buffer
	site := newFakeSite(library...)
	site.saveConfirms = false
	wf, _ := newWorkflow(sampleRecord(), sampleBatch(), site, func(o *Options) {
		o.Observer = metricsObserverTo(&buf)
	})

	_, err := wf.Run(context.Background())
	require.Error(t, err)

	docs := emfLines(t, &buf)
	run := docs[len(docs)-1]
	assert.Equal(t, "failed", run["State"])
	assert.Equal(t, "save_not_confirmed", run["errorKind"])
	assert.Equal(t, "save", run["failedStep"])
	assert.Equal(t, "failed", docs[len(docs)-2]["Status"])
}

func TestCompositeObserver_FansOutAndSkipsNil(t *testing.T) {
	a, b := &recordingObserver{}, &recordingObserver{}
	obs := NewCompositeObserver(a, nil, b)

	info := RunInfo{ID: "r1", Place: "p"}
	obs.OnRunStart(context.Background(), info)
	obs.OnStepStart(context.Background(), info, "save", 10)
	obs.OnStepFinished(context.Background(), info, StepReport{Name: "save", Status: StepCompleted})
	obs.OnRunFinished(context.Background(), &Result{RunID: "r1", State: StateCompleted})

	assert.Equal(t, a.events, b.events)
	assert.Len(t, a.events, 4)
}

func TestCompositeObserver_CollapsesTrivialCases(t *testing.T) {
	assert.IsType(t, NoopObserver{}, NewCompositeObserver())
	assert.IsType(t, NoopObserver{}, NewCompositeObserver(nil))
	single := &recordingObserver{}
	assert.Same(t, single, NewCompositeObserver(single))
}

func TestLoggingObserver_DoesNotPanicOnFailure(t *testing.T) {
	site := newFakeSite(library...)
	site.failFind(site.l.SaveButton, browser.ErrNotFound)
	wf, _ := newWorkflow(sampleRecord(), sampleBatch(), site, func(o *Options) {
		o.Observer = LoggingObserver{}
	})
	res, err := wf.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, "save", res.FailedStep)
}
