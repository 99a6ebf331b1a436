// Package store keeps the run ledger: one record per registration attempt,
// so an operator can see which places were registered, which failed and at
// which step, without keeping terminal output around.
//
// The DynamoDB table uses a single-table design. All runs for a place share
// a partition key (PLACE#{place}); each run is a sort key RUN#{runId}. A TTL
// attribute (expiresAt) expires records after RunTTL.
package store

import (
	"context"
	"time"

	"github.com/fpang/fc-registrar/internal/registration"
)

// RunTTL is how long ledger records are kept.
const RunTTL = 90 * 24 * time.Hour

// RunStore persists run records. Get methods return (nil, nil) when the
// record does not exist. Put performs full-item replacement.
type RunStore interface {
	PutRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, place, runID string) (*RunRecord, error)
	// ListRuns returns every run recorded for place, oldest first.
	ListRuns(ctx context.Context, place string) ([]*RunRecord, error)
}

// RunRecord is one registration attempt. Place and RunID are derived from
// PK/SK on read.
type RunRecord struct {
	RunID        string      `json:"runId" dynamodbav:"-"`
	Place        string      `json:"place" dynamodbav:"-"`
	State        string      `json:"state" dynamodbav:"state"`
	FailedStep   string      `json:"failedStep,omitempty" dynamodbav:"failedStep,omitempty"`
	ErrorKind    string      `json:"errorKind,omitempty" dynamodbav:"errorKind,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty" dynamodbav:"errorMessage,omitempty"`
	Images       int         `json:"images" dynamodbav:"images"`
	StartedAt    int64       `json:"startedAt" dynamodbav:"startedAt"`
	DurationMs   int64       `json:"durationMs" dynamodbav:"durationMs"`
	Steps        []StepEntry `json:"steps,omitempty" dynamodbav:"steps,omitempty"`
	PageMessages []string    `json:"pageMessages,omitempty" dynamodbav:"pageMessages,omitempty"`
	Artifacts    []string    `json:"artifacts,omitempty" dynamodbav:"artifacts,omitempty"`
}

// StepEntry is the ledger form of a step report.
type StepEntry struct {
	Name       string `json:"name" dynamodbav:"name"`
	Status     string `json:"status" dynamodbav:"status"`
	DurationMs int64  `json:"durationMs" dynamodbav:"durationMs"`
}

// FromResult converts a workflow result into a ledger record.
func FromResult(res *registration.Result) *RunRecord {
	rec := &RunRecord{
		RunID:        res.RunID,
		Place:        res.Place,
		State:        res.State.String(),
		FailedStep:   res.FailedStep,
		Images:       res.Images,
		StartedAt:    res.StartedAt.Unix(),
		DurationMs:   res.Duration.Milliseconds(),
		PageMessages: res.PageMessages,
		Artifacts:    res.Artifacts,
	}
	if res.Err != nil {
		rec.ErrorKind = registration.KindOf(res.Err).Slug()
		rec.ErrorMessage = res.Err.Error()
	}
	for _, s := range res.Steps {
		rec.Steps = append(rec.Steps, StepEntry{
			Name:       s.Name,
			Status:     string(s.Status),
			DurationMs: s.Duration.Milliseconds(),
		})
	}
	return rec
}
