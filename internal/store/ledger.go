package store

import (
	"context"
	"slices"
	"time"

	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/rs/zerolog/log"
)

// Ledger is a registration.Observer that writes every finished run to a
// RunStore. A ledger write failure is logged and never changes the run's
// outcome.
type Ledger struct {
	registration.NoopObserver
	Store   RunStore
	Timeout time.Duration
}

func (l Ledger) OnRunFinished(ctx context.Context, res *registration.Result) {
	if l.Store == nil {
		return
	}
	timeout := l.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	// The run context may already be cancelled; the record is still written.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := l.Store.PutRun(ctx, FromResult(res)); err != nil {
		log.Warn().Err(err).Str("runId", res.RunID).Msg("Failed to write run ledger")
	}
}

func sortByStart(runs []*RunRecord) {
	slices.SortStableFunc(runs, func(a, b *RunRecord) int {
		switch {
		case a.StartedAt < b.StartedAt:
			return -1
		case a.StartedAt > b.StartedAt:
			return 1
		}
		return 0
	})
}
