package registration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/rs/zerolog/log"
)

// Timing holds every duration the engine waits on.
type Timing struct {
	// Bounded is the default limit for element and field waits.
	Bounded time.Duration `mapstructure:"bounded"`
	// UploadCap limits the wait for the whole upload batch to finish.
	UploadCap time.Duration `mapstructure:"upload_cap"`
	// PollInterval is the pause between two probes of a condition.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// ProbeTimeout bounds one probe, and one session call made outside a poll.
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

func DefaultTiming() Timing {
	return Timing{
		Bounded:      40 * time.Second,
		UploadCap:    10 * time.Minute,
		PollInterval: 500 * time.Millisecond,
		ProbeTimeout: 5 * time.Second,
	}
}

func (t Timing) withDefaults() Timing {
	d := DefaultTiming()
	if t.Bounded <= 0 {
		t.Bounded = d.Bounded
	}
	if t.UploadCap <= 0 {
		t.UploadCap = d.UploadCap
	}
	if t.PollInterval <= 0 {
		t.PollInterval = d.PollInterval
	}
	if t.ProbeTimeout <= 0 {
		t.ProbeTimeout = d.ProbeTimeout
	}
	return t
}

// Condition is probed repeatedly by the Waiter. Retryable means "not yet".
type Condition func(ctx context.Context) Outcome

// Wait describes one wait.
type Wait struct {
	// Name describes the awaited condition, e.g. "upload modal visible".
	Name string
	// Target is the locator involved, if any.
	Target string
	// Timeout overrides the Waiter's default for this wait.
	Timeout time.Duration
	// Capped selects the upload cap instead of the bounded default and
	// reports expiry as KindUploadIncomplete.
	Capped bool
	// OnTimeout overrides the Kind reported on expiry. Zero means
	// KindTimeout (KindUploadIncomplete when Capped).
	OnTimeout Kind
	// AlertPrefix is prepended to a captured dialog's text.
	AlertPrefix string
}

func (w Wait) target() string {
	if w.Target != "" {
		return w.Target
	}
	return w.Name
}

// Waiter polls conditions against a Session.
type Waiter struct {
	Session browser.Session
	Timing  Timing
}

func NewWaiter(s browser.Session, t Timing) *Waiter {
	return &Waiter{Session: s, Timing: t.withDefaults()}
}

// Await probes cond every PollInterval until it succeeds, fails fatally,
// the wait's timeout expires or ctx is cancelled. An open native dialog is
// checked before every probe and ends the wait as KindUnexpectedAlert. The
// returned error is an *Error unless cond itself failed fatally with
// something else.
func (w *Waiter) Await(ctx context.Context, cond Condition, spec Wait) error {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = w.Timing.Bounded
		if spec.Capped {
			timeout = w.Timing.UploadCap
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	ticker := time.NewTicker(w.Timing.PollInterval)
	defer ticker.Stop()

	var (
		last   error
		probes int
	)
	for {
		if err := ctx.Err(); err != nil {
			return w.cancelled(spec, err)
		}
		if err := w.checkAlert(ctx, spec); err != nil {
			return err
		}

		probes++
		out := w.probe(ctx, cond)
		switch out.Status {
		case StatusSuccess:
			return nil
		case StatusFatal:
			if ctx.Err() != nil {
				return w.cancelled(spec, ctx.Err())
			}
			// A dialog raised mid-probe makes the page stop answering.
			if err := w.checkAlert(ctx, spec); err != nil {
				return err
			}
			return out.Err
		default:
			last = out.Err
		}

		select {
		case <-ctx.Done():
			return w.cancelled(spec, ctx.Err())
		case <-timer.C:
			if err := w.checkAlert(ctx, spec); err != nil {
				return err
			}
			return w.expired(spec, timeout, probes, last)
		case <-ticker.C:
		}
	}
}

// probe runs cond under the per-probe deadline. A probe that runs out of
// time is retried, not failed.
func (w *Waiter) probe(ctx context.Context, cond Condition) Outcome {
	pctx, cancel := context.WithTimeout(ctx, w.Timing.ProbeTimeout)
	defer cancel()

	out := cond(pctx)
	if out.Status == StatusFatal && pctx.Err() != nil && ctx.Err() == nil {
		return Retryable(fmt.Errorf("probe exceeded %s: %w", w.Timing.ProbeTimeout, out.Err))
	}
	return out
}

// Do runs one session call that is not a poll, such as a click, under
// ProbeTimeout. A page that raised a native dialog stops answering script
// calls, so the dialog is checked before the call and again when it fails.
func (w *Waiter) Do(ctx context.Context, spec Wait, fn func(context.Context) error) error {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = w.Timing.ProbeTimeout
	}
	return w.do(ctx, spec, timeout, fn)
}

// Navigate loads url. The session bounds the page load itself.
func (w *Waiter) Navigate(ctx context.Context, url string) error {
	spec := Wait{Name: "page load", Target: url}
	return w.do(ctx, spec, 0, func(ctx context.Context) error {
		return w.Session.Navigate(ctx, url)
	})
}

// do runs fn with an extra deadline of timeout, or none when timeout is zero.
func (w *Waiter) do(ctx context.Context, spec Wait, timeout time.Duration, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return w.cancelled(spec, err)
	}
	if err := w.checkAlert(ctx, spec); err != nil {
		return err
	}

	actx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	err := fn(actx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return w.cancelled(spec, ctx.Err())
	}
	if aerr := w.checkAlert(ctx, spec); aerr != nil {
		return aerr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		msg := spec.Name + " did not finish"
		if timeout > 0 {
			msg = fmt.Sprintf("%s within %s", msg, timeout)
		}
		kind := spec.OnTimeout
		if kind == KindInternal {
			kind = KindTimeout
		}
		return &Error{Kind: kind, Target: spec.target(), Message: msg, Err: err}
	}
	return err
}

func (w *Waiter) checkAlert(ctx context.Context, spec Wait) error {
	text, open := w.Session.PendingAlert(ctx)
	if !open {
		return nil
	}
	msg := text
	if spec.AlertPrefix != "" {
		msg = spec.AlertPrefix + ": " + text
	}
	e := &Error{Kind: KindUnexpectedAlert, Target: spec.target(), Message: msg}
	if err := w.Session.DismissAlert(ctx); err != nil {
		log.Warn().Err(err).Str("alert", text).Msg("Failed to dismiss browser dialog")
		e.Err = err
	}
	return e
}

func (w *Waiter) cancelled(spec Wait, err error) error {
	return &Error{Kind: KindCancelled, Target: spec.target(), Message: "while waiting for " + spec.Name, Err: err}
}

func (w *Waiter) expired(spec Wait, timeout time.Duration, probes int, last error) error {
	kind := spec.OnTimeout
	if kind == KindInternal {
		kind = KindTimeout
		if spec.Capped {
			kind = KindUploadIncomplete
		}
	}
	return &Error{
		Kind:    kind,
		Target:  spec.target(),
		Message: fmt.Sprintf("%s not reached within %s (%d probes)", spec.Name, timeout, probes),
		Err:     last,
	}
}

// Element waits for loc to be present, and visible when visible is set,
// then returns a freshly resolved handle.
func (w *Waiter) Element(ctx context.Context, loc browser.Locator, visible bool, spec Wait) (browser.Element, error) {
	var el browser.Element
	spec.Target = loc.String()
	if spec.Name == "" {
		spec.Name = "element present"
		if visible {
			spec.Name = "element visible"
		}
	}
	err := w.Await(ctx, func(ctx context.Context) Outcome {
		found, err := w.Session.Find(ctx, loc)
		if err != nil {
			return retryOnNotFound(err)
		}
		if visible {
			ok, err := w.Session.Visible(ctx, found)
			if err != nil {
				return retryOnNotFound(err)
			}
			if !ok {
				return Retryable(errors.New("present but hidden"))
			}
		}
		el = found
		return Success()
	}, spec)
	return el, err
}

// Elements waits until at least atLeast elements match loc.
func (w *Waiter) Elements(ctx context.Context, loc browser.Locator, atLeast int, spec Wait) ([]browser.Element, error) {
	var els []browser.Element
	spec.Target = loc.String()
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("at least %d matching elements", atLeast)
	}
	err := w.Await(ctx, func(ctx context.Context) Outcome {
		found, err := w.Session.FindAll(ctx, loc)
		if err != nil {
			return retryOnNotFound(err)
		}
		if len(found) < atLeast {
			return Retryable(fmt.Errorf("%d of %d present", len(found), atLeast))
		}
		els = found
		return Success()
	}, spec)
	return els, err
}

// retryOnNotFound keeps polling through a missing or detached element and
// gives up on anything else.
func retryOnNotFound(err error) Outcome {
	if errors.Is(err, browser.ErrNotFound) {
		return Retryable(err)
	}
	return Fatal(err)
}
