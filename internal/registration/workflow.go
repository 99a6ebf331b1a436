// Package registration drives the FC location database's entry form: it
// logs in, uploads the image batch, fills the form, lets the site geocode
// the address, attaches images, picks a category and saves, then confirms
// the save from the page itself.
//
// A Workflow owns exactly one browser session for exactly one run. Steps
// run strictly in order; the first failure ends the run and the browser is
// closed on every path out of Run.
package registration

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle of a Workflow.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// StepStatus is the per-step result recorded in a Result.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// StepReport describes one step of a finished run.
type StepReport struct {
	Name     string
	Index    int
	Status   StepStatus
	Duration time.Duration
	Err      error
}

// Result is the terminal report of a run. Err is nil exactly when State is
// StateCompleted.
type Result struct {
	RunID      string
	Place      string
	State      State
	Err        error
	FailedStep string
	Steps      []StepReport
	Images     int
	StartedAt  time.Time
	Duration   time.Duration

	// PageMessages and Artifacts are filled by a Diagnoser after a failure.
	PageMessages []string
	Artifacts    []string
}

// SessionFactory starts the browser for a run.
type SessionFactory func(ctx context.Context) (browser.Session, error)

// Diagnoser inspects the live session after a failed run, before the
// browser is closed. It may annotate res.
type Diagnoser interface {
	Diagnose(ctx context.Context, s browser.Session, res *Result)
}

// Options configures a Workflow. Zero fields take defaults.
type Options struct {
	BaseURL    string
	Locators   Locators
	Timing     Timing
	Steps      []Step
	NewSession SessionFactory
	Observer   Observer
	Diagnoser  Diagnoser
	// DiagnoseTimeout bounds the Diagnoser, which runs even after ctx is
	// cancelled.
	DiagnoseTimeout time.Duration
}

// Workflow is a single registration run. It is not reusable.
type Workflow struct {
	id     string
	record *Record
	batch  []FileRef
	creds  Credentials
	opts   Options

	mu    sync.Mutex
	state State
}

// New prepares a run for record, uploading batch and logging in with creds.
func New(record *Record, batch []FileRef, creds Credentials, opts Options) *Workflow {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Locators.LoginPath == "" {
		opts.Locators = DefaultLocators()
	}
	opts.Timing = opts.Timing.withDefaults()
	if opts.Steps == nil {
		opts.Steps = DefaultSteps()
	}
	if opts.Observer == nil {
		opts.Observer = NoopObserver{}
	}
	if opts.DiagnoseTimeout <= 0 {
		opts.DiagnoseTimeout = 30 * time.Second
	}
	return &Workflow{
		id:     uuid.NewString(),
		record: record,
		batch:  batch,
		creds:  creds,
		opts:   opts,
	}
}

func (w *Workflow) ID() string { return w.id }

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Run executes every step in order. The returned error is the same value
// as Result.Err. A second call returns ErrAlreadyRun and a nil Result.
func (w *Workflow) Run(ctx context.Context) (*Result, error) {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return nil, ErrAlreadyRun
	}
	w.state = StateRunning
	w.mu.Unlock()

	res := &Result{RunID: w.id, Images: len(w.batch), StartedAt: time.Now()}
	if w.record != nil {
		res.Place = w.record.Place
	}
	info := RunInfo{ID: w.id, Place: res.Place, Images: len(w.batch)}
	w.opts.Observer.OnRunStart(ctx, info)

	if err := w.validate(); err != nil {
		return w.finish(ctx, res, err)
	}

	sess, err := w.startSession(ctx)
	if err != nil {
		return w.finish(ctx, res, err)
	}
	var closeOnce sync.Once
	closeSession := func() {
		closeOnce.Do(func() {
			if err := sess.Close(); err != nil {
				log.Warn().Err(err).Str("runId", w.id).Msg("Failed to close browser session")
			}
		})
	}
	defer closeSession()

	env := &Env{
		Session:     sess,
		Wait:        NewWaiter(sess, w.opts.Timing),
		Record:      w.record,
		Batch:       w.batch,
		Credentials: w.creds,
		Locators:    w.opts.Locators,
		BaseURL:     w.opts.BaseURL,
		Log:         log.With().Str("runId", w.id).Str("place", res.Place).Logger(),
	}
	runErr := w.runSteps(ctx, env, res, info)
	if runErr != nil {
		res.Err = runErr
		w.diagnose(ctx, sess, res)
	}
	closeSession()

	return w.finish(ctx, res, runErr)
}

func (w *Workflow) validate() error {
	if err := w.record.Validate(); err != nil {
		return err
	}
	if w.creds.LoginID == "" || w.creds.Password == "" {
		return newError(KindInvalidInput, "credentials", "login id and password are required")
	}
	return nil
}

func (w *Workflow) startSession(ctx context.Context) (s browser.Session, err error) {
	if w.opts.NewSession == nil {
		return nil, newError(KindSession, "", "no browser factory configured")
	}
	defer func() {
		if r := recover(); r != nil {
			s, err = nil, &Error{Kind: KindInternal, Message: fmt.Sprintf("panic starting browser: %v", r)}
		}
	}()
	s, err = w.opts.NewSession(ctx)
	if err != nil {
		return nil, &Error{Kind: KindSession, Message: "start browser", Err: err}
	}
	return s, nil
}

func (w *Workflow) runSteps(ctx context.Context, env *Env, res *Result, info RunInfo) error {
	obs := w.opts.Observer
	for i, step := range w.opts.Steps {
		name := step.Name()
		if c, ok := step.(Conditional); ok && !c.ShouldRun(env) {
			rep := StepReport{Name: name, Index: i, Status: StepSkipped}
			res.Steps = append(res.Steps, rep)
			obs.OnStepFinished(ctx, info, rep)
			continue
		}

		obs.OnStepStart(ctx, info, name, i)
		start := time.Now()
		var out Outcome
		if err := ctx.Err(); err != nil {
			out = Fatal(&Error{Kind: KindCancelled, Message: "cancelled before step started", Err: err})
		} else {
			out = runStep(ctx, step, env)
		}
		rep := StepReport{Name: name, Index: i, Status: StepCompleted, Duration: time.Since(start)}

		if !out.OK() {
			err := stepError(ctx, name, out)
			rep.Status, rep.Err = StepFailed, err
			res.Steps = append(res.Steps, rep)
			obs.OnStepFinished(ctx, info, rep)
			return err
		}
		res.Steps = append(res.Steps, rep)
		obs.OnStepFinished(ctx, info, rep)
	}
	return nil
}

// runStep runs one step, turning a panic into an internal failure.
func runStep(ctx context.Context, step Step, env *Env) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			env.Log.Error().
				Str("step", step.Name()).
				Str("stack", string(debug.Stack())).
				Msgf("Step panicked: %v", r)
			out = Fatal(&Error{Kind: KindInternal, Message: fmt.Sprintf("panic: %v", r)})
		}
	}()
	return step.Run(ctx, env)
}

// stepError classifies a non-success outcome and stamps the step name.
// A Retryable that escapes a step is treated as fatal.
func stepError(ctx context.Context, step string, out Outcome) *Error {
	err := out.Err
	if err == nil {
		err = fmt.Errorf("step ended %s without a reason", out.Status)
	}
	e := classify(err)
	if (e.Kind == KindSession || e.Kind == KindTimeout) && ctx.Err() != nil {
		e.Kind = KindCancelled
	}
	if e.Step == "" {
		e.Step = step
	}
	return e
}

func (w *Workflow) diagnose(ctx context.Context, sess browser.Session, res *Result) {
	if w.opts.Diagnoser == nil {
		return
	}
	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.DiagnoseTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("runId", w.id).Msgf("Diagnoser panicked: %v", r)
		}
	}()
	w.opts.Diagnoser.Diagnose(dctx, sess, res)
}

func (w *Workflow) finish(ctx context.Context, res *Result, err error) (*Result, error) {
	res.Duration = time.Since(res.StartedAt)
	state := StateCompleted
	if err != nil {
		state = StateFailed
		e := classify(err)
		res.Err = e
		res.FailedStep = e.Step
		err = e
	}
	res.State = state

	w.mu.Lock()
	w.state = state
	w.mu.Unlock()

	w.opts.Observer.OnRunFinished(ctx, res)
	if err != nil {
		return res, err
	}
	return res, nil
}

// RunAll runs independent workflows with at most limit browsers open at a
// time. Results are in the order of workflows; a failed run does not stop
// the others.
func RunAll(ctx context.Context, workflows []*Workflow, limit int) []*Result {
	results := make([]*Result, len(workflows))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, wf := range workflows {
		g.Go(func() error {
			res, err := wf.Run(ctx)
			if res == nil {
				res = &Result{RunID: wf.ID(), State: StateFailed, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()
	return results
}
