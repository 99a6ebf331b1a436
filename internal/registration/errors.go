package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fpang/fc-registrar/internal/browser"
)

// Kind categorizes a registration failure.
type Kind int

const (
	// KindInternal indicates an unexpected failure inside the engine, such as
	// a recovered panic.
	KindInternal Kind = iota
	// KindElementNotFound indicates a control the workflow depends on is
	// missing from the page. Usually means the site markup changed.
	KindElementNotFound
	// KindTimeout indicates a bounded wait expired.
	KindTimeout
	// KindUploadIncomplete indicates the upload batch did not finish within
	// the cap, or a file reported a failed status.
	KindUploadIncomplete
	// KindUnexpectedAlert indicates the site raised a native dialog.
	KindUnexpectedAlert
	// KindSaveNotConfirmed indicates the success banner never appeared.
	KindSaveNotConfirmed
	// KindCancelled indicates the caller cancelled the run.
	KindCancelled
	// KindInvalidInput indicates the record was rejected before a browser
	// was started.
	KindInvalidInput
	// KindSession indicates the browser could not be started or a driver
	// call failed outright.
	KindSession
)

var kindNames = map[Kind]string{
	KindInternal:         "internal error",
	KindElementNotFound:  "element not found",
	KindTimeout:          "timeout",
	KindUploadIncomplete: "upload incomplete",
	KindUnexpectedAlert:  "unexpected alert",
	KindSaveNotConfirmed: "save not confirmed",
	KindCancelled:        "cancelled",
	KindInvalidInput:     "invalid input",
	KindSession:          "browser session error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Slug is the metric/ledger friendly form of the kind, e.g. "upload_incomplete".
func (k Kind) Slug() string {
	return strings.ReplaceAll(k.String(), " ", "_")
}

// Error is the single failure type produced by a registration run. Step
// names the step that failed and Target the locator or wait condition it
// was working on; both are rendered by Error so the message can be shown
// to an operator verbatim.
type Error struct {
	Kind    Kind
	Step    string
	Target  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Step != "" {
		b.WriteString("step ")
		b.WriteString(e.Step)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Target != "" {
		b.WriteString(" [")
		b.WriteString(e.Target)
		b.WriteString("]")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrAlreadyRun is returned by Workflow.Run on every call after the first.
var ErrAlreadyRun = errors.New("workflow has already been run")

// KindOf returns the Kind of err, or KindInternal when err is not (and
// does not wrap) an *Error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindInternal
}

func newError(kind Kind, target, format string, args ...any) *Error {
	return &Error{Kind: kind, Target: target, Message: fmt.Sprintf(format, args...)}
}

// classify turns an arbitrary step error into an *Error, keeping an
// existing classification when there is one.
func classify(err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		// A deadline the caller set is re-tagged as cancelled by stepError.
		return &Error{Kind: KindTimeout, Err: err}
	case errors.Is(err, browser.ErrNotFound):
		return &Error{Kind: KindElementNotFound, Err: err}
	default:
		return &Error{Kind: KindSession, Err: err}
	}
}
