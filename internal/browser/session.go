// Package browser wraps a live browser automation handle behind a small,
// capability-oriented Session interface.
//
// The registration engine only ever talks to Session. The production
// implementation (Chrome) drives a local Chrome/Chromium over the DevTools
// protocol with chromedp; tests substitute a scripted fake.
//
// Element handles are resolved on demand and must not be trusted across a
// suspension point: the remote page may re-render while the caller waits,
// so callers look elements up again after every wait.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned (wrapped) by every lookup that cannot find its
// target. Use errors.Is to test for it.
var ErrNotFound = errors.New("element not found")

// ErrDialogOpen is returned when a call cannot reach the page because a
// native dialog is showing.
var ErrDialogOpen = errors.New("native dialog open")

// Strategy selects how a Locator's Value is interpreted.
type Strategy string

const (
	ByName Strategy = "name"
	ByID   Strategy = "id"
	ByCSS  Strategy = "css"
)

// Locator identifies one or more elements on the remote page.
type Locator struct {
	By    Strategy `mapstructure:"by" yaml:"by"`
	Value string   `mapstructure:"value" yaml:"value"`
}

// Name returns a locator matching the element's name attribute.
func Name(v string) Locator { return Locator{By: ByName, Value: v} }

// ID returns a locator matching the element's id attribute.
func ID(v string) Locator { return Locator{By: ByID, Value: v} }

// CSS returns a locator for an arbitrary CSS selector.
func CSS(v string) Locator { return Locator{By: ByCSS, Value: v} }

// Selector renders the locator as a CSS selector.
func (l Locator) Selector() string {
	switch l.By {
	case ByName:
		return "[name=" + cssString(l.Value) + "]"
	case ByID:
		return "[id=" + cssString(l.Value) + "]"
	default:
		return l.Value
	}
}

// cssString quotes v as a CSS string. Control characters use the
// hex-escape form, which ends with a space.
func cssString(v string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range v {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(&b, "\\%x ", r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func (l Locator) String() string {
	return string(l.By) + "=" + l.Value
}

// Element is an opaque handle to a resolved element. Ref carries the
// implementation's own node reference.
type Element struct {
	Locator Locator
	Ref     any
}

// Session is one live browser. All operations that target an element
// return an error wrapping ErrNotFound when the element is gone.
type Session interface {
	Navigate(ctx context.Context, url string) error

	// Find returns the first element matching loc.
	Find(ctx context.Context, loc Locator) (Element, error)
	// FindAll returns every element matching loc; an empty slice is not an error.
	FindAll(ctx context.Context, loc Locator) ([]Element, error)
	// FindIn returns the first element matching loc below parent.
	FindIn(ctx context.Context, parent Element, loc Locator) (Element, error)

	// Click scrolls el into view and clicks it with a scripted click.
	Click(ctx context.Context, el Element) error
	// TypeInto clears el and types text into it. An empty text only clears.
	TypeInto(ctx context.Context, el Element, text string) error
	// SelectOption sets a <select> to the option carrying value.
	SelectOption(ctx context.Context, el Element, value string) error
	// UploadFiles injects local file paths into a file input in one batch.
	UploadFiles(ctx context.Context, el Element, paths []string) error

	// Attribute reads an attribute. "value" reads the live form value.
	Attribute(ctx context.Context, el Element, name string) (string, error)
	Text(ctx context.Context, el Element) (string, error)
	Visible(ctx context.Context, el Element) (bool, error)

	// PendingAlert reports the message of an open native dialog, if any.
	PendingAlert(ctx context.Context) (string, bool)
	// DismissAlert dismisses the open native dialog.
	DismissAlert(ctx context.Context) error

	// Close terminates the browser. It is safe to call more than once.
	Close() error
}

// Snapshot is a point-in-time capture of the page, used for failure
// diagnostics.
type Snapshot struct {
	URL        string
	HTML       string
	Screenshot []byte
}

// Snapshotter is implemented by sessions that can capture the page.
type Snapshotter interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// NotFound builds the error returned for a missing element.
func NotFound(loc Locator) error {
	return fmt.Errorf("%s: %w", loc, ErrNotFound)
}
