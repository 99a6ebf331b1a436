package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// Options configures the Chrome process started for one session.
type Options struct {
	// Headless runs Chrome without a window.
	Headless bool
	// ExecPath overrides Chrome discovery. Empty means chromedp's lookup.
	ExecPath string
	// WindowWidth and WindowHeight size the viewport; off-screen layout
	// changes which controls are clickable on the remote site.
	WindowWidth  int
	WindowHeight int
	// PageLoadTimeout bounds a single Navigate call.
	PageLoadTimeout time.Duration
}

// DefaultOptions mirrors the flags the registration site has been
// automated with historically.
func DefaultOptions() Options {
	return Options{
		Headless:        true,
		WindowWidth:     1920,
		WindowHeight:    1080,
		PageLoadTimeout: 60 * time.Second,
	}
}

// Chrome is a Session backed by a chromedp-controlled Chrome process.
type Chrome struct {
	opts Options

	tabCtx      context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc

	mu        sync.Mutex
	alertText string
	alertOpen bool

	closeOnce sync.Once
	closeErr  error
}

var (
	_ Session     = (*Chrome)(nil)
	_ Snapshotter = (*Chrome)(nil)
)

// NewChrome starts a browser and returns a Session bound to its first tab.
// The browser outlives ctx's cancellation; it only stops on Close.
func NewChrome(ctx context.Context, opts Options) (*Chrome, error) {
	if opts.WindowWidth == 0 || opts.WindowHeight == 0 {
		opts.WindowWidth, opts.WindowHeight = 1920, 1080
	}
	if opts.PageLoadTimeout == 0 {
		opts.PageLoadTimeout = 60 * time.Second
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.WindowSize(opts.WindowWidth, opts.WindowHeight),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	log.Debug().
		Bool("headless", opts.Headless).
		Str("execPath", opts.ExecPath).
		Int("width", opts.WindowWidth).
		Int("height", opts.WindowHeight).
		Msg("Starting Chrome")

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			log.Debug().Msgf("chromedp: "+format, args...)
		}),
		chromedp.WithErrorf(func(format string, args ...any) {
			log.Warn().Msgf("chromedp: "+format, args...)
		}),
	)

	c := &Chrome{
		opts:        opts,
		tabCtx:      tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
	}

	// An empty Run launches the browser process and attaches to the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	chromedp.ListenTarget(tabCtx, c.onEvent)
	return c, nil
}

func (c *Chrome) onEvent(ev any) {
	switch e := ev.(type) {
	case *page.EventJavascriptDialogOpening:
		c.mu.Lock()
		c.alertText, c.alertOpen = e.Message, true
		c.mu.Unlock()
		log.Debug().Str("type", string(e.Type)).Str("message", e.Message).Msg("Browser dialog opened")
	case *page.EventJavascriptDialogClosed:
		c.mu.Lock()
		c.alertText, c.alertOpen = "", false
		c.mu.Unlock()
	}
}

// run executes actions on the tab while honouring ctx's cancellation and
// deadline. Cancelling ctx aborts the actions but leaves the tab alive.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Navigate loads url. A page that does not load within PageLoadTimeout
// fails with an error wrapping context.DeadlineExceeded while the caller's
// ctx stays live.
func (c *Chrome) Navigate(ctx context.Context, url string) error {
	loadCtx, cancel := context.WithTimeout(ctx, c.opts.PageLoadTimeout)
	defer cancel()
	log.Debug().Str("url", url).Msg("Navigating")
	err := c.run(loadCtx, chromedp.Navigate(url))
	switch {
	case err == nil:
		return nil
	case ctx.Err() == nil && loadCtx.Err() != nil:
		return fmt.Errorf("navigate %s: page did not load within %s: %w", url, c.opts.PageLoadTimeout, context.DeadlineExceeded)
	default:
		return fmt.Errorf("navigate %s: %w", url, err)
	}
}

func (c *Chrome) Find(ctx context.Context, loc Locator) (Element, error) {
	els, err := c.FindAll(ctx, loc)
	if err != nil {
		return Element{}, err
	}
	if len(els) == 0 {
		return Element{}, NotFound(loc)
	}
	return els[0], nil
}

func (c *Chrome) FindAll(ctx context.Context, loc Locator) ([]Element, error) {
	return c.query(ctx, loc)
}

func (c *Chrome) FindIn(ctx context.Context, parent Element, loc Locator) (Element, error) {
	p, err := nodeOf(parent)
	if err != nil {
		return Element{}, err
	}
	els, err := c.query(ctx, loc, chromedp.FromNode(p))
	if err != nil {
		return Element{}, err
	}
	if len(els) == 0 {
		return Element{}, NotFound(loc)
	}
	return els[0], nil
}

func (c *Chrome) query(ctx context.Context, loc Locator, opts ...chromedp.QueryOption) ([]Element, error) {
	var nodes []*cdp.Node
	opts = append([]chromedp.QueryOption{chromedp.ByQueryAll, chromedp.AtLeast(0)}, opts...)
	if err := c.run(ctx, chromedp.Nodes(loc.Selector(), &nodes, opts...)); err != nil {
		return nil, fmt.Errorf("query %s: %w", loc, err)
	}
	els := make([]Element, 0, len(nodes))
	for _, n := range nodes {
		els = append(els, Element{Locator: loc, Ref: n})
	}
	return els, nil
}

// Click dispatches the click from a timer so the call returns before any
// dialog the page's handler raises.
func (c *Chrome) Click(ctx context.Context, el Element) error {
	const fn = `function() {
		this.scrollIntoView({block: 'center'});
		const target = this;
		setTimeout(() => target.click(), 0);
	}`
	if err := c.callOn(ctx, el, fn, nil); err != nil {
		return fmt.Errorf("click %s: %w", el.Locator, err)
	}
	return nil
}

func (c *Chrome) TypeInto(ctx context.Context, el Element, text string) error {
	const clear = `function() {
		this.scrollIntoView({block: 'center'});
		this.focus();
		this.value = '';
		this.dispatchEvent(new Event('input', {bubbles: true}));
	}`
	if err := c.callOn(ctx, el, clear, nil); err != nil {
		return fmt.Errorf("clear %s: %w", el.Locator, err)
	}
	if text != "" {
		// InsertText goes through the IME path, which keeps kana/kanji intact.
		if err := c.run(ctx, input.InsertText(text)); err != nil {
			return fmt.Errorf("type into %s: %w", el.Locator, err)
		}
	}
	const changed = `function() { this.dispatchEvent(new Event('change', {bubbles: true})); }`
	if err := c.callOn(ctx, el, changed, nil); err != nil {
		return fmt.Errorf("type into %s: %w", el.Locator, err)
	}
	return nil
}

func (c *Chrome) SelectOption(ctx context.Context, el Element, value string) error {
	fn := `function() {
		const v = ` + strconv.Quote(value) + `;
		const opt = Array.from(this.options || []).find(o => o.value === v);
		if (!opt) return false;
		this.scrollIntoView({block: 'center'});
		this.value = v;
		opt.selected = true;
		this.dispatchEvent(new Event('input', {bubbles: true}));
		this.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	}`
	var ok bool
	if err := c.callOn(ctx, el, fn, &ok); err != nil {
		return fmt.Errorf("select %s: %w", el.Locator, err)
	}
	if !ok {
		return fmt.Errorf("select %s option %q: %w", el.Locator, value, ErrNotFound)
	}
	return nil
}

func (c *Chrome) UploadFiles(ctx context.Context, el Element, paths []string) error {
	n, err := nodeOf(el)
	if err != nil {
		return err
	}
	if err := c.run(ctx, dom.SetFileInputFiles(paths).WithBackendNodeID(n.BackendNodeID)); err != nil {
		return fmt.Errorf("upload %d files into %s: %w", len(paths), el.Locator, err)
	}
	return nil
}

func (c *Chrome) Attribute(ctx context.Context, el Element, name string) (string, error) {
	q := strconv.Quote(name)
	fn := `function() {
		if (` + q + ` === 'value') return String(this.value ?? '');
		return this.getAttribute(` + q + `);
	}`
	var v *string
	if err := c.callOn(ctx, el, fn, &v); err != nil {
		return "", fmt.Errorf("read %s of %s: %w", name, el.Locator, err)
	}
	if v == nil {
		return "", nil
	}
	return *v, nil
}

func (c *Chrome) Text(ctx context.Context, el Element) (string, error) {
	const fn = `function() { return this.innerText || this.textContent || ''; }`
	var s string
	if err := c.callOn(ctx, el, fn, &s); err != nil {
		return "", fmt.Errorf("read text of %s: %w", el.Locator, err)
	}
	return s, nil
}

func (c *Chrome) Visible(ctx context.Context, el Element) (bool, error) {
	const fn = `function() {
		const s = window.getComputedStyle(this);
		return s.display !== 'none' && s.visibility !== 'hidden' && this.getClientRects().length > 0;
	}`
	var ok bool
	if err := c.callOn(ctx, el, fn, &ok); err != nil {
		return false, fmt.Errorf("visibility of %s: %w", el.Locator, err)
	}
	return ok, nil
}

func (c *Chrome) PendingAlert(ctx context.Context) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alertText, c.alertOpen
}

func (c *Chrome) DismissAlert(ctx context.Context) error {
	if err := c.run(ctx, page.HandleJavaScriptDialog(false)); err != nil {
		return fmt.Errorf("dismiss dialog: %w", err)
	}
	c.mu.Lock()
	c.alertText, c.alertOpen = "", false
	c.mu.Unlock()
	return nil
}

// Snapshot captures the current URL, document HTML and a full-page
// screenshot. An open dialog blocks page scripts, so it is dismissed first.
func (c *Chrome) Snapshot(ctx context.Context) (*Snapshot, error) {
	if _, open := c.PendingAlert(ctx); open {
		if err := c.DismissAlert(ctx); err != nil {
			return nil, err
		}
	}
	snap := &Snapshot{}
	err := c.run(ctx,
		chromedp.Location(&snap.URL),
		chromedp.OuterHTML("html", &snap.HTML, chromedp.ByQuery),
		chromedp.FullScreenshot(&snap.Screenshot, 80),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

// Close shuts the browser down. Only the first call does any work.
func (c *Chrome) Close() error {
	c.closeOnce.Do(func() {
		start := time.Now()
		c.closeErr = chromedp.Cancel(c.tabCtx)
		c.tabCancel()
		c.allocCancel()
		log.Debug().Dur("elapsed", time.Since(start)).Err(c.closeErr).Msg("Chrome closed")
	})
	return c.closeErr
}

// callOn runs a JavaScript function with `this` bound to el. When out is
// non-nil the JSON return value is decoded into it.
func (c *Chrome) callOn(ctx context.Context, el Element, fn string, out any) error {
	n, err := nodeOf(el)
	if err != nil {
		return err
	}
	// Script calls are not answered while a dialog is showing.
	if text, open := c.PendingAlert(ctx); open {
		return fmt.Errorf("%s: %w: %q", el.Locator, ErrDialogOpen, text)
	}
	return c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithBackendNodeID(n.BackendNodeID).Do(ctx)
		if err != nil {
			// Detached by a re-render; callers re-resolve and retry.
			return fmt.Errorf("%s: %w (%v)", el.Locator, ErrNotFound, err)
		}
		res, exc, err := runtime.CallFunctionOn(fn).
			WithObjectID(obj.ObjectID).
			WithReturnByValue(true).
			Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			msg := exc.Text
			if exc.Exception != nil && exc.Exception.Description != "" {
				msg = exc.Exception.Description
			}
			return fmt.Errorf("script error: %s", msg)
		}
		if out == nil || res == nil || len(res.Value) == 0 {
			return nil
		}
		return json.Unmarshal([]byte(res.Value), out)
	}))
}

func nodeOf(el Element) (*cdp.Node, error) {
	n, ok := el.Ref.(*cdp.Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("%s: stale or foreign element handle: %w", el.Locator, ErrNotFound)
	}
	return n, nil
}
