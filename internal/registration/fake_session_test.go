package registration

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fpang/fc-registrar/internal/browser"
)

// fakeEl is one element of the scripted page.
type fakeEl struct {
	attrs    map[string]string
	text     string
	hidden   bool
	options  []string
	children map[string]*fakeEl
}

func el(kv ...string) *fakeEl {
	e := &fakeEl{attrs: map[string]string{}}
	for i := 0; i+1 < len(kv); i += 2 {
		e.attrs[kv[i]] = kv[i+1]
	}
	return e
}

func textEl(text string) *fakeEl {
	e := el()
	e.text = text
	return e
}

func hiddenEl() *fakeEl {
	e := el()
	e.hidden = true
	return e
}

func (e *fakeEl) withChild(loc browser.Locator, c *fakeEl) *fakeEl {
	if e.children == nil {
		e.children = map[string]*fakeEl{}
	}
	e.children[loc.String()] = c
	return e
}

// fakeSession is a scripted in-memory browser. Elements are keyed by the
// locator's String form; hooks run under the session lock and must only use
// the unexported helpers.
type fakeSession struct {
	mu sync.Mutex

	els      map[string][]*fakeEl
	findErr  map[string]error
	panicOn  map[string]bool
	onClick  map[string]func()
	onUpload func(paths []string)

	calls    []string
	typed    map[string][]string
	selected []string
	uploaded []string

	alertText string
	alertOpen bool
	dismissed int
	closes    int
}

var _ browser.Session = (*fakeSession)(nil)

func newFakeSession() *fakeSession {
	return &fakeSession{
		els:     map[string][]*fakeEl{},
		findErr: map[string]error{},
		panicOn: map[string]bool{},
		onClick: map[string]func(){},
		typed:   map[string][]string{},
	}
}

func (s *fakeSession) put(loc browser.Locator, els ...*fakeEl) {
	s.els[loc.String()] = els
}

func (s *fakeSession) add(loc browser.Locator, e *fakeEl) {
	s.els[loc.String()] = append(s.els[loc.String()], e)
}

func (s *fakeSession) first(loc browser.Locator) *fakeEl {
	s.mu.Lock()
	defer s.mu.Unlock()
	if els := s.els[loc.String()]; len(els) > 0 {
		return els[0]
	}
	return nil
}

func (s *fakeSession) failFind(loc browser.Locator, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findErr[loc.String()] = err
}

func (s *fakeSession) hook(loc browser.Locator, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClick[loc.String()] = fn
}

func (s *fakeSession) clicks(loc browser.Locator) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c == "click "+loc.String() {
			n++
		}
	}
	return n
}

func (s *fakeSession) typedInto(loc browser.Locator) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.typed[loc.String()])
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSession) touched(loc browser.Locator) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if strings.HasSuffix(c, " "+loc.String()) {
			return true
		}
	}
	return false
}

func (s *fakeSession) resolve(ctx context.Context, e browser.Element) (*fakeEl, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fe, ok := e.Ref.(*fakeEl)
	if !ok || fe == nil {
		return nil, browser.NotFound(e.Locator)
	}
	return fe, nil
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "navigate "+url)
	return nil
}

func (s *fakeSession) Find(ctx context.Context, loc browser.Locator) (browser.Element, error) {
	els, err := s.FindAll(ctx, loc)
	if err != nil {
		return browser.Element{}, err
	}
	if len(els) == 0 {
		return browser.Element{}, browser.NotFound(loc)
	}
	return els[0], nil
}

func (s *fakeSession) FindAll(ctx context.Context, loc browser.Locator) ([]browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := loc.String()
	if s.panicOn[key] {
		panic("fake session: lookup of " + key)
	}
	if err := s.findErr[key]; err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	out := make([]browser.Element, 0, len(s.els[key]))
	for _, e := range s.els[key] {
		out = append(out, browser.Element{Locator: loc, Ref: e})
	}
	return out, nil
}

func (s *fakeSession) FindIn(ctx context.Context, parent browser.Element, loc browser.Locator) (browser.Element, error) {
	p, err := s.resolve(ctx, parent)
	if err != nil {
		return browser.Element{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := p.children[loc.String()]
	if !ok {
		return browser.Element{}, browser.NotFound(loc)
	}
	return browser.Element{Locator: loc, Ref: c}, nil
}

func (s *fakeSession) Click(ctx context.Context, e browser.Element) error {
	fe, err := s.resolve(ctx, e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.Locator.String()
	s.calls = append(s.calls, "click "+key)
	if img := fe.attrs["image"]; img != "" {
		s.selected = append(s.selected, img)
	}
	if h := s.onClick[key]; h != nil {
		h()
	}
	return nil
}

func (s *fakeSession) TypeInto(ctx context.Context, e browser.Element, text string) error {
	fe, err := s.resolve(ctx, e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := e.Locator.String()
	s.calls = append(s.calls, "type "+key)
	s.typed[key] = append(s.typed[key], text)
	fe.attrs["value"] = text
	return nil
}

func (s *fakeSession) SelectOption(ctx context.Context, e browser.Element, value string) error {
	fe, err := s.resolve(ctx, e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "select "+e.Locator.String())
	if !slices.Contains(fe.options, value) {
		return fmt.Errorf("option %q: %w", value, browser.ErrNotFound)
	}
	fe.attrs["value"] = value
	return nil
}

func (s *fakeSession) UploadFiles(ctx context.Context, e browser.Element, paths []string) error {
	if _, err := s.resolve(ctx, e); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "upload "+e.Locator.String())
	s.uploaded = slices.Clone(paths)
	if s.onUpload != nil {
		s.onUpload(paths)
	}
	return nil
}

func (s *fakeSession) Attribute(ctx context.Context, e browser.Element, name string) (string, error) {
	fe, err := s.resolve(ctx, e)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fe.attrs[name], nil
}

func (s *fakeSession) Text(ctx context.Context, e browser.Element) (string, error) {
	fe, err := s.resolve(ctx, e)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fe.text, nil
}

func (s *fakeSession) Visible(ctx context.Context, e browser.Element) (bool, error) {
	fe, err := s.resolve(ctx, e)
	if err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !fe.hidden, nil
}

func (s *fakeSession) PendingAlert(context.Context) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alertText, s.alertOpen
}

func (s *fakeSession) DismissAlert(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alertText, s.alertOpen = "", false
	s.dismissed++
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

// fakeSite is a fakeSession scripted to behave like the registration site.
type fakeSite struct {
	*fakeSession
	l Locators

	// Knobs read when the matching hook fires.
	uploadProgress string
	uploadStatus   string
	geocodeAlert   string
	saveConfirms   bool
}

func newFakeSite(library ...string) *fakeSite {
	l := DefaultLocators()
	s := &fakeSite{
		fakeSession:    newFakeSession(),
		l:              l,
		uploadProgress: "100",
		uploadStatus:   "Upload Complete",
		saveConfirms:   true,
	}

	s.put(l.LoginID, el())
	s.put(l.Password, el())
	s.put(l.LoginSubmit, el())
	s.put(l.FormMarker, el())
	s.put(l.Reading, el())
	s.put(l.Address, el())
	s.put(l.Description, el())

	uploadModal := hiddenEl()
	s.put(l.UploadOpen, el())
	s.put(l.UploadModal, uploadModal)
	s.put(l.FileInput, el())
	s.put(l.UploadClose, el())
	s.onClick[l.UploadOpen.String()] = func() { uploadModal.hidden = false }
	s.onClick[l.UploadClose.String()] = func() { uploadModal.hidden = true }
	s.onUpload = func(paths []string) {
		for range paths {
			s.add(l.UploadItems, el())
			s.add(l.UploadProgress, el("aria-valuenow", s.uploadProgress))
			s.add(l.UploadStatus, textEl(s.uploadStatus))
		}
	}

	lat, lng := el("value", ""), el("value", "")
	s.put(l.GeocodeButton, el())
	s.put(l.Latitude, lat)
	s.put(l.Longitude, lng)
	s.onClick[l.GeocodeButton.String()] = func() {
		if s.geocodeAlert != "" {
			s.alertText, s.alertOpen = s.geocodeAlert, true
			return
		}
		lat.attrs["value"] = "36.7382"
		lng.attrs["value"] = "139.5039"
	}

	s.put(l.Visibility, &fakeEl{attrs: map[string]string{"value": "1"}, options: []string{"1", "0"}})

	picker := hiddenEl()
	s.put(l.PickerModal, picker)
	s.put(l.MainImageButton, el())
	s.put(l.AssociatedImageButton, el())
	s.put(l.PickerSearch, el())
	s.put(l.PickerSearchButton, el())
	s.put(l.PickerClose, el())
	s.onClick[l.MainImageButton.String()] = func() { picker.hidden = false }
	s.onClick[l.AssociatedImageButton.String()] = func() { picker.hidden = false }
	s.onClick[l.PickerClose.String()] = func() { picker.hidden = true }
	for _, name := range library {
		entry := textEl(name + "\n1.2MB")
		entry.withChild(l.PickerSelect, el("image", name))
		s.add(l.PickerEntries, entry)
	}

	s.put(l.CategoryButton, el())
	s.put(l.CategoryCheckboxes, el("value", "120"), el("value", "133"), el("value", "140"))

	s.put(l.SaveButton, el())
	s.onClick[l.SaveButton.String()] = func() {
		if s.saveConfirms {
			s.put(l.SuccessBanner, el())
		}
	}
	return s
}

// fastTiming keeps every wait in the tests well under a second.
var fastTiming = Timing{
	Bounded:      60 * time.Millisecond,
	UploadCap:    150 * time.Millisecond,
	PollInterval: 5 * time.Millisecond,
	ProbeTimeout: 50 * time.Millisecond,
}
