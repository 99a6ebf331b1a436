package registration

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/rs/zerolog"
)

// Step names, in execution order.
const (
	StepAuthenticate           = "authenticate"
	StepOpenEntryForm          = "open-entry-form"
	StepUploadImages           = "upload-images"
	StepFillTextFields         = "fill-text-fields"
	StepTriggerGeocode         = "trigger-geocode"
	StepFillDescription        = "fill-description"
	StepSetVisibility          = "set-visibility"
	StepSelectMainImage        = "select-main-image"
	StepSelectAssociatedImages = "select-associated-images"
	StepSelectCategory         = "select-category"
	StepSave                   = "save"
)

// Env is everything a step may touch. It lives for one run only.
type Env struct {
	Session     browser.Session
	Wait        *Waiter
	Record      *Record
	Batch       []FileRef
	Credentials Credentials
	Locators    Locators
	BaseURL     string
	Log         zerolog.Logger
}

// Step is one unit of the workflow.
type Step interface {
	Name() string
	Run(ctx context.Context, env *Env) Outcome
}

// Conditional is implemented by steps that only apply to some records.
// A step whose ShouldRun reports false is recorded as skipped.
type Conditional interface {
	ShouldRun(env *Env) bool
}

type stepFunc struct {
	name string
	run  func(context.Context, *Env) Outcome
	when func(*Env) bool
}

func (s stepFunc) Name() string                              { return s.name }
func (s stepFunc) Run(ctx context.Context, env *Env) Outcome { return s.run(ctx, env) }
func (s stepFunc) ShouldRun(env *Env) bool                   { return s.when == nil || s.when(env) }

// NewStep adapts a function to a Step.
func NewStep(name string, run func(context.Context, *Env) Outcome) Step {
	return stepFunc{name: name, run: run}
}

// NewConditionalStep is NewStep with a ShouldRun predicate.
func NewConditionalStep(name string, run func(context.Context, *Env) Outcome, when func(*Env) bool) Step {
	return stepFunc{name: name, run: run, when: when}
}

// DefaultSteps returns the registration steps in the order the site
// requires them.
func DefaultSteps() []Step {
	return []Step{
		NewStep(StepAuthenticate, authenticate),
		NewStep(StepOpenEntryForm, openEntryForm),
		NewConditionalStep(StepUploadImages, uploadImages, func(env *Env) bool { return len(env.Batch) > 0 }),
		NewStep(StepFillTextFields, fillTextFields),
		NewStep(StepTriggerGeocode, triggerGeocode),
		NewStep(StepFillDescription, fillDescription),
		NewStep(StepSetVisibility, setVisibility),
		NewConditionalStep(StepSelectMainImage, selectMainImage, func(env *Env) bool { return env.Record.MainImage != nil }),
		NewConditionalStep(StepSelectAssociatedImages, selectAssociatedImages, func(env *Env) bool {
			return len(env.Record.associatedToSelect()) > 0
		}),
		NewStep(StepSelectCategory, selectCategory),
		NewStep(StepSave, save),
	}
}

func authenticate(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	if err := env.Wait.Navigate(ctx, URL(env.BaseURL, l.LoginPath)); err != nil {
		return Fatal(err)
	}
	id, err := env.Wait.Element(ctx, l.LoginID, true, Wait{Name: "login form", OnTimeout: KindElementNotFound})
	if err != nil {
		return Fatal(err)
	}
	if err := typeEl(ctx, env, id, l.LoginID, env.Credentials.LoginID); err != nil {
		return Fatal(err)
	}
	if err := typeInto(ctx, env, l.Password, env.Credentials.Password); err != nil {
		return Fatal(err)
	}
	if err := click(ctx, env, l.LoginSubmit, "login rejected"); err != nil {
		return Fatal(err)
	}
	env.Log.Debug().Str("loginId", env.Credentials.LoginID).Msg("Login submitted")
	return Success()
}

func openEntryForm(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	if err := env.Wait.Navigate(ctx, URL(env.BaseURL, l.EntryPath)); err != nil {
		return Fatal(err)
	}
	_, err := env.Wait.Element(ctx, l.FormMarker, false, Wait{Name: "entry form loaded"})
	return FromError(err)
}

func uploadImages(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	paths := make([]string, 0, len(env.Batch))
	for _, f := range env.Batch {
		p, err := filepath.Abs(f.Path)
		if err != nil {
			return Failf(KindInvalidInput, f.Path, "resolve upload path: %v", err)
		}
		paths = append(paths, p)
	}

	open, err := env.Wait.Element(ctx, l.UploadOpen, true, Wait{Name: "upload button visible"})
	if err != nil {
		return Fatal(err)
	}
	if err := clickEl(ctx, env, open, l.UploadOpen, ""); err != nil {
		return Fatal(err)
	}
	if _, err := env.Wait.Element(ctx, l.UploadModal, true, Wait{Name: "upload modal visible"}); err != nil {
		return Fatal(err)
	}
	input, err := env.Wait.Element(ctx, l.FileInput, false, Wait{Name: "file input present"})
	if err != nil {
		return Fatal(err)
	}
	err = act(ctx, env, "attach files", l.FileInput, "upload rejected", func(ctx context.Context) error {
		return env.Session.UploadFiles(ctx, input, paths)
	})
	if err != nil {
		return Fatal(err)
	}
	env.Log.Info().Int("files", len(paths)).Msg("Upload batch submitted")

	n := len(paths)
	if _, err := env.Wait.Elements(ctx, l.UploadItems, n, Wait{Name: fmt.Sprintf("all %d files listed", n)}); err != nil {
		return Fatal(err)
	}

	err = env.Wait.Await(ctx, func(ctx context.Context) Outcome {
		return uploadsComplete(ctx, env, n)
	}, Wait{
		Name:   fmt.Sprintf("all %d uploads complete", n),
		Target: l.UploadStatus.String(),
		Capped: true,
	})
	if err != nil {
		return Fatal(err)
	}
	env.Log.Info().Int("files", n).Msg("Upload batch complete")

	return FromError(closeModal(ctx, env, l.UploadModal, l.UploadClose))
}

func uploadsComplete(ctx context.Context, env *Env, n int) Outcome {
	l := env.Locators
	statuses, err := env.Session.FindAll(ctx, l.UploadStatus)
	if err != nil {
		return retryOnNotFound(err)
	}
	done := 0
	for i, s := range statuses {
		text, err := env.Session.Text(ctx, s)
		if err != nil {
			return retryOnNotFound(err)
		}
		if l.UploadFailureText != "" && strings.Contains(text, l.UploadFailureText) {
			return Failf(KindUploadIncomplete, l.UploadStatus.String(), "file %d of %d reported %q", i+1, n, strings.TrimSpace(text))
		}
		if strings.Contains(text, l.UploadDoneText) {
			done++
		}
	}

	bars, err := env.Session.FindAll(ctx, l.UploadProgress)
	if err != nil {
		return retryOnNotFound(err)
	}
	full := 0
	for _, b := range bars {
		v, err := env.Session.Attribute(ctx, b, "aria-valuenow")
		if err != nil {
			return retryOnNotFound(err)
		}
		if strings.TrimSpace(v) == "100" {
			full++
		}
	}

	if len(statuses) < n || len(bars) < n || done < len(statuses) || full < len(bars) {
		return Retryable(fmt.Errorf("%d of %d at 100%%, %d of %d complete", full, n, done, n))
	}
	return Success()
}

func fillTextFields(ctx context.Context, env *Env) Outcome {
	l, r := env.Locators, env.Record
	fields := []struct {
		loc   browser.Locator
		value string
	}{
		{l.Place, r.Place},
		{l.Reading, r.Reading},
		{l.Address, r.Address},
	}
	for _, f := range fields {
		if err := typeInto(ctx, env, f.loc, f.value); err != nil {
			return Fatal(err)
		}
	}
	return Success()
}

func triggerGeocode(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	if err := click(ctx, env, l.GeocodeButton, "geocode rejected"); err != nil {
		return Fatal(err)
	}

	var c Coordinates
	err := env.Wait.Await(ctx, func(ctx context.Context) Outcome {
		lat, err := readFloat(ctx, env.Session, l.Latitude)
		if err != nil {
			return retryOnNotFound(err)
		}
		lng, err := readFloat(ctx, env.Session, l.Longitude)
		if err != nil {
			return retryOnNotFound(err)
		}
		c = Coordinates{Latitude: lat, Longitude: lng}
		return Success()
	}, Wait{
		Name:        "coordinates populated",
		Target:      l.Latitude.String(),
		AlertPrefix: "geocode rejected",
	})
	if err != nil {
		return Fatal(err)
	}
	if err := env.Record.setCoordinates(c); err != nil {
		return Failf(KindInternal, l.Latitude.String(), "%v", err)
	}
	env.Log.Info().Float64("lat", c.Latitude).Float64("lng", c.Longitude).Msg("Address geocoded")
	return Success()
}

// readFloat reads a coordinate field. An empty or unparsable value is
// reported as not found so the caller keeps polling.
func readFloat(ctx context.Context, s browser.Session, loc browser.Locator) (float64, error) {
	el, err := s.Find(ctx, loc)
	if err != nil {
		return 0, err
	}
	v, err := s.Attribute(ctx, el, "value")
	if err != nil {
		return 0, err
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, fmt.Errorf("%s is empty: %w", loc, browser.ErrNotFound)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s holds %q: %w", loc, v, browser.ErrNotFound)
	}
	return f, nil
}

func fillDescription(ctx context.Context, env *Env) Outcome {
	return FromError(typeInto(ctx, env, env.Locators.Description, env.Record.Description))
}

func setVisibility(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	sel, err := find(ctx, env, l.Visibility)
	if err != nil {
		return Fatal(err)
	}
	err = act(ctx, env, "select", l.Visibility, "", func(ctx context.Context) error {
		return env.Session.SelectOption(ctx, sel, l.UnpublishedValue)
	})
	if err != nil {
		if KindOf(err) == KindElementNotFound {
			return Fatal(&Error{
				Kind:    KindElementNotFound,
				Target:  l.Visibility.String(),
				Message: fmt.Sprintf("unpublished option %q is not offered", l.UnpublishedValue),
				Err:     errors.Unwrap(err),
			})
		}
		return Fatal(err)
	}
	return Success()
}

func selectMainImage(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	name := env.Record.MainImage.Name()
	if err := openPicker(ctx, env, l.MainImageButton); err != nil {
		return Fatal(err)
	}

	var link browser.Element
	err := env.Wait.Await(ctx, func(ctx context.Context) Outcome {
		entries, err := env.Session.FindAll(ctx, l.PickerEntries)
		if err != nil {
			return retryOnNotFound(err)
		}
		for _, e := range entries {
			text, err := env.Session.Text(ctx, e)
			if err != nil {
				return retryOnNotFound(err)
			}
			if !strings.Contains(text, name) {
				continue
			}
			link, err = env.Session.FindIn(ctx, e, l.PickerSelect)
			if err != nil {
				return retryOnNotFound(err)
			}
			return Success()
		}
		return Retryable(fmt.Errorf("%d entries listed, none labelled %s", len(entries), name))
	}, Wait{
		Name:      "main image " + name + " in picker",
		Target:    l.PickerEntries.String(),
		OnTimeout: KindElementNotFound,
	})
	if err != nil {
		return Fatal(err)
	}
	if err := clickEl(ctx, env, link, l.PickerSelect, ""); err != nil {
		return Fatal(err)
	}
	env.Log.Info().Str("image", name).Msg("Main image selected")
	return FromError(closeModal(ctx, env, l.PickerModal, l.PickerClose))
}

func selectAssociatedImages(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	images := env.Record.associatedToSelect()
	for i, f := range images {
		if err := selectAssociated(ctx, env, f.Name()); err != nil {
			return Fatal(err)
		}
		env.Log.Debug().Int("index", i).Int("total", len(images)).Str("image", f.Name()).Msg("Associated image selected")
	}
	return FromError(closeModal(ctx, env, l.PickerModal, l.PickerClose))
}

// selectAssociated runs one search-and-select cycle. The picker has no
// multi-select, so every image costs a full cycle.
//
// The result list keeps showing the unfiltered library until the search
// returns, so a label match is preferred for a grace period before the
// first entry is taken.
func selectAssociated(ctx context.Context, env *Env, name string) error {
	l := env.Locators
	if err := openPicker(ctx, env, l.AssociatedImageButton); err != nil {
		return err
	}
	search, err := env.Wait.Element(ctx, l.PickerSearch, true, Wait{Name: "picker search field"})
	if err != nil {
		return err
	}
	if err := typeEl(ctx, env, search, l.PickerSearch, name); err != nil {
		return err
	}
	if err := click(ctx, env, l.PickerSearchButton, ""); err != nil {
		return err
	}

	grace := min(env.Wait.Timing.ProbeTimeout, env.Wait.Timing.Bounded/2)
	searched := time.Now()
	var link browser.Element
	err = env.Wait.Await(ctx, func(ctx context.Context) Outcome {
		entries, err := env.Session.FindAll(ctx, l.PickerEntries)
		if err != nil {
			return retryOnNotFound(err)
		}
		if len(entries) == 0 {
			return Retryable(fmt.Errorf("no results for %s", name))
		}
		var pick *browser.Element
		for i, e := range entries {
			text, err := env.Session.Text(ctx, e)
			if err != nil {
				return retryOnNotFound(err)
			}
			if strings.Contains(text, name) {
				pick = &entries[i]
				break
			}
		}
		if pick == nil {
			if time.Since(searched) < grace {
				return Retryable(fmt.Errorf("%d results, none labelled %s yet", len(entries), name))
			}
			env.Log.Warn().Str("image", name).Int("results", len(entries)).
				Msg("No result labelled with the image name, taking the first")
			pick = &entries[0]
		}
		link, err = env.Session.FindIn(ctx, *pick, l.PickerSelect)
		if err != nil {
			return retryOnNotFound(err)
		}
		return Success()
	}, Wait{Name: "search results for " + name, Target: l.PickerEntries.String()})
	if err != nil {
		return err
	}
	if err := clickEl(ctx, env, link, l.PickerSelect, ""); err != nil {
		return err
	}

	// The search field may have been re-rendered by the result list.
	return typeInto(ctx, env, l.PickerSearch, "")
}

func selectCategory(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	btn, err := env.Wait.Element(ctx, l.CategoryButton, true, Wait{Name: "category button visible"})
	if err != nil {
		return Fatal(err)
	}
	if err := clickEl(ctx, env, btn, l.CategoryButton, ""); err != nil {
		return Fatal(err)
	}
	boxes, err := env.Wait.Elements(ctx, l.CategoryCheckboxes, 1, Wait{Name: "category list rendered"})
	if err != nil {
		return Fatal(err)
	}

	pick, picked := boxes[0], ""
	for _, b := range boxes {
		v, err := attribute(ctx, env, b, l.CategoryCheckboxes, "value")
		if err != nil {
			return Fatal(err)
		}
		if v == l.CategoryID {
			pick, picked = b, v
			break
		}
	}
	if picked == "" {
		first, _ := attribute(ctx, env, boxes[0], l.CategoryCheckboxes, "value")
		env.Log.Warn().
			Str("categoryId", l.CategoryID).
			Str("fallback", first).
			Int("offered", len(boxes)).
			Msg("Category fallback: configured category not offered, using first checkbox")
	}
	if err := clickEl(ctx, env, pick, l.CategoryCheckboxes, ""); err != nil {
		return Fatal(err)
	}
	return Success()
}

func save(ctx context.Context, env *Env) Outcome {
	l := env.Locators
	btn, err := env.Wait.Element(ctx, l.SaveButton, true, Wait{Name: "save button visible"})
	if err != nil {
		return Fatal(err)
	}
	if err := clickEl(ctx, env, btn, l.SaveButton, "save rejected"); err != nil {
		return Fatal(err)
	}
	_, err = env.Wait.Element(ctx, l.SuccessBanner, true, Wait{
		Name:        "success banner",
		AlertPrefix: "save rejected",
		OnTimeout:   KindSaveNotConfirmed,
	})
	return FromError(err)
}

// openPicker clicks a button that opens the image picker and waits for
// the picker to show.
func openPicker(ctx context.Context, env *Env, button browser.Locator) error {
	btn, err := env.Wait.Element(ctx, button, true, Wait{Name: "picker button visible"})
	if err != nil {
		return err
	}
	if err := clickEl(ctx, env, btn, button, ""); err != nil {
		return err
	}
	_, err = env.Wait.Element(ctx, env.Locators.PickerModal, true, Wait{Name: "picker visible"})
	return err
}

// closeModal clicks the modal's dismiss button if the modal is still shown.
func closeModal(ctx context.Context, env *Env, modal, closeBtn browser.Locator) error {
	m, err := find(ctx, env, modal)
	if KindOf(err) == KindElementNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	var shown bool
	err = act(ctx, env, "check visibility", modal, "", func(ctx context.Context) (err error) {
		shown, err = env.Session.Visible(ctx, m)
		return err
	})
	if KindOf(err) == KindElementNotFound || (err == nil && !shown) {
		return nil
	}
	if err != nil {
		return err
	}
	return click(ctx, env, closeBtn, "")
}

// act runs one session call against loc outside a wait. A dialog the call
// raises is reported with prefix when one is given.
func act(ctx context.Context, env *Env, what string, loc browser.Locator, prefix string, fn func(context.Context) error) error {
	err := env.Wait.Do(ctx, Wait{Name: what, Target: loc.String(), AlertPrefix: prefix}, fn)
	return failErr(err, loc)
}

func find(ctx context.Context, env *Env, loc browser.Locator) (browser.Element, error) {
	var el browser.Element
	err := act(ctx, env, "find", loc, "", func(ctx context.Context) (err error) {
		el, err = env.Session.Find(ctx, loc)
		return err
	})
	return el, err
}

func click(ctx context.Context, env *Env, loc browser.Locator, prefix string) error {
	el, err := find(ctx, env, loc)
	if err != nil {
		return err
	}
	return clickEl(ctx, env, el, loc, prefix)
}

func clickEl(ctx context.Context, env *Env, el browser.Element, loc browser.Locator, prefix string) error {
	return act(ctx, env, "click", loc, prefix, func(ctx context.Context) error {
		return env.Session.Click(ctx, el)
	})
}

func typeInto(ctx context.Context, env *Env, loc browser.Locator, text string) error {
	el, err := find(ctx, env, loc)
	if err != nil {
		return err
	}
	return typeEl(ctx, env, el, loc, text)
}

func typeEl(ctx context.Context, env *Env, el browser.Element, loc browser.Locator, text string) error {
	return act(ctx, env, "type", loc, "", func(ctx context.Context) error {
		return env.Session.TypeInto(ctx, el, text)
	})
}

func attribute(ctx context.Context, env *Env, el browser.Element, loc browser.Locator, name string) (string, error) {
	var v string
	err := act(ctx, env, "read "+name, loc, "", func(ctx context.Context) (err error) {
		v, err = env.Session.Attribute(ctx, el, name)
		return err
	})
	return v, err
}

// failErr classifies a session error and attaches the locator it hit.
func failErr(err error, loc browser.Locator) error {
	if err == nil {
		return nil
	}
	e := classify(err)
	if e.Target == "" && loc.Value != "" {
		e.Target = loc.String()
	}
	return e
}
