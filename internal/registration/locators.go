package registration

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/fpang/fc-registrar/internal/browser"
)

// DefaultBaseURL is the FC location database.
const DefaultBaseURL = "https://fc.jl-db.jp"

// Locators is the one table of everything the workflow knows about the
// site's markup. A markup change on the site is a change here and nowhere
// else; every field can be overridden from configuration.
type Locators struct {
	LoginPath   string          `mapstructure:"login_path"`
	LoginID     browser.Locator `mapstructure:"login_id"`
	Password    browser.Locator `mapstructure:"password"`
	LoginSubmit browser.Locator `mapstructure:"login_submit"`

	EntryPath  string          `mapstructure:"entry_path"`
	FormMarker browser.Locator `mapstructure:"form_marker"`

	UploadOpen        browser.Locator `mapstructure:"upload_open"`
	UploadModal       browser.Locator `mapstructure:"upload_modal"`
	FileInput         browser.Locator `mapstructure:"file_input"`
	UploadItems       browser.Locator `mapstructure:"upload_items"`
	UploadProgress    browser.Locator `mapstructure:"upload_progress"`
	UploadStatus      browser.Locator `mapstructure:"upload_status"`
	UploadClose       browser.Locator `mapstructure:"upload_close"`
	UploadDoneText    string          `mapstructure:"upload_done_text"`
	UploadFailureText string          `mapstructure:"upload_failure_text"`

	Place   browser.Locator `mapstructure:"place"`
	Reading browser.Locator `mapstructure:"reading"`
	Address browser.Locator `mapstructure:"address"`

	GeocodeButton browser.Locator `mapstructure:"geocode_button"`
	Latitude      browser.Locator `mapstructure:"latitude"`
	Longitude     browser.Locator `mapstructure:"longitude"`

	Description browser.Locator `mapstructure:"description"`

	Visibility       browser.Locator `mapstructure:"visibility"`
	UnpublishedValue string          `mapstructure:"unpublished_value"`

	MainImageButton       browser.Locator `mapstructure:"main_image_button"`
	AssociatedImageButton browser.Locator `mapstructure:"associated_image_button"`
	PickerModal           browser.Locator `mapstructure:"picker_modal"`
	PickerEntries         browser.Locator `mapstructure:"picker_entries"`
	PickerSelect          browser.Locator `mapstructure:"picker_select"`
	PickerClose           browser.Locator `mapstructure:"picker_close"`
	PickerSearch          browser.Locator `mapstructure:"picker_search"`
	PickerSearchButton    browser.Locator `mapstructure:"picker_search_button"`

	CategoryButton     browser.Locator `mapstructure:"category_button"`
	CategoryCheckboxes browser.Locator `mapstructure:"category_checkboxes"`
	CategoryID         string          `mapstructure:"category_id"`

	SaveButton    browser.Locator `mapstructure:"save_button"`
	SuccessBanner browser.Locator `mapstructure:"success_banner"`
}

// DefaultLocators returns the table for the current site markup.
func DefaultLocators() Locators {
	return Locators{
		LoginPath:   "/login.php",
		LoginID:     browser.Name("login_id"),
		Password:    browser.Name("password"),
		LoginSubmit: browser.Name("login"),

		EntryPath:  "/location/?mode=detail&id=0",
		FormMarker: browser.Name("name_ja"),

		UploadOpen:        browser.CSS("button[data-toggle='modal'][data-target='#modal-img-add']"),
		UploadModal:       browser.ID("modal-img-add"),
		FileInput:         browser.ID("InputFile"),
		UploadItems:       browser.CSS("#files li.media"),
		UploadProgress:    browser.CSS("#files li.media .progress-bar"),
		UploadStatus:      browser.CSS("#files li.media .status"),
		UploadClose:       browser.CSS("#modal-img-add button[data-dismiss='modal']"),
		UploadDoneText:    "Complete",
		UploadFailureText: "Error",

		Place:   browser.Name("name_ja"),
		Reading: browser.Name("name_kana"),
		Address: browser.Name("place_ja"),

		GeocodeButton: browser.ID("btn-g-search"),
		Latitude:      browser.Name("lat"),
		Longitude:     browser.Name("lng"),

		Description: browser.ID("entry-description-ja"),

		Visibility:       browser.Name("activated"),
		UnpublishedValue: "0",

		MainImageButton:       browser.ID("select-main-img"),
		AssociatedImageButton: browser.ID("select-sub-img"),
		PickerModal:           browser.ID("modal-img-select"),
		PickerEntries:         browser.CSS("#modal-img-select .select-img-box"),
		PickerSelect:          browser.CSS("a.select-img-vw"),
		PickerClose:           browser.CSS("#modal-img-select button[data-dismiss='modal']"),
		PickerSearch:          browser.ID("search-file-name"),
		PickerSearchButton:    browser.ID("search-img"),

		CategoryButton:     browser.ID("select-category-btn"),
		CategoryCheckboxes: browser.CSS("input.category-modal-select"),
		CategoryID:         "133",

		SaveButton:    browser.ID("save-btn"),
		SuccessBanner: browser.CSS(".alert-success"),
	}
}

// URL joins base and a site path.
func URL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

// optionalText lists the text markers that may be left empty to switch
// their check off.
var optionalText = map[string]bool{
	"upload_failure_text": true,
}

// Validate reports the first locator with an unknown strategy or an empty
// value, and any empty path or required text marker.
func (l Locators) Validate() error {
	v := reflect.ValueOf(l)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		key := t.Field(i).Tag.Get("mapstructure")
		switch f := v.Field(i).Interface().(type) {
		case browser.Locator:
			switch f.By {
			case browser.ByName, browser.ByID, browser.ByCSS:
			default:
				return fmt.Errorf("locator %s: unknown strategy %q", key, f.By)
			}
			if strings.TrimSpace(f.Value) == "" {
				return fmt.Errorf("locator %s: empty value", key)
			}
		case string:
			if strings.TrimSpace(f) == "" && !optionalText[key] {
				return fmt.Errorf("locator %s: empty", key)
			}
		}
	}
	return nil
}
