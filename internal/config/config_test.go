package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// inTempDir isolates the lookup order from the developer's own files.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	return dir
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	inTempDir(t)

	cfg, used, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Empty(t, used)
	assert.Equal(t, registration.DefaultBaseURL, cfg.BaseURL)
	assert.Equal(t, registration.DefaultTiming(), cfg.Timing)
	assert.Equal(t, registration.DefaultLocators(), cfg.Locators)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 1920, cfg.Browser.WindowWidth)
	assert.True(t, cfg.Diagnostics.Enabled)
}

func TestLoad_ProjectFileOverridesOneLocator(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, ".fc-registrar", "config.yaml"), `
timing:
  bounded: 25s
  upload_cap: 5m
locators:
  category_id: "140"
  save_button:
    by: css
    value: "button.btn-save"
`)

	cfg, used, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, ".fc-registrar/config.yaml", used)
	assert.Equal(t, 25*time.Second, cfg.Timing.Bounded)
	assert.Equal(t, 5*time.Minute, cfg.Timing.UploadCap)
	assert.Equal(t, registration.DefaultTiming().PollInterval, cfg.Timing.PollInterval)
	assert.Equal(t, "140", cfg.Locators.CategoryID)
	assert.Equal(t, browser.CSS("button.btn-save"), cfg.Locators.SaveButton)

	// Untouched entries keep their defaults.
	assert.Equal(t, registration.DefaultLocators().LoginID, cfg.Locators.LoginID)
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := inTempDir(t)
	path := filepath.Join(dir, "custom.yaml")
	writeFile(t, path, "base_url: https://staging.example.test\nparallel: 2\n")
	t.Setenv("FC_PARALLEL", "4")
	t.Setenv("FC_BROWSER_HEADLESS", "false")

	cfg, used, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, "https://staging.example.test", cfg.BaseURL)
	assert.Equal(t, 4, cfg.Parallel)
	assert.False(t, cfg.Browser.Headless)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := inTempDir(t)
	writeFile(t, filepath.Join(dir, ".env"), "FC_AWS_BUCKET=fc-artifacts\n")
	t.Cleanup(func() { os.Unsetenv("FC_AWS_BUCKET") })

	cfg, _, err := Load(LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, "fc-artifacts", cfg.AWS.Bucket)
}

func TestLoad_FlagsWin(t *testing.T) {
	inTempDir(t)
	t.Setenv("FC_PARALLEL", "4")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("parallel", 1, "")
	fs.Bool("headless", true, "")
	fs.Bool("no-diagnostics", false, "")
	fs.String("chrome-path", "", "")
	require.NoError(t, fs.Parse([]string{"--parallel=8", "--no-diagnostics", "--chrome-path=/opt/chrome"}))

	cfg, _, err := Load(LoadOptions{Flags: fs})
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Parallel)
	assert.False(t, cfg.Diagnostics.Enabled)
	assert.Equal(t, "/opt/chrome", cfg.Browser.ExecPath)
	assert.True(t, cfg.Browser.Headless)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	inTempDir(t)
	_, _, err := Load(LoadOptions{ConfigFile: "nope.yaml"})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative url", func(c *Config) { c.BaseURL = "fc.jl-db.jp" }, "base_url"},
		{"zero parallel", func(c *Config) { c.Parallel = 0 }, "parallel"},
		{"negative bound", func(c *Config) { c.Timing.Bounded = -time.Second }, "timing.bounded"},
		{"poll too slow", func(c *Config) { c.Timing.PollInterval = time.Hour }, "poll_interval"},
		{"bad exporter", func(c *Config) { c.Tracing.Exporter = "zipkin" }, "tracing.exporter"},
		{"empty locator", func(c *Config) { c.Locators.SaveButton.Value = "" }, "save_button"},
		{"bad strategy", func(c *Config) { c.Locators.Place.By = "xpath" }, "place"},
		{"empty category", func(c *Config) { c.Locators.CategoryID = " " }, "category_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Defaults()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	c := Defaults()
	assert.NoError(t, c.Validate())

	c.Locators.UploadFailureText = ""
	assert.NoError(t, c.Validate(), "an empty upload failure marker disables the check")
}

func TestBrowserOptions(t *testing.T) {
	c := Defaults()
	c.Browser.ExecPath = "/usr/bin/chromium"
	o := c.Browser.Options()
	assert.Equal(t, "/usr/bin/chromium", o.ExecPath)
	assert.Equal(t, browser.DefaultOptions().PageLoadTimeout, o.PageLoadTimeout)
}
