// Package config resolves the runtime configuration: built-in defaults,
// then an optional YAML file, then FC_* environment variables (a .env file
// is loaded first), then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpang/fc-registrar/internal/browser"
	"github.com/fpang/fc-registrar/internal/registration"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	BaseURL     string                `mapstructure:"base_url"`
	Parallel    int                   `mapstructure:"parallel"`
	Browser     BrowserConfig         `mapstructure:"browser"`
	Timing      registration.Timing   `mapstructure:"timing"`
	Locators    registration.Locators `mapstructure:"locators"`
	Diagnostics DiagnosticsConfig     `mapstructure:"diagnostics"`
	AWS         AWSConfig             `mapstructure:"aws"`
	Tracing     TracingConfig         `mapstructure:"tracing"`
	Metrics     MetricsConfig         `mapstructure:"metrics"`
}

// BrowserConfig controls how Chrome is launched.
type BrowserConfig struct {
	Headless        bool          `mapstructure:"headless"`
	ExecPath        string        `mapstructure:"exec_path"`
	WindowWidth     int           `mapstructure:"window_width"`
	WindowHeight    int           `mapstructure:"window_height"`
	PageLoadTimeout time.Duration `mapstructure:"page_load_timeout"`
}

// Options converts the settings for browser.NewChrome.
func (b BrowserConfig) Options() browser.Options {
	return browser.Options{
		Headless:        b.Headless,
		ExecPath:        b.ExecPath,
		WindowWidth:     b.WindowWidth,
		WindowHeight:    b.WindowHeight,
		PageLoadTimeout: b.PageLoadTimeout,
	}
}

// DiagnosticsConfig controls failure capture.
type DiagnosticsConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Dir     string        `mapstructure:"dir"`
	Timeout time.Duration `mapstructure:"timeout"`
	// S3Prefix, when set with aws.bucket, archives artifacts to S3 instead of Dir.
	S3Prefix string `mapstructure:"s3_prefix"`
}

// AWSConfig names the optional AWS resources.
type AWSConfig struct {
	Bucket   string `mapstructure:"bucket"`
	RunTable string `mapstructure:"run_table"`
}

// TracingConfig selects the span exporter.
type TracingConfig struct {
	// Exporter is "none" or "stdout".
	Exporter    string `mapstructure:"exporter"`
	ServiceName string `mapstructure:"service_name"`
}

// MetricsConfig controls EMF emission.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	b := browser.DefaultOptions()
	return Config{
		BaseURL:  registration.DefaultBaseURL,
		Parallel: 1,
		Browser: BrowserConfig{
			Headless:        b.Headless,
			ExecPath:        b.ExecPath,
			WindowWidth:     b.WindowWidth,
			WindowHeight:    b.WindowHeight,
			PageLoadTimeout: b.PageLoadTimeout,
		},
		Timing:   registration.DefaultTiming(),
		Locators: registration.DefaultLocators(),
		Diagnostics: DiagnosticsConfig{
			Enabled: true,
			Dir:     "fc-diagnostics",
			Timeout: 30 * time.Second,
		},
		Tracing: TracingConfig{Exporter: "none", ServiceName: "fc-registrar"},
		Metrics: MetricsConfig{Enabled: false, Namespace: "FcRegistrar"},
	}
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"base-url":        "base_url",
	"parallel":        "parallel",
	"headless":        "browser.headless",
	"chrome-path":     "browser.exec_path",
	"diagnostics-dir": "diagnostics.dir",
	"bucket":          "aws.bucket",
	"run-table":       "aws.run_table",
	"trace":           "tracing.exporter",
	"metrics":         "metrics.enabled",
}

// LoadOptions tells Load where to look.
type LoadOptions struct {
	// ConfigFile is an explicit path; empty means the lookup order.
	ConfigFile string
	// EnvFile defaults to ".env" in the working directory.
	EnvFile string
	Flags   *pflag.FlagSet
}

// Load resolves the configuration. It returns the config file used, or ""
// when none was found.
func Load(opts LoadOptions) (*Config, string, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, "", fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	cfg := Defaults()
	setDefaults(v, cfg)

	v.SetEnvPrefix("FC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, "", fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	used, err := readConfigFile(v, opts.ConfigFile)
	if err != nil {
		return nil, "", err
	}

	// Unmarshal over the defaults so a partial locators block only
	// overrides the entries it names.
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, used, fmt.Errorf("decode config: %w", err)
	}

	if opts.Flags != nil {
		if f := opts.Flags.Lookup("no-diagnostics"); f != nil && f.Changed && f.Value.String() == "true" {
			cfg.Diagnostics.Enabled = false
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, used, err
	}
	log.Debug().Str("file", used).Str("baseUrl", cfg.BaseURL).Msg("Configuration loaded")
	return &cfg, used, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("base_url", c.BaseURL)
	v.SetDefault("parallel", c.Parallel)
	v.SetDefault("browser.headless", c.Browser.Headless)
	v.SetDefault("browser.exec_path", c.Browser.ExecPath)
	v.SetDefault("browser.window_width", c.Browser.WindowWidth)
	v.SetDefault("browser.window_height", c.Browser.WindowHeight)
	v.SetDefault("browser.page_load_timeout", c.Browser.PageLoadTimeout)
	v.SetDefault("timing.bounded", c.Timing.Bounded)
	v.SetDefault("timing.upload_cap", c.Timing.UploadCap)
	v.SetDefault("timing.poll_interval", c.Timing.PollInterval)
	v.SetDefault("timing.probe_timeout", c.Timing.ProbeTimeout)
	v.SetDefault("locators.category_id", c.Locators.CategoryID)
	v.SetDefault("diagnostics.enabled", c.Diagnostics.Enabled)
	v.SetDefault("diagnostics.dir", c.Diagnostics.Dir)
	v.SetDefault("diagnostics.timeout", c.Diagnostics.Timeout)
	v.SetDefault("diagnostics.s3_prefix", c.Diagnostics.S3Prefix)
	v.SetDefault("aws.bucket", c.AWS.Bucket)
	v.SetDefault("aws.run_table", c.AWS.RunTable)
	v.SetDefault("tracing.exporter", c.Tracing.Exporter)
	v.SetDefault("tracing.service_name", c.Tracing.ServiceName)
	v.SetDefault("metrics.enabled", c.Metrics.Enabled)
	v.SetDefault("metrics.namespace", c.Metrics.Namespace)
}

// readConfigFile follows the lookup order:
//  1. the explicit path
//  2. .fc-registrar/config.yaml (current directory)
//  3. ~/.config/fc-registrar/config.yaml
//
// A missing file in 2 or 3 is not an error.
func readConfigFile(v *viper.Viper, explicit string) (string, error) {
	if explicit != "" {
		v.SetConfigFile(explicit)
		if err := v.ReadInConfig(); err != nil {
			return "", fmt.Errorf("read config %s: %w", explicit, err)
		}
		return v.ConfigFileUsed(), nil
	}

	if _, err := os.Stat(".fc-registrar/config.yaml"); err == nil {
		v.SetConfigFile(".fc-registrar/config.yaml")
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "fc-registrar"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return "", nil
		}
		return "", fmt.Errorf("read config: %w", err)
	}
	return v.ConfigFileUsed(), nil
}

// Validate checks the values a run depends on.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url %q must be an absolute http(s) URL", c.BaseURL)
	}
	if c.Parallel < 1 {
		return fmt.Errorf("parallel must be at least 1, got %d", c.Parallel)
	}
	for name, d := range map[string]time.Duration{
		"timing.bounded":       c.Timing.Bounded,
		"timing.upload_cap":    c.Timing.UploadCap,
		"timing.poll_interval": c.Timing.PollInterval,
		"timing.probe_timeout": c.Timing.ProbeTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Timing.PollInterval >= c.Timing.Bounded {
		return fmt.Errorf("timing.poll_interval (%s) must be shorter than timing.bounded (%s)", c.Timing.PollInterval, c.Timing.Bounded)
	}
	switch c.Tracing.Exporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("tracing.exporter %q: want none or stdout", c.Tracing.Exporter)
	}
	if err := c.Locators.Validate(); err != nil {
		return err
	}
	return nil
}
