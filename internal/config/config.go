package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SourceConfig describes the scraped calendar site.
type SourceConfig struct {
	// URL is the economic calendar page.
	URL string `yaml:"url" json:"url"`

	// Timezone is the IANA zone the site displays event times in. The
	// browser emulates this zone and the UTC conversion assumes it, so
	// both stay in sync through this single value.
	Timezone string `yaml:"timezone" json:"timezone"`

	// UserAgent is sent by the headless browser.
	UserAgent string `yaml:"user_agent" json:"user_agent"`
}

// ScrapeConfig holds scraper timeouts and retry policy. All durations are
// in seconds; these are courtesy/tuning knobs, not invariants.
type ScrapeConfig struct {
	// NavTimeoutSec bounds the initial page navigation.
	NavTimeoutSec int `yaml:"nav_timeout_seconds" json:"nav_timeout_seconds"`

	// SelectorTimeoutSec bounds each wait for a DOM element or for the
	// loading indicator to disappear.
	SelectorTimeoutSec int `yaml:"selector_timeout_seconds" json:"selector_timeout_seconds"`

	// RetryAttempts is the per-window attempt budget.
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`

	// RetryDelaySec is the pause between failed attempts.
	RetryDelaySec int `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`

	// WindowDelaySec is the pause between windows in a sweep so the
	// source site's own throttling can settle.
	WindowDelaySec int `yaml:"window_delay_seconds" json:"window_delay_seconds"`
}

// RefreshConfig holds the background refresh schedule and retention policy.
type RefreshConfig struct {
	// SweepCron schedules the full multi-window refresh (cron syntax).
	SweepCron string `yaml:"sweep_cron" json:"sweep_cron"`

	// RollingCron schedules the narrow today-only refresh that picks up
	// actual values as they are published during the day.
	RollingCron string `yaml:"rolling_cron" json:"rolling_cron"`

	// RetentionDays is how long cached events are kept.
	RetentionDays int `yaml:"retention_days" json:"retention_days"`

	// StaleAfterHours marks the cache stale for health reporting.
	StaleAfterHours int `yaml:"stale_after_hours" json:"stale_after_hours"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// DBPath is the SQLite events cache location.
	DBPath string `yaml:"db_path" json:"db_path"`

	// Timezone is the default viewer timezone for range resolution when a
	// request does not specify one.
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Source  SourceConfig  `yaml:"source" json:"source"`
	Scrape  ScrapeConfig  `yaml:"scrape" json:"scrape"`
	Refresh RefreshConfig `yaml:"refresh" json:"refresh"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all
	// endpoints except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		DBPath:   "/var/lib/macrocal/events.db",
		Timezone: "UTC",
		LogLevel: "info",
		Source: SourceConfig{
			URL:      "https://es.investing.com/economic-calendar/",
			Timezone: "Europe/Madrid",
			UserAgent: "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) " +
				"AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Scrape: ScrapeConfig{
			NavTimeoutSec:      90,
			SelectorTimeoutSec: 15,
			RetryAttempts:      2,
			RetryDelaySec:      5,
			WindowDelaySec:     3,
		},
		Refresh: RefreshConfig{
			SweepCron:       "0 6 * * *",
			RollingCron:     "0 14 * * *",
			RetentionDays:   180,
			StaleAfterHours: 12,
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.DBPath == "" {
		c.DBPath = def.DBPath
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	if c.Source.URL == "" {
		c.Source.URL = def.Source.URL
	}
	if c.Source.Timezone == "" {
		c.Source.Timezone = def.Source.Timezone
	}
	if c.Source.UserAgent == "" {
		c.Source.UserAgent = def.Source.UserAgent
	}

	if c.Scrape.NavTimeoutSec <= 0 {
		c.Scrape.NavTimeoutSec = def.Scrape.NavTimeoutSec
	}
	if c.Scrape.SelectorTimeoutSec <= 0 {
		c.Scrape.SelectorTimeoutSec = def.Scrape.SelectorTimeoutSec
	}
	if c.Scrape.RetryAttempts <= 0 {
		c.Scrape.RetryAttempts = def.Scrape.RetryAttempts
	}
	if c.Scrape.RetryDelaySec <= 0 {
		c.Scrape.RetryDelaySec = def.Scrape.RetryDelaySec
	}
	if c.Scrape.WindowDelaySec <= 0 {
		c.Scrape.WindowDelaySec = def.Scrape.WindowDelaySec
	}

	if c.Refresh.SweepCron == "" {
		c.Refresh.SweepCron = def.Refresh.SweepCron
	}
	if c.Refresh.RollingCron == "" {
		c.Refresh.RollingCron = def.Refresh.RollingCron
	}
	if c.Refresh.RetentionDays <= 0 {
		c.Refresh.RetentionDays = def.Refresh.RetentionDays
	}
	if c.Refresh.StaleAfterHours <= 0 {
		c.Refresh.StaleAfterHours = def.Refresh.StaleAfterHours
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".macrocal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	if err := os.Rename(tmpName, path); err != nil {
		return err
	}

	return nil
}

// Save is a convenience method on Config that delegates to the
// package-level Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
