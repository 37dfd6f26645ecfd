package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"gopkg.in/yaml.v3"
)

// Public holiday sources.
const (
	PublicSourceAPI     = "api"
	PublicSourceICS     = "ics"
	PublicSourceBuiltin = "builtin"
)

// BasicAuthConfig holds HTTP Basic Auth credentials.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// UpstreamConfig describes the absence management server the holiday
// service talks to.
type UpstreamConfig struct {
	// BaseURL is scheme and host, e.g. "https://urlaub.example.com".
	BaseURL string `yaml:"base_url" json:"base_url"`
	// APIPrefix is the REST API path prefix, e.g. "/api".
	APIPrefix string `yaml:"api_prefix" json:"api_prefix"`
	// WebPrefix is the web UI path prefix absence links are built on.
	WebPrefix string `yaml:"web_prefix" json:"web_prefix"`
	// BasicAuth, if set, is sent with every upstream request.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
	// TimeoutSec bounds one upstream request.
	TimeoutSec int `yaml:"timeout_sec" json:"timeout_sec"`
}

// PublicHolidaysConfig selects where public holidays come from.
type PublicHolidaysConfig struct {
	// Source is "api" (default), "ics" or "builtin".
	Source string `yaml:"source" json:"source"`
	// ICSURL is the subscription used when Source is "ics".
	ICSURL string `yaml:"ics_url" json:"ics_url"`
	// HalfDayEves marks Dec 24 and Dec 31 as half holidays with "builtin".
	HalfDayEves bool `yaml:"half_day_eves" json:"half_day_eves"`
}

// CaptureConfig controls headless preview screenshots.
type CaptureConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	Width      int    `yaml:"width" json:"width"`
	Height     int    `yaml:"height" json:"height"`
	OutputPath string `yaml:"output_path" json:"output_path"`
	TimeoutSec int    `yaml:"timeout_sec" json:"timeout_sec"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level string `yaml:"level" json:"level"`
	// Env "prod" switches to JSON output.
	Env string `yaml:"env" json:"env"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone calendar dates are interpreted in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// Locale selects month and weekday names ("de", "en", ...).
	Locale string `yaml:"locale" json:"locale"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// PersonID is whose absences are shown.
	PersonID int `yaml:"person_id" json:"person_id"`

	Upstream       UpstreamConfig       `yaml:"upstream" json:"upstream"`
	PublicHolidays PublicHolidaysConfig `yaml:"public_holidays" json:"public_holidays"`

	// ShownMonths is the window size, split evenly around the anchor.
	ShownMonths int `yaml:"shown_months" json:"shown_months"`

	// MonthWidth is the pixel width of one month column.
	MonthWidth int `yaml:"month_width" json:"month_width"`

	// ResizeDebounceMs collapses viewport reports into one re-render.
	ResizeDebounceMs int `yaml:"resize_debounce_ms" json:"resize_debounce_ms"`

	// RefreshCron is a cron schedule (e.g. "*/15 * * * *") for reloads.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheDir holds the upstream HTTP cache. Empty disables it.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	Capture CaptureConfig `yaml:"capture" json:"capture"`
	Log     LogConfig     `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with defaults so partially-filled
// configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Europe/Berlin"
	}
	if c.Locale == "" {
		c.Locale = "de"
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.Upstream.APIPrefix == "" {
		c.Upstream.APIPrefix = "/api"
	}
	if c.Upstream.WebPrefix == "" {
		c.Upstream.WebPrefix = "/web"
	}
	if c.Upstream.TimeoutSec <= 0 {
		c.Upstream.TimeoutSec = 15
	}
	c.PublicHolidays.Source = strings.ToLower(strings.TrimSpace(c.PublicHolidays.Source))
	if c.PublicHolidays.Source == "" {
		c.PublicHolidays.Source = PublicSourceAPI
	}
	if c.ShownMonths <= 0 {
		c.ShownMonths = 10
	}
	if c.MonthWidth <= 0 {
		c.MonthWidth = 260
	}
	if c.ResizeDebounceMs <= 0 {
		c.ResizeDebounceMs = 30
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.Capture.Width <= 0 {
		c.Capture.Width = 1304
	}
	if c.Capture.Height <= 0 {
		c.Capture.Height = 984
	}
	if c.Capture.OutputPath == "" {
		c.Capture.OutputPath = "./var/preview.png"
	}
	if c.Capture.TimeoutSec <= 0 {
		c.Capture.TimeoutSec = 30
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Env == "" {
		c.Log.Env = "dev"
	}
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	if c.PersonID <= 0 {
		return errors.New("config: person_id must be set")
	}
	switch c.PublicHolidays.Source {
	case PublicSourceAPI, PublicSourceICS, PublicSourceBuiltin:
	default:
		return fmt.Errorf("config: public_holidays.source %q must be one of %s, %s, %s",
			c.PublicHolidays.Source, PublicSourceAPI, PublicSourceICS, PublicSourceBuiltin)
	}
	if c.PublicHolidays.Source == PublicSourceICS && c.PublicHolidays.ICSURL == "" {
		return errors.New("config: public_holidays.ics_url is required for source ics")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the configured zone, or time.Local if it cannot load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Weekday returns the configured first day of the week.
func (c *Config) Weekday() time.Weekday {
	if c.WeekStart == "sunday" {
		return time.Sunday
	}
	return time.Monday
}

// ResizeDelay returns ResizeDebounceMs as a duration.
func (c *Config) ResizeDelay() time.Duration {
	return time.Duration(c.ResizeDebounceMs) * time.Millisecond
}

// ApplyEnv overrides fields from UVCAL_* environment variables. It runs
// after the file is loaded so a .env file or the service manager can
// override secrets without editing the YAML.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}
	str := map[string]*string{
		"UVCAL_LISTEN":         &c.Listen,
		"UVCAL_TIMEZONE":       &c.Timezone,
		"UVCAL_LOCALE":         &c.Locale,
		"UVCAL_BASE_URL":       &c.Upstream.BaseURL,
		"UVCAL_API_PREFIX":     &c.Upstream.APIPrefix,
		"UVCAL_WEB_PREFIX":     &c.Upstream.WebPrefix,
		"UVCAL_PUBLIC_SOURCE":  &c.PublicHolidays.Source,
		"UVCAL_PUBLIC_ICS_URL": &c.PublicHolidays.ICSURL,
		"UVCAL_REFRESH":        &c.RefreshCron,
		"UVCAL_CACHE_DIR":      &c.CacheDir,
		"UVCAL_LOG_LEVEL":      &c.Log.Level,
		"UVCAL_ENV":            &c.Log.Env,
	}
	for key, dst := range str {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	if v := strings.TrimSpace(getenv("UVCAL_PERSON_ID")); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("UVCAL_PERSON_ID: %w", err)
		}
		c.PersonID = id
	}

	if u, p := getenv("UVCAL_UPSTREAM_USER"), getenv("UVCAL_UPSTREAM_PASSWORD"); u != "" {
		c.Upstream.BasicAuth = &BasicAuthConfig{Username: u, Password: p}
	}
	if u, p := getenv("UVCAL_AUTH_USER"), getenv("UVCAL_AUTH_PASSWORD"); u != "" {
		c.BasicAuth = &BasicAuthConfig{Username: u, Password: p}
	}

	c.Normalize()
	return nil
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

// Save writes cfg to path atomically (temp file + rename) with 0600
// permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".uvcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
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
	return os.Rename(tmpName, path)
}
