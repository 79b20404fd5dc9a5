// Package config loads the daemon configuration: a YAML file for
// everything shareable, with an environment overlay for the values that
// must never land in a file (vault passphrase) or that deployments
// prefer to inject (webhook URL).
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Targets  []string       `yaml:"targets"`
	Poll     PollConfig     `yaml:"poll"`
	Cooldown CooldownConfig `yaml:"cooldown"`
	Notify   NotifyConfig   `yaml:"notify"`
	Digest   DigestConfig   `yaml:"digest"`
	Browser  BrowserConfig  `yaml:"browser"`
	Store    StoreConfig    `yaml:"store"`
	Web      WebConfig      `yaml:"web"`

	// Passphrase unlocks the secret store. Environment only; it has no
	// YAML key on purpose.
	Passphrase string `yaml:"-" env:"RESTOCKD_PASSPHRASE"`
}

// PollConfig controls the steady-polling cadence.
type PollConfig struct {
	// Interval is the base pre-fetch delay before each target.
	Interval time.Duration `yaml:"interval"`
	// Jitter is the uniform ± spread applied to Interval. The effective
	// delay is floored at 5s regardless.
	Jitter time.Duration `yaml:"jitter"`
	// RotateEvery is the number of cycles between proactive identity
	// rotations.
	RotateEvery int `yaml:"rotate_every"`
}

// CooldownConfig bounds the detection backoff.
type CooldownConfig struct {
	Base           time.Duration `yaml:"base"`
	RetryThreshold int           `yaml:"retry_threshold"`
	Max            time.Duration `yaml:"max"`
}

// NotifyConfig controls outbound notifications.
type NotifyConfig struct {
	WebhookURL string `yaml:"webhook_url" env:"RESTOCKD_WEBHOOK_URL"`
	// Cooldown is the per-URL minimum gap between restock notifications.
	Cooldown time.Duration `yaml:"cooldown"`
}

// DigestConfig schedules the daily summary.
type DigestConfig struct {
	Hour     int    `yaml:"hour"` // 0–23, in Timezone
	Timezone string `yaml:"timezone"`
}

// BrowserConfig controls the page driver.
type BrowserConfig struct {
	// Remote is the WebSocket URL of an external Chrome. Empty = launch.
	Remote     string        `yaml:"remote"`
	NavTimeout time.Duration `yaml:"nav_timeout"`
	// Proxy is a host:port the browser routes through; rotation draws a
	// fresh session identity on it.
	Proxy string `yaml:"proxy"`
}

// StoreConfig locates on-disk state.
type StoreConfig struct {
	Dir     string `yaml:"dir"`     // default: ~/.restockd
	History string `yaml:"history"` // history database filename under Dir
}

// WebConfig controls the local status endpoint. Empty Addr disables it.
type WebConfig struct {
	Addr string `yaml:"addr"`
}

// ValidationError reports a startup-fatal configuration problem.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads the YAML file at path, applies defaults, overlays the
// environment, and validates. Validation failures are fatal to startup.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse is Load without the file read, for callers that already hold
// the YAML bytes.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}

	cfg.applyDefaults()

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Poll.Interval <= 0 {
		c.Poll.Interval = 45 * time.Second
	}
	if c.Poll.Jitter <= 0 {
		c.Poll.Jitter = 15 * time.Second
	}
	if c.Poll.RotateEvery <= 0 {
		c.Poll.RotateEvery = 10
	}
	if c.Cooldown.Base <= 0 {
		c.Cooldown.Base = time.Minute
	}
	if c.Cooldown.RetryThreshold <= 0 {
		c.Cooldown.RetryThreshold = 3
	}
	if c.Cooldown.Max <= 0 {
		c.Cooldown.Max = 30 * time.Minute
	}
	if c.Notify.Cooldown <= 0 {
		c.Notify.Cooldown = 30 * time.Minute
	}
	if c.Digest.Timezone == "" {
		c.Digest.Timezone = "UTC"
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Store.Dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Store.Dir = filepath.Join(home, ".restockd")
		} else {
			c.Store.Dir = ".restockd"
		}
	}
	if c.Store.History == "" {
		c.Store.History = "restock-history.db"
	}
}

// Validate checks invariants that would make the engine misbehave.
func (c *Config) Validate() error {
	if len(c.Targets) == 0 {
		return &ValidationError{Field: "targets", Reason: "at least one watch target is required"}
	}
	for _, t := range c.Targets {
		u, err := url.Parse(t)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return &ValidationError{Field: "targets", Reason: fmt.Sprintf("not an http(s) URL: %q", t)}
		}
	}
	if c.Cooldown.Max < c.Cooldown.Base {
		return &ValidationError{Field: "cooldown.max", Reason: "must be >= cooldown.base"}
	}
	if c.Cooldown.Max > 30*time.Minute {
		return &ValidationError{Field: "cooldown.max", Reason: "capped at 30m"}
	}
	if c.Digest.Hour < 0 || c.Digest.Hour > 23 {
		return &ValidationError{Field: "digest.hour", Reason: "must be between 0 and 23"}
	}
	if _, err := time.LoadLocation(c.Digest.Timezone); err != nil {
		return &ValidationError{Field: "digest.timezone", Reason: fmt.Sprintf("unknown time zone %q", c.Digest.Timezone)}
	}
	if c.Notify.WebhookURL != "" {
		u, err := url.Parse(c.Notify.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return &ValidationError{Field: "notify.webhook_url", Reason: "not an http(s) URL"}
		}
	}
	return nil
}

// HistoryPath returns the absolute path of the history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.Store.Dir, c.Store.History)
}

// DigestLocation returns the loaded digest time zone. Validate has
// already established it loads.
func (c *Config) DigestLocation() *time.Location {
	loc, err := time.LoadLocation(c.Digest.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
