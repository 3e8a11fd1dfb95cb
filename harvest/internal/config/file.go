// Package config handles harvester configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level harvester configuration.
type Config struct {
	Targets       string        `yaml:"targets"` // path or http(s) URL
	StateFile     string        `yaml:"state_file"`
	SummaryFile   string        `yaml:"summary_file"`
	Concurrency   int           `yaml:"concurrency"`
	RatePerMinute int           `yaml:"rate_per_minute"` // 0 = unlimited
	FlushInterval time.Duration `yaml:"flush_interval"`  // 0 = persist on every result
	Journal       string        `yaml:"journal"`         // empty disables
	Browser       BrowserConfig `yaml:"browser"`
	Session       SessionConfig `yaml:"session"`
	Capture       CaptureConfig `yaml:"capture"`
	Sinks         []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Headless         *bool    `yaml:"headless"`
	Bin              string   `yaml:"bin"`
	UserAgent        string   `yaml:"user_agent"`
	Locale           string   `yaml:"locale"`
	Viewport         Viewport `yaml:"viewport"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	NoSandbox        *bool    `yaml:"no_sandbox"`
	XvfbDisplay      string   `yaml:"xvfb_display"`
}

// Viewport is the emulated window size.
type Viewport struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
}

// SessionConfig controls the saved login.
type SessionConfig struct {
	File      string        `yaml:"file"`
	AuthURL   string        `yaml:"auth_url"`
	LoginWait time.Duration `yaml:"login_wait"`
	Required  *bool         `yaml:"required"`
}

// CaptureConfig tunes the per-page protocol.
type CaptureConfig struct {
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	WaitUntil         string        `yaml:"wait_until"` // load | domcontentloaded | networkidle
	Settle            time.Duration `yaml:"settle"`
	LateSettle        time.Duration `yaml:"late_settle"`
	PlayTimeout       time.Duration `yaml:"play_timeout"`
	EvaluateTimeout   time.Duration `yaml:"evaluate_timeout"` // markup, inspection and each body read
	PlaySelectors     []string      `yaml:"play_selectors"`
	MaxBodyReads      int           `yaml:"max_body_reads"`
	MaxTrail          int           `yaml:"max_trail"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook
	URL  string `yaml:"url"`  // for webhook
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file. An empty path yields Default.
func LoadFile(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Targets == "" {
		c.Targets = "targets.json"
	}
	if c.StateFile == "" {
		c.StateFile = "harvest-state.json"
	}
	if c.SummaryFile == "" {
		c.SummaryFile = filepath.Join(filepath.Dir(c.StateFile), "harvest-summary.json")
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.Browser.Headless == nil {
		c.Browser.Headless = ptr(true)
	}
	if c.Browser.NoSandbox == nil {
		c.Browser.NoSandbox = ptr(true)
	}
	if c.Browser.Locale == "" {
		c.Browser.Locale = "en-IN"
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		c.Browser.Viewport = Viewport{Width: 1920, Height: 1080}
	}
	if c.Session.File == "" {
		c.Session.File = "session.json"
	}
	if c.Session.LoginWait <= 0 {
		c.Session.LoginWait = 120 * time.Second
	}
	if c.Session.Required == nil {
		c.Session.Required = ptr(true)
	}
	if c.Capture.NavigationTimeout <= 0 {
		c.Capture.NavigationTimeout = 60 * time.Second
	}
	if c.Capture.WaitUntil == "" {
		c.Capture.WaitUntil = "load"
	}
	if c.Capture.Settle == 0 {
		c.Capture.Settle = 15 * time.Second
	}
	if c.Capture.LateSettle == 0 {
		c.Capture.LateSettle = 20 * time.Second
	}
	if c.Capture.PlayTimeout <= 0 {
		c.Capture.PlayTimeout = 5 * time.Second
	}
	if c.Capture.EvaluateTimeout <= 0 {
		c.Capture.EvaluateTimeout = 30 * time.Second
	}
	if c.Capture.MaxBodyReads <= 0 {
		c.Capture.MaxBodyReads = 16
	}
	if c.Capture.MaxTrail <= 0 {
		c.Capture.MaxTrail = 25
	}
}

// Validate rejects settings no run could use.
func (c *Config) Validate() error {
	var errs []error
	switch c.Capture.WaitUntil {
	case "load", "domcontentloaded", "networkidle":
	default:
		errs = append(errs, fmt.Errorf("capture.wait_until: unknown value %q", c.Capture.WaitUntil))
	}
	if c.Capture.Settle < 0 || c.Capture.LateSettle < 0 {
		errs = append(errs, errors.New("capture: settle durations must not be negative"))
	}
	if c.RatePerMinute < 0 {
		errs = append(errs, errors.New("rate_per_minute must not be negative"))
	}
	if c.FlushInterval < 0 {
		errs = append(errs, errors.New("flush_interval must not be negative"))
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				errs = append(errs, fmt.Errorf("sinks[%d]: webhook needs a url", i))
			}
		default:
			errs = append(errs, fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// IsHeadless reports whether Chrome runs without a window.
func (b BrowserConfig) IsHeadless() bool { return b.Headless == nil || *b.Headless }

// IsRequired reports whether a saved session is needed before harvesting.
func (s SessionConfig) IsRequired() bool { return s.Required == nil || *s.Required }

func ptr[T any](v T) *T { return &v }
