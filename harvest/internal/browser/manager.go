// Package browser manages the Chrome process and the authenticated
// incognito context every harvesting page is opened in.
//
// Chrome is launched through go-rod's launcher (or reached at a remote
// DevTools URL). Pages are created with go-rod/stealth and expose the
// driver.Page capability surface.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// DefaultUserAgent is presented by every page unless overridden.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// DefaultBlocking lists the resource classes blocked by default.
var DefaultBlocking = []string{"images", "fonts", "stylesheets"}

// Config configures the browser manager.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Bin overrides the Chrome binary. Empty lets the launcher find or
	// download one.
	Bin string

	Headless  bool
	NoSandbox bool

	// XvfbDisplay starts an Xvfb virtual display for headful runs on
	// machines without a screen. Empty = use the current DISPLAY.
	XvfbDisplay string

	UserAgent string
	Locale    string
	Width     int
	Height    int

	// ResourceBlocking lists resource classes to abort (images, fonts,
	// stylesheets). Media, XHR, Fetch and manifest URLs are never blocked.
	ResourceBlocking []string

	// WaitUntil selects the lifecycle event navigation waits for:
	// load, domcontentloaded or networkidle.
	WaitUntil string

	// MaxBodyBytes caps response bodies returned to the capture layer.
	MaxBodyBytes int

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Locale == "" {
		c.Locale = "en-IN"
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 1920, 1080
	}
	if c.ResourceBlocking == nil {
		c.ResourceBlocking = DefaultBlocking
	}
	if c.WaitUntil == "" {
		c.WaitUntil = "load"
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 2 << 20
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager owns the Chrome process.
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	xvfb    *xvfbProc
	closed  bool
}

// NewManager creates a browser Manager. Call Start to launch Chrome.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start launches Chrome (or connects to a remote instance).
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}
	if m.browser != nil {
		return m.browser, nil
	}

	b, err := m.launch(ctx)
	if err != nil {
		m.cleanup()
		return nil, err
	}
	m.browser = b
	return b, nil
}

// Browser returns the current Rod browser handle.
func (m *Manager) Browser() *rod.Browser {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.browser
}

// Close shuts down Chrome and Xvfb.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return m.cleanup()
}

func (m *Manager) launch(ctx context.Context) (*rod.Browser, error) {
	log := m.cfg.Logger

	var wsURL string
	if m.cfg.RemoteURL != "" {
		wsURL = m.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Context(ctx).Headless(m.cfg.Headless)
		if !m.cfg.Headless && m.cfg.XvfbDisplay != "" {
			if err := m.startXvfb(); err != nil {
				return nil, fmt.Errorf("browser: xvfb: %w", err)
			}
			l = l.Env(append(os.Environ(), "DISPLAY="+m.cfg.XvfbDisplay)...)
		}
		if m.cfg.Bin != "" {
			l = l.Bin(m.cfg.Bin)
		}

		// Anti-detection and container-friendly flags.
		l = l.Set("disable-blink-features", "AutomationControlled").
			Set("disable-dev-shm-usage").
			Set("disable-gpu").
			Set("lang", m.cfg.Locale).
			Set("autoplay-policy", "no-user-gesture-required")
		if m.cfg.NoSandbox {
			l = l.NoSandbox(true).Set("disable-setuid-sandbox")
		}

		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		m.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headless", m.cfg.Headless)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}
	return b, nil
}

func (m *Manager) cleanup() error {
	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	m.stopXvfb()
	return err
}
