package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/harvester/harvest/internal/session"
)

// Login opens authURL in the context, leaves the window to the operator for
// wait, then captures the resulting session. The browser must be headful.
func (c *Context) Login(ctx context.Context, authURL string, wait time.Duration) (*session.State, error) {
	page, err := stealth.Page(c.b)
	if err != nil {
		return nil, fmt.Errorf("browser: create login page: %w", err)
	}
	defer page.Close()

	err = page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      c.cfg.UserAgent,
		AcceptLanguage: c.cfg.Locale,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: user agent: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{Width: 1280, Height: 800, DeviceScaleFactor: 1}); err != nil {
		c.logger.Debug("browser: login viewport failed", "error", err)
	}

	if authURL != "" {
		navCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
		err := page.Context(navCtx).Navigate(authURL)
		cancel()
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("browser: login page did not load cleanly", "url", authURL, "error", err)
		}
	}

	c.logger.Info("browser: waiting for manual login", "url", authURL, "wait", wait)
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.C:
	}

	st, err := c.Snapshot(ctx, page)
	if err != nil {
		return nil, err
	}
	c.logger.Info("browser: session captured", "cookies", len(st.Cookies), "origins", len(st.Origins))
	return st, nil
}
