package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/harvest/internal/session"
)

// Context is one incognito browser context shared by all pages of a run.
// It holds the restored session and implements driver.Opener.
type Context struct {
	b       *rod.Browser
	cfg     Config
	storage string // localStorage restore script, empty when none
	logger  *slog.Logger
}

// NewContext creates an incognito context on the managed browser and
// restores st into it. A nil st yields an unauthenticated context.
func (m *Manager) NewContext(ctx context.Context, st *session.State) (*Context, error) {
	b := m.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	inc, err := b.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("browser: incognito: %w", err)
	}

	c := &Context{b: inc, cfg: m.cfg, logger: m.cfg.Logger}
	if st == nil {
		return c, nil
	}

	if len(st.Cookies) > 0 {
		if err := inc.SetCookies(cookieParams(st.Cookies)); err != nil {
			inc.Close()
			return nil, fmt.Errorf("browser: restore cookies: %w", err)
		}
	}
	c.storage, err = storageScript(st.Origins)
	if err != nil {
		inc.Close()
		return nil, fmt.Errorf("browser: restore storage: %w", err)
	}
	m.cfg.Logger.Info("browser: session restored",
		"cookies", len(st.Cookies), "origins", len(st.Origins), "created_at", st.CreatedAt)
	return c, nil
}

// Open creates a stealth page in the context with the configured identity,
// resource blocking and event recording in place. Implements driver.Opener.
func (c *Context) Open(ctx context.Context) (driver.Page, error) {
	page, err := stealth.Page(c.b)
	if err != nil {
		return nil, fmt.Errorf("browser: create page: %w", err)
	}
	p, err := c.setup(ctx, page)
	if err != nil {
		page.Close()
		return nil, err
	}
	return p, nil
}

func (c *Context) setup(ctx context.Context, page *rod.Page) (*Page, error) {
	err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      c.cfg.UserAgent,
		AcceptLanguage: c.cfg.Locale,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: user agent: %w", err)
	}
	if err := (proto.EmulationSetLocaleOverride{Locale: c.cfg.Locale}).Call(page); err != nil {
		c.logger.Debug("browser: locale override failed", "error", err)
	}
	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             c.cfg.Width,
		Height:            c.cfg.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: viewport: %w", err)
	}
	if c.storage != "" {
		if _, err := page.EvalOnNewDocument(c.storage); err != nil {
			return nil, fmt.Errorf("browser: storage script: %w", err)
		}
	}

	p := newPage(ctx, page, c.cfg)
	if len(c.cfg.ResourceBlocking) > 0 {
		router, err := applyResourceBlocking(page, c.cfg.ResourceBlocking)
		if err != nil {
			c.logger.Warn("browser: resource blocking failed", "error", err)
		} else {
			p.router = router
		}
	}
	return p, nil
}

// Snapshot captures the context's cookies and the localStorage of the
// origin page is on.
func (c *Context) Snapshot(ctx context.Context, page *rod.Page) (*session.State, error) {
	cookies, err := c.b.GetCookies()
	if err != nil {
		return nil, fmt.Errorf("browser: get cookies: %w", err)
	}
	st := &session.State{CreatedAt: time.Now().UTC()}
	for _, ck := range cookies {
		expires := float64(ck.Expires)
		if ck.Session || expires < 0 {
			expires = 0
		}
		st.Cookies = append(st.Cookies, session.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: string(ck.SameSite),
		})
	}

	res, err := page.Context(ctx).Eval(`() => JSON.stringify({
		origin: location.origin,
		items: Object.keys(localStorage).map(k => ({name: k, value: localStorage.getItem(k)}))
	})`)
	if err != nil {
		c.logger.Warn("browser: localStorage snapshot failed", "error", err)
		return st, nil
	}
	var raw struct {
		Origin string         `json:"origin"`
		Items  []session.Item `json:"items"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err == nil && raw.Origin != "" && raw.Origin != "null" {
		st.Origins = append(st.Origins, session.Origin{Origin: raw.Origin, LocalStorage: raw.Items})
	}
	return st, nil
}

// Close disposes of the incognito context and its pages.
func (c *Context) Close() error {
	return c.b.Close()
}

func cookieParams(cs []session.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cs))
	for _, c := range cs {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
		}
		// Session cookies are saved with expires <= 0 and must stay
		// session cookies.
		if c.Expires > 0 {
			p.Expires = proto.TimeSinceEpoch(c.Expires)
		}
		out = append(out, p)
	}
	return out
}

// storageScript builds a document-start script that seeds localStorage for
// the saved origins. Existing keys are left untouched.
func storageScript(origins []session.Origin) (string, error) {
	data := make(map[string][][2]string)
	for _, o := range origins {
		for _, it := range o.LocalStorage {
			data[o.Origin] = append(data[o.Origin], [2]string{it.Name, it.Value})
		}
	}
	if len(data) == 0 {
		return "", nil
	}
	blob, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return `(() => {
	const saved = ` + string(blob) + `;
	const items = saved[location.origin];
	if (!items) return;
	try {
		for (const [k, v] of items) {
			if (localStorage.getItem(k) === null) localStorage.setItem(k, v);
		}
	} catch (e) {}
})()`, nil
}
