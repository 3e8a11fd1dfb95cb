package browser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/harvester/harvest/internal/capture"
	"github.com/hazyhaar/harvester/harvest/internal/driver"
)

// Page is a rod page recording its network traffic. Implements driver.Page.
type Page struct {
	page   *rod.Page
	cfg    Config
	router *rod.HijackRouter
	stop   context.CancelFunc

	mu     sync.Mutex
	events []capture.NetEvent

	crashed atomic.Bool
	closed  atomic.Bool
}

func newPage(ctx context.Context, page *rod.Page, cfg Config) *Page {
	evCtx, stop := context.WithCancel(ctx)
	p := &Page{page: page, cfg: cfg, stop: stop}

	if err := (proto.NetworkEnable{}).Call(page); err != nil {
		cfg.Logger.Debug("browser: network enable failed", "error", err)
	}
	go page.Context(evCtx).EachEvent(
		func(e *proto.NetworkRequestWillBeSent) {
			p.record(capture.NetEvent{
				RequestID:    string(e.RequestID),
				URL:          e.Request.URL,
				Method:       e.Request.Method,
				ResourceType: string(e.Type),
			})
		},
		func(e *proto.NetworkResponseReceived) {
			p.record(capture.NetEvent{
				RequestID:    string(e.RequestID),
				URL:          e.Response.URL,
				ResourceType: string(e.Type),
				Response:     true,
				Status:       e.Response.Status,
				MIME:         e.Response.MIMEType,
			})
		},
		func(*proto.InspectorTargetCrashed) {
			p.crashed.Store(true)
		},
	)()
	return p
}

func (p *Page) record(ev capture.NetEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

var lifecycle = map[string]proto.PageLifecycleEventName{
	"load":             proto.PageLifecycleEventNameLoad,
	"domcontentloaded": proto.PageLifecycleEventNameDOMContentLoaded,
	"networkidle":      proto.PageLifecycleEventNameNetworkIdle,
}

// Navigate loads url and waits for the configured lifecycle event. A
// deadline hit while waiting is reported as context.DeadlineExceeded.
func (p *Page) Navigate(ctx context.Context, url string) error {
	event, ok := lifecycle[p.cfg.WaitUntil]
	if !ok {
		event = proto.PageLifecycleEventNameLoad
	}
	pg := p.page.Context(ctx)
	wait := pg.WaitNavigation(event)
	if err := pg.Navigate(url); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	wait()
	return ctx.Err()
}

// ClickPlay polls selectors in order until a visible element accepts a
// click or timeout elapses.
func (p *Page) ClickPlay(ctx context.Context, selectors []string, timeout time.Duration) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	pg := p.page.Context(ctx)

	var lastErr error
	for {
		for _, sel := range selectors {
			els, err := pg.Elements(sel)
			if err != nil {
				continue
			}
			for _, el := range els {
				if vis, err := el.Visible(); err != nil || !vis {
					continue
				}
				if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
					lastErr = err
					continue
				}
				return true, nil
			}
		}
		select {
		case <-ctx.Done():
			return false, lastErr
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Events returns a copy of the traffic recorded so far.
func (p *Page) Events() []capture.NetEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]capture.NetEvent(nil), p.events...)
}

// Markup serialises the live DOM, including script-inserted nodes.
func (p *Page) Markup(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("browser: markup: %w", err)
	}
	return html, nil
}

var inspectJS = `() => {
	const elements = [];
	for (const el of document.querySelectorAll('video, audio, source')) {
		const tag = el.tagName.toLowerCase();
		const seen = new Set();
		for (const u of [el.currentSrc, el.src, el.getAttribute('data-src')]) {
			if (u && !seen.has(u)) { seen.add(u); elements.push({tag, url: String(u)}); }
		}
	}
	const players = JSON.parse((` + capture.PlayerProbeJS() + `)());
	return JSON.stringify({elements, players});
}`

// Inspect reads the media element sources and the detected player
// libraries from the live page.
func (p *Page) Inspect(ctx context.Context) (*driver.Inspection, error) {
	res, err := p.page.Context(ctx).Eval(inspectJS)
	if err != nil {
		return nil, fmt.Errorf("browser: inspect: %w", err)
	}
	var raw struct {
		Elements []struct {
			Tag string `json:"tag"`
			URL string `json:"url"`
		} `json:"elements"`
		Players []string `json:"players"`
	}
	if err := json.Unmarshal([]byte(res.Value.Str()), &raw); err != nil {
		return nil, fmt.Errorf("browser: inspect: decode: %w", err)
	}
	insp := &driver.Inspection{Players: raw.Players}
	for _, e := range raw.Elements {
		insp.Elements = append(insp.Elements, capture.ElementSource{Tag: e.Tag, URL: e.URL})
	}
	return insp, nil
}

// Body fetches a response body through Network.getResponseBody.
func (p *Page) Body(ctx context.Context, ev capture.NetEvent) ([]byte, error) {
	if ev.RequestID == "" {
		return nil, errors.New("browser: body: no request id")
	}
	res, err := proto.NetworkGetResponseBody{RequestID: proto.NetworkRequestID(ev.RequestID)}.Call(p.page.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: body %s: %w", ev.URL, err)
	}
	body := []byte(res.Body)
	if res.Base64Encoded {
		body, err = base64.StdEncoding.DecodeString(res.Body)
		if err != nil {
			return nil, fmt.Errorf("browser: body %s: decode: %w", ev.URL, err)
		}
	}
	if len(body) > p.cfg.MaxBodyBytes {
		body = body[:p.cfg.MaxBodyBytes]
	}
	return body, nil
}

func (p *Page) Crashed() bool { return p.crashed.Load() }

// Close stops interception and event recording and closes the page.
func (p *Page) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if p.router != nil {
		p.router.Stop()
	}
	p.stop()
	return p.page.Close()
}
