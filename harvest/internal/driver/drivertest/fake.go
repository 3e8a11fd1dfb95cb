// Package drivertest provides a scripted in-memory page for exercising the
// driver, the pool and the controller without a browser.
package drivertest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/harvester/harvest/internal/capture"
	"github.com/hazyhaar/harvester/harvest/internal/driver"
)

// Script describes what a page exposes when navigated to.
type Script struct {
	NavErr   error
	NavDelay time.Duration // honours the navigation context

	Events   []capture.NetEvent
	Markup   string
	Elements []capture.ElementSource
	Players  []string
	Bodies   map[string]string

	// Play control behaviour. Evidence under AfterPlay is only exposed
	// once the control was clicked.
	HasPlay   bool
	ClickErr  error
	AfterPlay *Script

	Crash      bool
	MarkupErr  error
	InspectErr error
	Panic      bool

	// Hung renderer: the call returns only when its context is done.
	BlockMarkup  bool
	BlockInspect bool
	BlockBody    bool
}

// Opener hands out fake pages. Pages navigated to an unscripted URL expose
// nothing.
type Opener struct {
	mu      sync.Mutex
	Scripts map[string]Script
	OpenErr error

	opened atomic.Int64
	closed atomic.Int64
}

// NewOpener returns an Opener for the given scripts keyed by page URL.
func NewOpener(scripts map[string]Script) *Opener {
	return &Opener{Scripts: scripts}
}

// Open implements driver.Opener.
func (o *Opener) Open(context.Context) (driver.Page, error) {
	if o.OpenErr != nil {
		return nil, o.OpenErr
	}
	o.opened.Add(1)
	return &Page{owner: o}, nil
}

// Opened returns the number of pages opened.
func (o *Opener) Opened() int64 { return o.opened.Load() }

// Closed returns the number of pages closed.
func (o *Opener) Closed() int64 { return o.closed.Load() }

func (o *Opener) script(url string) Script {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.Scripts[url]
}

// Page is a scripted driver.Page.
type Page struct {
	owner   *Opener
	url     string
	s       Script
	clicked bool
	closed  bool
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.url = url
	p.s = p.owner.script(url)
	if p.s.Panic {
		panic("scripted panic")
	}
	if p.s.NavDelay > 0 {
		select {
		case <-time.After(p.s.NavDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.s.NavErr
}

func (p *Page) ClickPlay(context.Context, []string, time.Duration) (bool, error) {
	if p.s.ClickErr != nil {
		return false, p.s.ClickErr
	}
	if !p.s.HasPlay {
		return false, nil
	}
	p.clicked = true
	return true, nil
}

func (p *Page) URL() string { return p.url }

func (p *Page) Events() []capture.NetEvent {
	ev := append([]capture.NetEvent(nil), p.s.Events...)
	if p.clicked && p.s.AfterPlay != nil {
		ev = append(ev, p.s.AfterPlay.Events...)
	}
	return ev
}

func (p *Page) Markup(ctx context.Context) (string, error) {
	if p.s.BlockMarkup {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if p.s.MarkupErr != nil {
		return "", p.s.MarkupErr
	}
	if p.clicked && p.s.AfterPlay != nil && p.s.AfterPlay.Markup != "" {
		return p.s.AfterPlay.Markup, nil
	}
	return p.s.Markup, nil
}

func (p *Page) Inspect(ctx context.Context) (*driver.Inspection, error) {
	if p.s.BlockInspect {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.s.InspectErr != nil {
		return nil, p.s.InspectErr
	}
	insp := &driver.Inspection{Elements: p.s.Elements, Players: p.s.Players}
	if p.clicked && p.s.AfterPlay != nil {
		insp.Elements = append(insp.Elements, p.s.AfterPlay.Elements...)
	}
	return insp, nil
}

func (p *Page) Body(ctx context.Context, ev capture.NetEvent) ([]byte, error) {
	if p.s.BlockBody {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if b, ok := p.s.Bodies[ev.URL]; ok {
		return []byte(b), nil
	}
	if p.clicked && p.s.AfterPlay != nil {
		if b, ok := p.s.AfterPlay.Bodies[ev.URL]; ok {
			return []byte(b), nil
		}
	}
	return nil, errors.New("no resource with given identifier found")
}

func (p *Page) Crashed() bool { return p.s.Crash }

func (p *Page) Close() error {
	if !p.closed {
		p.closed = true
		p.owner.closed.Add(1)
	}
	return nil
}
