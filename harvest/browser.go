package harvest

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/harvester/harvest/internal/browser"
	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/harvest/internal/session"
)

// Browser is the capability the controller needs from a browser engine.
type Browser interface {
	// Session returns a page factory bound to one context restored from
	// st. A nil st gives an unauthenticated context.
	Session(ctx context.Context, st *session.State) (PageContext, error)
	// Login shows authURL to an operator for wait and returns the
	// resulting session.
	Login(ctx context.Context, authURL string, wait time.Duration) (*session.State, error)
	Close() error
}

// PageContext opens pages sharing one browser context.
type PageContext interface {
	driver.Opener
	Close() error
}

// rodBrowser is the Chrome implementation of Browser.
type rodBrowser struct {
	cfg browser.Config
	mgr *browser.Manager
}

func newRodBrowser(cfg browser.Config) *rodBrowser {
	return &rodBrowser{cfg: cfg}
}

func (b *rodBrowser) Session(ctx context.Context, st *session.State) (PageContext, error) {
	if b.mgr == nil {
		b.mgr = browser.NewManager(b.cfg)
		if _, err := b.mgr.Start(ctx); err != nil {
			b.mgr = nil
			return nil, err
		}
	}
	bc, err := b.mgr.NewContext(ctx, st)
	if err != nil {
		return nil, err
	}
	return bc, nil
}

// Login always runs a separate headful Chrome.
func (b *rodBrowser) Login(ctx context.Context, authURL string, wait time.Duration) (*session.State, error) {
	cfg := b.cfg
	cfg.Headless = false
	cfg.RemoteURL = ""
	mgr := browser.NewManager(cfg)
	defer mgr.Close()
	if _, err := mgr.Start(ctx); err != nil {
		return nil, err
	}
	bc, err := mgr.NewContext(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer bc.Close()

	st, err := bc.Login(ctx, authURL, wait)
	if err != nil {
		return nil, fmt.Errorf("harvest: login: %w", err)
	}
	return st, nil
}

func (b *rodBrowser) Close() error {
	if b.mgr == nil {
		return nil
	}
	err := b.mgr.Close()
	b.mgr = nil
	return err
}
