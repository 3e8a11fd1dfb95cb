// Package driver runs the per-target protocol: open a page, navigate,
// settle, try to start playback, settle again, gather evidence, run the
// capture strategies and reduce them to a result.
//
// The browser is reached only through the Page and Opener interfaces so the
// protocol can be exercised without Chrome.
package driver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/harvester/harvest/internal/capture"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

// Inspection is the live-page introspection result.
type Inspection struct {
	Elements []capture.ElementSource
	Players  []string
}

// Page is one browser page bound to the shared authenticated context.
type Page interface {
	capture.BodyReader
	Navigate(ctx context.Context, url string) error
	ClickPlay(ctx context.Context, selectors []string, timeout time.Duration) (clicked bool, err error)
	URL() string
	Events() []capture.NetEvent
	Markup(ctx context.Context) (string, error)
	Inspect(ctx context.Context) (*Inspection, error)
	Crashed() bool
	Close() error
}

// Opener creates pages.
type Opener interface {
	Open(ctx context.Context) (Page, error)
}

// Failure kinds carried by DriverError.
const (
	KindOpen       = "open"
	KindCrashed    = "crashed"
	KindEvaluation = "evaluation"
	KindPanic      = "panic"
)

// DriverError is a hard per-target failure. The target is recorded as
// failed and retried on a later run.
type DriverError struct {
	Kind string
	Err  error
}

func (e *DriverError) Error() string { return fmt.Sprintf("driver: %s: %v", e.Kind, e.Err) }
func (e *DriverError) Unwrap() error { return e.Err }

// Outcome is the answer for one target: a Result (found or not found) or
// a hard failure in Err.
type Outcome struct {
	Target  manifest.Target
	Result  *manifest.Result
	Err     error
	Soft    []string
	Elapsed time.Duration
}

// Status is "found", "not_found" or "failed".
func (o Outcome) Status() string {
	switch {
	case o.Err != nil || o.Result == nil:
		return "failed"
	case o.Result.Found():
		return string(manifest.StatusFound)
	}
	return string(manifest.StatusNotFound)
}

// DefaultPlaySelectors are tried in order to find a visible play control.
var DefaultPlaySelectors = []string{
	`button[aria-label*="Play" i]`,
	`button[class*="play" i]`,
	`[data-testid*="play" i]`,
	`.vjs-big-play-button`,
	`.jw-icon-playback`,
	`.plyr__control--overlaid`,
	`video`,
}

// Config tunes the protocol timings.
type Config struct {
	NavigationTimeout time.Duration // default 60s
	Settle            time.Duration // wait after navigation
	LateSettle        time.Duration // wait after the play attempt
	PlayTimeout       time.Duration // default 5s
	EvaluateTimeout   time.Duration // per markup, inspect and body read; default 30s
	PlaySelectors     []string
	MaxTrail          int
	Strategies        []capture.Strategy
	Logger            *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = 60 * time.Second
	}
	if c.PlayTimeout <= 0 {
		c.PlayTimeout = 5 * time.Second
	}
	if c.EvaluateTimeout <= 0 {
		c.EvaluateTimeout = 30 * time.Second
	}
	if len(c.PlaySelectors) == 0 {
		c.PlaySelectors = DefaultPlaySelectors
	}
	if c.Strategies == nil {
		c.Strategies = capture.Default(capture.Options{})
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Driver processes targets one at a time. It is safe for concurrent use:
// each call owns its page.
type Driver struct {
	open   Opener
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Driver.
func New(open Opener, cfg Config) *Driver {
	cfg.defaults()
	return &Driver{open: open, cfg: cfg, logger: cfg.Logger, now: time.Now}
}

// Process runs the full protocol for t. It never panics and never returns
// an error for soft problems; only DriverError marks a hard failure.
func (d *Driver) Process(ctx context.Context, t manifest.Target) (out Outcome) {
	start := d.now()
	out.Target = t
	defer func() {
		if r := recover(); r != nil {
			out.Result = nil
			out.Err = &DriverError{Kind: KindPanic, Err: fmt.Errorf("%v", r)}
		}
		out.Elapsed = d.now().Sub(start)
	}()

	page, err := d.open.Open(ctx)
	if err != nil {
		out.Err = &DriverError{Kind: KindOpen, Err: err}
		return out
	}
	defer func() {
		if err := page.Close(); err != nil {
			d.logger.Debug("driver: close page", "url", t.URL, "error", err)
		}
	}()

	log := d.logger.With("url", t.URL)

	navCtx, cancel := context.WithTimeout(ctx, d.cfg.NavigationTimeout)
	err = page.Navigate(navCtx, t.URL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			out.Err = ctx.Err()
			return out
		}
		flag := manifest.SoftNavigationError
		if errors.Is(err, context.DeadlineExceeded) {
			flag = manifest.SoftNavigationTimeout
		}
		out.Soft = append(out.Soft, flag)
		log.Warn("driver: navigation incomplete, capturing anyway", "flag", flag, "error", err)
	}

	if err := sleep(ctx, d.cfg.Settle); err != nil {
		out.Err = err
		return out
	}

	clicked, err := page.ClickPlay(ctx, d.cfg.PlaySelectors, d.cfg.PlayTimeout)
	switch {
	case err != nil:
		out.Soft = append(out.Soft, manifest.SoftPlayFailed)
		log.Debug("driver: play click failed", "error", err)
	case !clicked:
		out.Soft = append(out.Soft, manifest.SoftPlayMissing)
		log.Debug("driver: no play control found")
	default:
		log.Debug("driver: play clicked")
	}

	if err := sleep(ctx, d.cfg.LateSettle); err != nil {
		out.Err = err
		return out
	}

	if page.Crashed() {
		out.Err = &DriverError{Kind: KindCrashed, Err: errors.New("page crashed")}
		return out
	}

	ev, soft, err := d.gather(ctx, page)
	out.Soft = append(out.Soft, soft...)
	if err != nil {
		out.Err = err
		return out
	}

	bodies := timedBodies{page: page, timeout: d.cfg.EvaluateTimeout}
	rep, err := capture.Run(ctx, d.cfg.Strategies, ev, bodies, d.logger)
	if err != nil {
		out.Err = err
		return out
	}
	out.Soft = append(out.Soft, rep.Soft...)

	red := capture.Reduce(rep.Candidates, d.cfg.MaxTrail)
	res := manifest.NewResult(t, d.now())
	res.Players = ev.Players
	res.SoftFailures = dedupFlags(out.Soft)
	res.Candidates = red.Trail
	if red.Found() {
		res.Status = manifest.StatusFound
		res.Kind = red.Kind
		res.Manifest = red.Manifest
		res.Streams = red.Streams
	}
	out.Result = res

	log.Info("driver: target done",
		"status", out.Status(), "kind", res.Kind, "manifest", res.Manifest,
		"candidates", len(rep.Candidates), "soft", res.SoftFailures)
	return out
}

// gather collects the evidence. A markup failure means the page or its
// context is gone and is a hard failure; an inspection failure only loses
// the player strategy's live sources. Each step is bounded by
// EvaluateTimeout.
func (d *Driver) gather(ctx context.Context, page Page) (*capture.Evidence, []string, error) {
	mctx, cancel := context.WithTimeout(ctx, d.cfg.EvaluateTimeout)
	markup, err := page.Markup(mctx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		if page.Crashed() {
			return nil, nil, &DriverError{Kind: KindCrashed, Err: err}
		}
		return nil, nil, &DriverError{Kind: KindEvaluation, Err: err}
	}

	ev := &capture.Evidence{
		PageURL: page.URL(),
		Events:  page.Events(),
		Markup:  markup,
	}

	var soft []string
	ictx, cancel := context.WithTimeout(ctx, d.cfg.EvaluateTimeout)
	insp, err := page.Inspect(ictx)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		soft = append(soft, manifest.SoftInspectFailed)
		d.logger.Warn("driver: inspect failed", "url", ev.PageURL, "error", err)
	} else if insp != nil {
		ev.Elements = insp.Elements
		ev.Players = insp.Players
	}
	return ev, soft, nil
}

// timedBodies bounds every body read. A read that times out surfaces as an
// ordinary read error, which the body strategy records as body_unreadable.
type timedBodies struct {
	page    capture.BodyReader
	timeout time.Duration
}

func (b timedBodies) Body(ctx context.Context, ev capture.NetEvent) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return b.page.Body(ctx, ev)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func dedupFlags(flags []string) []string {
	if len(flags) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(flags))
	out := flags[:0:0]
	for _, f := range flags {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}
