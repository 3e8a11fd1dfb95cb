// Package harvest discovers streaming manifest URLs (HLS and DASH) behind a
// list of content pages by loading each page in a real browser.
//
// A run restores a saved login, skips the pages already present in the
// harvest state, drives a bounded pool of browser pages over the rest and
// persists every answer as soon as it is known. Killing a run at any point
// loses at most the pages in flight; the next run resumes from the state
// file.
//
// Usage:
//
//	cfg, _ := harvest.LoadConfig("harvester.yaml")
//	h := harvest.New(cfg, harvest.WithLogger(logger))
//	sum, err := h.Run(ctx)
//	if errors.Is(err, harvest.ErrBootstrapped) {
//		// a login was just captured; run again
//	}
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/harvester/harvest/internal/browser"
	"github.com/hazyhaar/harvester/harvest/internal/capture"
	"github.com/hazyhaar/harvester/harvest/internal/config"
	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/harvest/internal/journal"
	"github.com/hazyhaar/harvester/harvest/internal/pool"
	"github.com/hazyhaar/harvester/harvest/internal/session"
	"github.com/hazyhaar/harvester/harvest/internal/sink"
	"github.com/hazyhaar/harvester/harvest/internal/store"
	"github.com/hazyhaar/harvester/harvest/internal/targets"
	"github.com/hazyhaar/harvester/harvest/manifest"
	"github.com/hazyhaar/harvester/idgen"
)

// ErrBootstrapped is returned by Run when no session existed and an
// interactive login was performed instead of harvesting. Run again to
// harvest with the captured session.
var ErrBootstrapped = errors.New("harvest: session bootstrapped, run again to harvest")

// Config is the harvester configuration.
type Config = config.Config

// LoadConfig reads a YAML configuration file. An empty path gives the
// defaults.
func LoadConfig(path string) (*Config, error) { return config.LoadFile(path) }

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config { return config.Default() }

// Option configures a Harvester.
type Option func(*Harvester)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(h *Harvester) { h.logger = l } }

// WithBrowser replaces the Chrome engine.
func WithBrowser(b Browser) Option { return func(h *Harvester) { h.browser = b } }

// WithTargets uses ts instead of loading the configured target source.
func WithTargets(ts []manifest.Target) Option {
	return func(h *Harvester) { h.targets = ts; h.haveTargets = true }
}

// Sink receives every outcome and the final summary of a run.
type Sink = sink.Sink

// Event is one outcome as delivered to a Sink.
type Event = sink.Event

// NewCallbackSink returns a Sink calling onOutcome for every outcome and
// onSummary once at the end of the run. Either may be nil.
func NewCallbackSink(onOutcome func(context.Context, Event) error, onSummary func(context.Context, manifest.Summary) error) Sink {
	return sink.NewCallback(onOutcome, onSummary)
}

// WithSink adds an outcome sink next to the configured ones.
func WithSink(s Sink) Option { return func(h *Harvester) { h.extraSinks = append(h.extraSinks, s) } }

// Harvester runs harvests for one configuration.
type Harvester struct {
	cfg         *Config
	logger      *slog.Logger
	browser     Browser
	targets     []manifest.Target
	haveTargets bool
	extraSinks  []sink.Sink
	newRunID    idgen.Generator
	now         func() time.Time
}

// New creates a Harvester. A nil cfg uses the defaults.
func New(cfg *Config, opts ...Option) *Harvester {
	if cfg == nil {
		cfg = config.Default()
	}
	h := &Harvester{
		cfg:      cfg,
		logger:   slog.Default(),
		newRunID: idgen.Prefixed("run_", idgen.UUIDv7()),
		now:      time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	if h.browser == nil {
		h.browser = newRodBrowser(browserConfig(cfg, h.logger))
	}
	return h
}

func browserConfig(cfg *Config, logger *slog.Logger) browser.Config {
	b := cfg.Browser
	return browser.Config{
		RemoteURL:        b.Remote,
		Bin:              b.Bin,
		Headless:         b.IsHeadless(),
		NoSandbox:        b.NoSandbox == nil || *b.NoSandbox,
		XvfbDisplay:      b.XvfbDisplay,
		UserAgent:        b.UserAgent,
		Locale:           b.Locale,
		Width:            b.Viewport.Width,
		Height:           b.Viewport.Height,
		ResourceBlocking: b.ResourceBlocking,
		WaitUntil:        cfg.Capture.WaitUntil,
		Logger:           logger,
	}
}

// runStats accumulates the per-run counters. Safe for concurrent use.
type runStats struct {
	mu        sync.Mutex
	processed int
	found     int
	notFound  int
	failed    int
	soft      map[string]int
}

func (s *runStats) add(o driver.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed++
	switch o.Status() {
	case "found":
		s.found++
	case "not_found":
		s.notFound++
	default:
		s.failed++
	}
	flags := o.Soft
	if o.Result != nil {
		flags = o.Result.SoftFailures
	}
	for _, f := range flags {
		if s.soft == nil {
			s.soft = make(map[string]int)
		}
		s.soft[f]++
	}
}

// Run performs one harvest. When no saved session exists and one is
// required, it performs the interactive login instead and returns
// ErrBootstrapped. An interrupted run still returns its summary, together
// with the context error.
func (h *Harvester) Run(ctx context.Context) (*manifest.Summary, error) {
	cfg := h.cfg
	log := h.logger
	runID := h.newRunID()
	started := h.now().UTC()

	st, err := h.loadSession(ctx)
	if err != nil {
		return nil, err
	}

	ts, malformed, err := h.loadTargets(ctx)
	if err != nil {
		return nil, err
	}

	res, err := store.Open(cfg.StateFile, store.WithLogger(log), store.WithFlushInterval(cfg.FlushInterval))
	if err != nil {
		return nil, err
	}
	defer res.Close()

	pending := res.Pending(ts)
	log.Info("harvest: run starting", "run_id", runID,
		"targets", len(ts), "complete", len(ts)-len(pending), "pending", len(pending), "malformed", malformed)

	jr := h.openJournal()
	if jr != nil {
		defer jr.Close()
		if err := jr.StartRun(ctx, runID, len(pending)); err != nil {
			log.Warn("harvest: journal start failed", "error", err)
		}
	}
	sinks := h.buildSinks()
	defer sinks.Close()

	var stats runStats
	var runErr error
	if len(pending) > 0 {
		runErr = h.harvest(ctx, runID, st, pending, res, jr, sinks, &stats)
	}

	if err := res.Flush(); err != nil && runErr == nil {
		runErr = err
	}

	sum := Summarize(res.Snapshot())
	sum.RunID = runID
	sum.StartedAt = started
	sum.FinishedAt = h.now().UTC()
	sum.Targets = len(ts)
	sum.Skipped = len(ts) - len(pending)
	sum.Malformed = malformed
	sum.Processed = stats.processed
	sum.Found = stats.found
	sum.NotFound = stats.notFound
	sum.Failed = stats.failed
	sum.SoftFailures = stats.soft

	// Summary output is best effort once the state itself is safe.
	fctx := context.WithoutCancel(ctx)
	if err := store.WriteJSON(cfg.SummaryFile, sum); err != nil {
		log.Error("harvest: write summary failed", "path", cfg.SummaryFile, "error", err)
	}
	if jr != nil {
		if err := jr.FinishRun(fctx, runID, sum.Found, sum.NotFound, sum.Failed); err != nil {
			log.Warn("harvest: journal finish failed", "error", err)
		}
	}
	sinks.SendSummary(fctx, sum)

	log.Info("harvest: run finished", "run_id", runID,
		"processed", sum.Processed, "found", sum.Found, "not_found", sum.NotFound,
		"failed", sum.Failed, "total_results", sum.TotalResults,
		"elapsed", sum.FinishedAt.Sub(started).Round(time.Second))

	if runErr != nil {
		return &sum, runErr
	}
	if err := ctx.Err(); err != nil {
		return &sum, err
	}
	return &sum, nil
}

func (h *Harvester) harvest(ctx context.Context, runID string, st *session.State, pending []manifest.Target,
	res *store.Store, jr *journal.Journal, sinks *sink.Router, stats *runStats) error {
	cfg := h.cfg
	log := h.logger

	bc, err := h.browser.Session(ctx, st)
	if err != nil {
		return fmt.Errorf("harvest: browser: %w", err)
	}
	defer func() {
		if err := bc.Close(); err != nil {
			log.Debug("harvest: close browser context", "error", err)
		}
		if err := h.browser.Close(); err != nil {
			log.Debug("harvest: close browser", "error", err)
		}
	}()

	drv := driver.New(bc, driver.Config{
		NavigationTimeout: cfg.Capture.NavigationTimeout,
		Settle:            cfg.Capture.Settle,
		LateSettle:        cfg.Capture.LateSettle,
		PlayTimeout:       cfg.Capture.PlayTimeout,
		EvaluateTimeout:   cfg.Capture.EvaluateTimeout,
		PlaySelectors:     cfg.Capture.PlaySelectors,
		MaxTrail:          cfg.Capture.MaxTrail,
		Strategies:        capture.Default(capture.Options{MaxBodyReads: cfg.Capture.MaxBodyReads}),
		Logger:            log,
	})

	emit := func(o driver.Outcome) error {
		if o.Err != nil {
			if err := res.RecordFailure(o.Target, o.Err); err != nil {
				return err
			}
			log.Warn("harvest: target failed, will retry next run", "url", o.Target.URL, "error", o.Err)
		} else if _, err := res.Upsert(o.Result); err != nil {
			return err
		}
		stats.add(o)

		// Journal and sinks never decide the run's fate.
		ectx := context.WithoutCancel(ctx)
		if jr != nil {
			if err := jr.Record(ectx, runID, o); err != nil {
				log.Warn("harvest: journal record failed", "url", o.Target.URL, "error", err)
			}
		}
		sinks.SendOutcome(ectx, sink.NewEvent(runID, o, h.now()))
		return nil
	}

	err = pool.Run(ctx, pending, cfg.Concurrency, drv.Process, emit,
		pool.WithLimiter(pool.PerMinute(cfg.RatePerMinute)),
		pool.WithLogger(log))
	if err != nil {
		return fmt.Errorf("harvest: persist: %w", err)
	}
	return nil
}

func (h *Harvester) loadSession(ctx context.Context) (*session.State, error) {
	ss := session.NewStore(h.cfg.Session.File)
	st, err := ss.Load()
	switch {
	case err == nil:
		return st, nil
	case !errors.Is(err, session.ErrAbsent):
		return nil, err
	case h.cfg.Session.IsRequired():
		h.logger.Info("harvest: no saved session, starting interactive login", "path", ss.Path())
		if err := h.Bootstrap(ctx, false); err != nil {
			return nil, err
		}
		return nil, ErrBootstrapped
	}
	h.logger.Warn("harvest: no saved session, running unauthenticated", "path", ss.Path())
	return nil, nil
}

func (h *Harvester) loadTargets(ctx context.Context) ([]manifest.Target, int, error) {
	if h.haveTargets {
		return h.targets, 0, nil
	}
	l := targets.New(targets.WithLogger(h.logger), targets.WithUserAgent(h.userAgent()))
	return l.Load(ctx, h.cfg.Targets)
}

func (h *Harvester) userAgent() string {
	if h.cfg.Browser.UserAgent != "" {
		return h.cfg.Browser.UserAgent
	}
	return browser.DefaultUserAgent
}

func (h *Harvester) openJournal() *journal.Journal {
	if h.cfg.Journal == "" {
		return nil
	}
	jr, err := journal.Open(h.cfg.Journal, journal.WithLogger(h.logger))
	if err != nil {
		h.logger.Warn("harvest: journal unavailable, continuing without it", "path", h.cfg.Journal, "error", err)
		return nil
	}
	return jr
}

func (h *Harvester) buildSinks() *sink.Router {
	var ss []sink.Sink
	for _, sc := range h.cfg.Sinks {
		switch sc.Type {
		case "stdout":
			ss = append(ss, sink.NewStdout(nil))
		case "webhook":
			ss = append(ss, sink.NewWebhook(sc.URL, sink.WithWebhookLogger(h.logger)))
		}
	}
	ss = append(ss, h.extraSinks...)
	return sink.NewRouter(h.logger, ss...)
}
