package sink

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// Router fans events out to all configured sinks. One sink error does not
// block the others; errors are logged and the first one is returned.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a fan-out router delivering to all sinks.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{sinks: sinks, logger: logger}
}

// Len returns the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) SendOutcome(ctx context.Context, ev Event) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendOutcome(ctx, ev); err != nil {
			r.logger.Warn("sink: send outcome failed", "id", ev.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) SendSummary(ctx context.Context, sum manifest.Summary) error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.SendSummary(ctx, sum); err != nil {
			r.logger.Warn("sink: send summary failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Router) Close() error {
	var firstErr error
	for _, s := range r.sinks {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
