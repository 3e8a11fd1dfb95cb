package sink

import (
	"context"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// OutcomeFunc is called for each outcome.
type OutcomeFunc func(ctx context.Context, ev Event) error

// SummaryFunc is called with the final summary.
type SummaryFunc func(ctx context.Context, sum manifest.Summary) error

// Callback delivers events as in-process function calls, for embedding
// the harvester in another program.
type Callback struct {
	onOutcome OutcomeFunc
	onSummary SummaryFunc
}

// NewCallback creates a Callback sink. Either handler may be nil.
func NewCallback(onOutcome OutcomeFunc, onSummary SummaryFunc) *Callback {
	return &Callback{onOutcome: onOutcome, onSummary: onSummary}
}

func (c *Callback) SendOutcome(ctx context.Context, ev Event) error {
	if c.onOutcome != nil {
		return c.onOutcome(ctx, ev)
	}
	return nil
}

func (c *Callback) SendSummary(ctx context.Context, sum manifest.Summary) error {
	if c.onSummary != nil {
		return c.onSummary(ctx, sum)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
