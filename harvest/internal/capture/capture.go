// Package capture turns the evidence recorded while a page loads into
// candidate manifest URLs and reduces them to one answer per target.
//
// Strategies never touch the browser directly. The driver records an
// Evidence value (network events, markup, element sources) and hands it to
// every strategy in priority order, together with a BodyReader for the few
// response bodies the body strategy needs.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// NetEvent is one observed request or response.
type NetEvent struct {
	RequestID    string
	URL          string
	Method       string
	ResourceType string // CDP resource type: Document, XHR, Fetch, Media, ...
	Response     bool
	Status       int
	MIME         string
}

// ElementSource is a media source read from a live element.
type ElementSource struct {
	Tag string // video | audio | source
	URL string
}

// Evidence is everything a page exposed during one visit.
type Evidence struct {
	PageURL  string
	Events   []NetEvent
	Markup   string
	Elements []ElementSource
	Players  []string
}

// BodyReader returns the body of a recorded response.
type BodyReader interface {
	Body(ctx context.Context, ev NetEvent) ([]byte, error)
}

// Strategy inspects one aspect of the evidence.
type Strategy interface {
	Name() manifest.Source
	Collect(ctx context.Context, ev *Evidence, br BodyReader) ([]manifest.Candidate, error)
}

// SoftError marks a strategy problem that downgrades the outcome without
// failing the target. Flag is recorded on the result.
type SoftError struct {
	Flag string
	Err  error
}

func (e *SoftError) Error() string { return fmt.Sprintf("capture: %s: %v", e.Flag, e.Err) }
func (e *SoftError) Unwrap() error { return e.Err }

// Options tune the default strategy set.
type Options struct {
	MaxBodyReads int
	MaxBodyBytes int
}

// Default returns the four strategies in priority order.
func Default(opts Options) []Strategy {
	return []Strategy{
		&Network{},
		&Body{MaxReads: opts.MaxBodyReads, MaxBytes: opts.MaxBodyBytes},
		&DOM{},
		&Player{},
	}
}

// Report is the merged output of all strategies for one target.
type Report struct {
	Candidates []manifest.Candidate
	Soft       []string
}

// Run executes strategies in order and merges their candidates. Rank comes
// from the strategy and Seq is the global discovery order, so sorting by
// (Rank, Seq) reproduces priority order. A strategy error is a soft failure;
// only context cancellation stops the run.
func Run(ctx context.Context, strategies []Strategy, ev *Evidence, br BodyReader, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rep := &Report{}
	seq := 0
	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		cands, err := s.Collect(ctx, ev, br)
		for _, c := range cands {
			c.Source = s.Name()
			c.Rank = s.Name().Rank()
			c.Seq = seq
			seq++
			rep.Candidates = append(rep.Candidates, c)
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return rep, err
			}
			flag := "strategy_" + string(s.Name()) + "_failed"
			var se *SoftError
			if errors.As(err, &se) {
				flag = se.Flag
			}
			rep.Soft = append(rep.Soft, flag)
			logger.Warn("capture: strategy soft failure",
				"strategy", s.Name(), "page", ev.PageURL, "error", err)
		}
	}
	return rep, nil
}
