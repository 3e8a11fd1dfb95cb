// Package sink streams per-target outcomes and run summaries to external
// consumers as they happen.
package sink

import (
	"context"
	"time"

	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, in-process callback).
type Sink interface {
	SendOutcome(ctx context.Context, ev Event) error
	SendSummary(ctx context.Context, sum manifest.Summary) error
	Close() error
}

// Event is the wire form of one processed target.
type Event struct {
	RunID        string                   `json:"run_id"`
	ID           string                   `json:"id"`
	URL          string                   `json:"url"`
	Title        string                   `json:"title,omitempty"`
	Status       string                   `json:"status"`
	Kind         manifest.Kind            `json:"kind,omitempty"`
	Manifest     string                   `json:"manifest,omitempty"`
	Streams      map[manifest.Kind]string `json:"streams,omitempty"`
	Error        string                   `json:"error,omitempty"`
	SoftFailures []string                 `json:"soft_failures,omitempty"`
	ElapsedMS    int64                    `json:"elapsed_ms"`
	At           time.Time                `json:"at"`
}

// NewEvent converts an outcome.
func NewEvent(runID string, o driver.Outcome, at time.Time) Event {
	ev := Event{
		RunID:        runID,
		ID:           o.Target.ID,
		URL:          o.Target.URL,
		Title:        o.Target.Title,
		Status:       o.Status(),
		SoftFailures: o.Soft,
		ElapsedMS:    o.Elapsed.Milliseconds(),
		At:           at.UTC(),
	}
	if o.Result != nil {
		ev.Kind = o.Result.Kind
		ev.Manifest = o.Result.Manifest
		ev.Streams = o.Result.Streams
		ev.SoftFailures = o.Result.SoftFailures
	}
	if o.Err != nil {
		ev.Error = o.Err.Error()
	}
	return ev
}

type envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}
