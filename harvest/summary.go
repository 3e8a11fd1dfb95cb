package harvest

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/hazyhaar/harvester/harvest/internal/journal"
	"github.com/hazyhaar/harvester/harvest/internal/store"
	"github.com/hazyhaar/harvester/harvest/manifest"
)

// Summarize derives the state-wide part of a summary: totals, counts per
// primary kind and every discovered stream. Run counters are left zero.
func Summarize(st store.State) manifest.Summary {
	sum := manifest.Summary{
		TotalResults: len(st.Results),
		PendingRetry: len(st.Failures),
		ByKind:       make(map[manifest.Kind]int),
		Streams:      []manifest.Stream{},
	}
	for _, r := range st.Results {
		if !r.Found() {
			continue
		}
		sum.TotalFound++
		sum.ByKind[r.Kind]++

		streams := r.Streams
		if len(streams) == 0 {
			streams = map[manifest.Kind]string{r.Kind: r.Manifest}
		}
		for k, u := range streams {
			sum.Streams = append(sum.Streams, manifest.Stream{ID: r.ID, Title: r.Title, Kind: k, URL: u})
		}
	}
	slices.SortFunc(sum.Streams, func(a, b manifest.Stream) int {
		return cmp.Or(cmp.Compare(a.ID, b.ID), cmp.Compare(a.Kind, b.Kind))
	})
	return sum
}

// ReadSummary returns the summary written by the last run, or one derived
// from the harvest state when no run has written a summary yet.
func ReadSummary(cfg *Config) (*manifest.Summary, error) {
	data, err := os.ReadFile(cfg.SummaryFile)
	switch {
	case err == nil:
		var sum manifest.Summary
		if err := json.Unmarshal(data, &sum); err != nil {
			return nil, fmt.Errorf("harvest: parse summary %s: %w", cfg.SummaryFile, err)
		}
		return &sum, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("harvest: read summary: %w", err)
	}

	s, err := store.Open(cfg.StateFile)
	if err != nil {
		return nil, err
	}
	defer s.Close()
	sum := Summarize(s.Snapshot())
	return &sum, nil
}

// RunRecord is one journaled run.
type RunRecord = journal.Run

// AttemptRecord is one journaled attempt.
type AttemptRecord = journal.Attempt

// History returns the latest journaled runs, newest first, and when
// targetURL is not empty every attempt made on that page.
func History(ctx context.Context, cfg *Config, limit int, targetURL string) ([]RunRecord, []AttemptRecord, error) {
	if cfg.Journal == "" {
		return nil, nil, fmt.Errorf("harvest: no journal configured")
	}
	jr, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, nil, err
	}
	defer jr.Close()

	runs, err := jr.Runs(ctx, limit)
	if err != nil {
		return nil, nil, err
	}
	if targetURL == "" {
		return runs, nil, nil
	}
	id, err := manifest.CanonicalID(targetURL)
	if err != nil {
		return nil, nil, fmt.Errorf("harvest: target url: %w", err)
	}
	attempts, err := jr.Attempts(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return runs, attempts, nil
}
