// Package store persists the harvest state: the mapping from target
// identity to accepted result, plus hard failures awaiting a retry.
//
// The state file is the resume checkpoint and the final product. Every
// write goes to a temporary file in the same directory which is synced and
// then renamed over the previous state, so a crash leaves either the old or
// the new document on disk, never a truncated one.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hazyhaar/harvester/harvest/manifest"
)

// State is the persisted document.
type State struct {
	UpdatedAt time.Time                    `json:"updated_at"`
	Count     int                          `json:"count"`
	Results   map[string]*manifest.Result  `json:"results"`
	Failures  map[string]*manifest.Failure `json:"failures,omitempty"`
}

// Store serializes merges and persistence of the harvest state.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
	write  func(path string, data []byte) error

	mu    sync.Mutex
	state State
	dirty bool
	err   error // sticky persistence error from the batch flusher

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithFlushInterval batches persistence on a timer instead of writing on
// every upsert. Zero (default) persists every upsert immediately.
func WithFlushInterval(d time.Duration) Option {
	return func(s *Store) { s.interval = d }
}

// Open loads the state at path. A missing file starts an empty state; a
// file that does not parse is an error, never silently replaced.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{
		path:   path,
		logger: slog.Default(),
		now:    time.Now,
		write:  writeAtomic,
		state:  State{Results: make(map[string]*manifest.Result)},
	}
	for _, o := range opts {
		o(s)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		s.logger.Info("store: no prior state, starting empty", "path", path)
	case err != nil:
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &s.state); err != nil {
			return nil, fmt.Errorf("store: parse %s: %w", path, err)
		}
		if s.state.Results == nil {
			s.state.Results = make(map[string]*manifest.Result)
		}
		s.logger.Info("store: resumed", "path", path,
			"results", len(s.state.Results), "failures", len(s.state.Failures))
	}

	if s.interval > 0 {
		s.stop = make(chan struct{})
		s.done = make(chan struct{})
		go s.flushLoop()
	}
	return s, nil
}

// Path returns the state file path.
func (s *Store) Path() string { return s.path }

// Contains reports whether a result exists for id. Failures do not count:
// a failed target is retried.
func (s *Store) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.state.Results[id]
	return ok
}

// Pending returns the targets without a result, in input order.
func (s *Store) Pending(targets []manifest.Target) []manifest.Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []manifest.Target
	for _, t := range targets {
		if _, ok := s.state.Results[t.ID]; !ok {
			out = append(out, t)
		}
	}
	return out
}

// Upsert merges a new result and persists the state. A result already
// present for the same ID is kept unchanged and added is false.
func (s *Store) Upsert(r *manifest.Result) (added bool, err error) {
	if r == nil || r.ID == "" {
		return false, fmt.Errorf("store: upsert: result without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.state.Results[r.ID]; ok {
		return false, nil
	}
	s.state.Results[r.ID] = r
	delete(s.state.Failures, r.ID)
	s.dirty = true

	if s.interval > 0 {
		return true, nil
	}
	if err := s.persistLocked(); err != nil {
		return true, err
	}
	return true, nil
}

// RecordFailure notes a hard failure for t. It never overrides a result.
func (s *Store) RecordFailure(t manifest.Target, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return s.err
	}
	if _, ok := s.state.Results[t.ID]; ok {
		return nil
	}
	if s.state.Failures == nil {
		s.state.Failures = make(map[string]*manifest.Failure)
	}
	f := s.state.Failures[t.ID]
	if f == nil {
		f = &manifest.Failure{ID: t.ID, URL: t.URL, Title: t.Title}
		s.state.Failures[t.ID] = f
	}
	f.Attempts++
	f.LastAttempt = s.now().UTC()
	if cause != nil {
		f.Error = cause.Error()
	}
	s.dirty = true

	if s.interval > 0 {
		return nil
	}
	return s.persistLocked()
}

// Flush persists pending changes.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return s.err
	}
	return s.persistLocked()
}

// Close stops the batch flusher and performs a final flush.
func (s *Store) Close() error {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
	}
	return s.Flush()
}

// Snapshot returns a copy of the state. Results and failures are shared
// pointers; results are immutable once stored.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := State{
		UpdatedAt: s.state.UpdatedAt,
		Count:     len(s.state.Results),
		Results:   make(map[string]*manifest.Result, len(s.state.Results)),
		Failures:  make(map[string]*manifest.Failure, len(s.state.Failures)),
	}
	for k, v := range s.state.Results {
		cp.Results[k] = v
	}
	for k, v := range s.state.Failures {
		f := *v
		cp.Failures[k] = &f
	}
	return cp
}

func (s *Store) persistLocked() error {
	s.state.UpdatedAt = s.now().UTC()
	s.state.Count = len(s.state.Results)
	if len(s.state.Failures) == 0 {
		s.state.Failures = nil
	}
	data, err := json.MarshalIndent(&s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	if err := s.write(s.path, data); err != nil {
		s.err = fmt.Errorf("store: persist %s: %w", s.path, err)
		return s.err
	}
	s.dirty = false
	return nil
}

func (s *Store) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.Flush(); err != nil {
				s.logger.Error("store: batch flush failed", "error", err)
			}
		}
	}
}

// writeAtomic writes data next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create tmp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write tmp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close tmp: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}

	// Make the rename itself durable where the platform allows it.
	if d, err := os.Open(dir); err == nil {
		d.Sync()
		d.Close()
	}
	return nil
}

// WriteJSON atomically writes v as indented JSON to path. Used for
// summaries and other side documents that share the state's durability.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal: %w", err)
	}
	if err := writeAtomic(path, data); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}
