// Package manifest holds the data types shared by every harvest component:
// targets read from the source list, candidates produced by capture
// strategies, and the results persisted in the harvest state.
package manifest

import "time"

// Kind is the inferred streaming format of a manifest URL.
type Kind string

const (
	KindHLS     Kind = "hls"
	KindDASH    Kind = "dash"
	KindUnknown Kind = "unknown"
)

// Source names the capture strategy that produced a Candidate.
type Source string

const (
	SourceNetwork Source = "network"
	SourceBody    Source = "body"
	SourceDOM     Source = "dom"
	SourcePlayer  Source = "player"
)

// Rank returns the trust rank of a strategy. Lower is more trusted.
func (s Source) Rank() int {
	switch s {
	case SourceNetwork:
		return 0
	case SourceBody:
		return 1
	case SourceDOM:
		return 2
	case SourcePlayer:
		return 3
	}
	return 4
}

// Target is one content page to investigate. ID is the canonical page URL
// and the dedup/resume key.
type Target struct {
	ID         string `json:"id"`
	URL        string `json:"url"`
	Title      string `json:"title,omitempty"`
	Duration   int    `json:"duration,omitempty"` // seconds
	UploadedAt string `json:"uploaded_at,omitempty"`
}

// Candidate is one raw signal from a capture strategy.
type Candidate struct {
	URL    string `json:"url"`
	Kind   Kind   `json:"kind"`
	Source Source `json:"source"`
	Rank   int    `json:"rank"`
	Seq    int    `json:"-"`
}

// Status is the recorded outcome of a Result.
type Status string

const (
	StatusFound    Status = "found"
	StatusNotFound Status = "not_found"
)

// Result is the accepted outcome for a Target. Once written it is never
// modified.
type Result struct {
	ID           string          `json:"id"`
	URL          string          `json:"url"`
	Title        string          `json:"title,omitempty"`
	Duration     int             `json:"duration,omitempty"`
	UploadedAt   string          `json:"uploaded_at,omitempty"`
	Status       Status          `json:"status"`
	Kind         Kind            `json:"kind,omitempty"`
	Manifest     string          `json:"manifest,omitempty"`
	Streams      map[Kind]string `json:"streams,omitempty"`
	FoundAt      time.Time       `json:"found_at"`
	Players      []string        `json:"players,omitempty"`
	SoftFailures []string        `json:"soft_failures,omitempty"`
	Candidates   []Candidate     `json:"candidates,omitempty"`
}

// Found reports whether the result carries at least one manifest.
func (r *Result) Found() bool { return r.Status == StatusFound }

// NewResult copies the target's descriptive fields into an empty result.
func NewResult(t Target, at time.Time) *Result {
	return &Result{
		ID:         t.ID,
		URL:        t.URL,
		Title:      t.Title,
		Duration:   t.Duration,
		UploadedAt: t.UploadedAt,
		Status:     StatusNotFound,
		FoundAt:    at.UTC(),
	}
}

// Failure records a hard per-target failure. A target with only a Failure
// is retried on the next run.
type Failure struct {
	ID          string    `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title,omitempty"`
	Error       string    `json:"error"`
	Attempts    int       `json:"attempts"`
	LastAttempt time.Time `json:"last_attempt"`
}

// Soft-failure flags recorded on results and counted in summaries.
const (
	SoftNavigationTimeout = "navigation_timeout"
	SoftNavigationError   = "navigation_error"
	SoftPlayMissing       = "play_control_missing"
	SoftPlayFailed        = "play_click_failed"
	SoftBodyUnreadable    = "body_unreadable"
	SoftInspectFailed     = "inspect_failed"
)
