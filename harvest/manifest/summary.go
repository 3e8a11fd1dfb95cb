package manifest

import "time"

// Stream is one discovered manifest listed in a summary.
type Stream struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
	Kind  Kind   `json:"kind"`
	URL   string `json:"url"`
}

// Summary is emitted at the end of a run. Skipped counts targets already
// complete before the run and Malformed the unusable source entries. Run
// counters (Processed, Found, NotFound, Failed, SoftFailures) cover this
// run only; ByKind, TotalResults and Streams are derived from the whole
// harvest state.
type Summary struct {
	RunID        string         `json:"run_id"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Targets      int            `json:"targets"`
	Skipped      int            `json:"skipped"`
	Malformed    int            `json:"malformed,omitempty"`
	Processed    int            `json:"processed"`
	Found        int            `json:"found"`
	NotFound     int            `json:"not_found"`
	Failed       int            `json:"failed"`
	SoftFailures map[string]int `json:"soft_failures,omitempty"`
	TotalResults int            `json:"total_results"`
	TotalFound   int            `json:"total_found"`
	PendingRetry int            `json:"pending_retry"`
	ByKind       map[Kind]int   `json:"by_kind"`
	Streams      []Stream       `json:"streams"`
}
