// Package journal keeps an SQLite history of harvest runs and of every
// per-target attempt, including the failed ones the state file forgets once
// a retry succeeds.
//
// Schema (created by Open/New):
//
//	CREATE TABLE runs (
//	    run_id      TEXT PRIMARY KEY,
//	    started_at  INTEGER NOT NULL,   -- milliseconds since epoch
//	    finished_at INTEGER NOT NULL DEFAULT 0,
//	    pending     INTEGER NOT NULL DEFAULT 0,
//	    found       INTEGER NOT NULL DEFAULT 0,
//	    not_found   INTEGER NOT NULL DEFAULT 0,
//	    failed      INTEGER NOT NULL DEFAULT 0
//	);
//	CREATE TABLE attempts (
//	    id            TEXT PRIMARY KEY,
//	    run_id        TEXT NOT NULL,
//	    target_id     TEXT NOT NULL,
//	    status        TEXT NOT NULL,   -- found | not_found | failed
//	    kind          TEXT NOT NULL DEFAULT '',
//	    manifest      TEXT NOT NULL DEFAULT '',
//	    error         TEXT NOT NULL DEFAULT '',
//	    soft_failures TEXT NOT NULL DEFAULT '',  -- comma separated flags
//	    elapsed_ms    INTEGER NOT NULL DEFAULT 0,
//	    created_at    INTEGER NOT NULL
//	);
//
// The journal is a diagnostic record. The harvest state file stays the
// source of truth for what is complete.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/harvester/dbopen"
	"github.com/hazyhaar/harvester/harvest/internal/driver"
	"github.com/hazyhaar/harvester/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER NOT NULL DEFAULT 0,
	pending     INTEGER NOT NULL DEFAULT 0,
	found       INTEGER NOT NULL DEFAULT 0,
	not_found   INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS attempts (
	id            TEXT PRIMARY KEY,
	run_id        TEXT NOT NULL,
	target_id     TEXT NOT NULL,
	status        TEXT NOT NULL,
	kind          TEXT NOT NULL DEFAULT '',
	manifest      TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	soft_failures TEXT NOT NULL DEFAULT '',
	elapsed_ms    INTEGER NOT NULL DEFAULT 0,
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attempts_target ON attempts (target_id, created_at);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts (run_id);
`

// Run is one harvest run.
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time // zero while running or after a kill
	Pending    int
	Found      int
	NotFound   int
	Failed     int
}

// Attempt is one processed target.
type Attempt struct {
	ID           string
	RunID        string
	TargetID     string
	Status       string
	Kind         string
	Manifest     string
	Error        string
	SoftFailures []string
	Elapsed      time.Duration
	CreatedAt    time.Time
}

// Option configures a Journal.
type Option func(*Journal)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(j *Journal) { j.logger = l } }

// WithIDGenerator overrides attempt ID generation.
func WithIDGenerator(g idgen.Generator) Option { return func(j *Journal) { j.newID = g } }

// Journal is the attempt history store. Safe for concurrent use.
type Journal struct {
	db     *sql.DB
	owned  bool
	logger *slog.Logger
	newID  idgen.Generator
	now    func() time.Time
}

// Open opens (creating if needed) the journal database at path.
func Open(path string, opts ...Option) (*Journal, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	j := newJournal(db, opts)
	j.owned = true
	return j, nil
}

// New wraps an already open database and ensures the schema.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Journal, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return newJournal(db, opts), nil
}

func newJournal(db *sql.DB, opts []Option) *Journal {
	j := &Journal{db: db, logger: slog.Default(), newID: idgen.Default, now: time.Now}
	for _, o := range opts {
		o(j)
	}
	return j
}

// StartRun records the start of a run.
func (j *Journal) StartRun(ctx context.Context, runID string, pending int) error {
	_, err := dbopen.Exec(ctx, j.db,
		`INSERT INTO runs (run_id, started_at, pending) VALUES (?, ?, ?)`,
		runID, j.now().UnixMilli(), pending)
	if err != nil {
		return fmt.Errorf("journal: start run: %w", err)
	}
	return nil
}

// Record stores the outcome of one attempt.
func (j *Journal) Record(ctx context.Context, runID string, o driver.Outcome) error {
	var kind, manifest, errText string
	soft := o.Soft
	if o.Result != nil {
		kind, manifest = string(o.Result.Kind), o.Result.Manifest
		soft = o.Result.SoftFailures
	}
	if o.Err != nil {
		errText = o.Err.Error()
	}
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO attempts (id, run_id, target_id, status, kind, manifest, error, soft_failures, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.newID(), runID, o.Target.ID, o.Status(), kind, manifest, errText,
		strings.Join(soft, ","), o.Elapsed.Milliseconds(), j.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("journal: record %s: %w", o.Target.ID, err)
	}
	return nil
}

// FinishRun stamps the end of a run with its counters.
func (j *Journal) FinishRun(ctx context.Context, runID string, found, notFound, failed int) error {
	_, err := dbopen.Exec(ctx, j.db, `
		UPDATE runs SET finished_at = ?, found = ?, not_found = ?, failed = ?
		WHERE run_id = ?`,
		j.now().UnixMilli(), found, notFound, failed, runID)
	if err != nil {
		return fmt.Errorf("journal: finish run: %w", err)
	}
	return nil
}

// Attempts returns every attempt for targetID, oldest first.
func (j *Journal) Attempts(ctx context.Context, targetID string) ([]Attempt, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, run_id, target_id, status, kind, manifest, error, soft_failures, elapsed_ms, created_at
		FROM attempts WHERE target_id = ?
		ORDER BY created_at ASC, id ASC`, targetID)
	if err != nil {
		return nil, fmt.Errorf("journal: attempts: %w", err)
	}
	defer rows.Close()

	var out []Attempt
	for rows.Next() {
		var a Attempt
		var soft string
		var elapsed, created int64
		if err := rows.Scan(&a.ID, &a.RunID, &a.TargetID, &a.Status, &a.Kind, &a.Manifest,
			&a.Error, &soft, &elapsed, &created); err != nil {
			return nil, fmt.Errorf("journal: scan attempt: %w", err)
		}
		if soft != "" {
			a.SoftFailures = strings.Split(soft, ",")
		}
		a.Elapsed = time.Duration(elapsed) * time.Millisecond
		a.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// Runs returns the most recent runs, newest first. limit <= 0 returns all.
func (j *Journal) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT run_id, started_at, finished_at, pending, found, not_found, failed
		FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &started, &finished, &r.Pending, &r.Found, &r.NotFound, &r.Failed); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		if finished > 0 {
			r.FinishedAt = time.UnixMilli(finished).UTC()
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database when the journal opened it.
func (j *Journal) Close() error {
	if !j.owned {
		return nil
	}
	return j.db.Close()
}
