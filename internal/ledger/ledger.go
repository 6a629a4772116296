// Package ledger keeps a SQLite history of pipeline runs: which stages ran,
// how they ended, and the per-submission outcome of each evaluation pass.
// The JSON artifacts remain the data contract between stages; the ledger is
// an audit trail next to them.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/challenge-pipeline/internal/failure"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id      TEXT PRIMARY KEY,
	started_at  TEXT NOT NULL,
	finished_at TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL DEFAULT 'running',
	failed_stage TEXT NOT NULL DEFAULT '',
	error       TEXT NOT NULL DEFAULT '',
	options     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS stage_results (
	run_id      TEXT NOT NULL,
	position    INTEGER NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0,
	items       INTEGER NOT NULL DEFAULT 0,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);

CREATE TABLE IF NOT EXISTS evaluation_outcomes (
	run_id        TEXT NOT NULL,
	submission_id TEXT NOT NULL,
	status        TEXT NOT NULL,
	reused        INTEGER NOT NULL DEFAULT 0,
	attempts      INTEGER NOT NULL DEFAULT 0,
	error         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, submission_id)
);
`

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

type Run struct {
	RunID       string `db:"run_id"`
	StartedAt   string `db:"started_at"`
	FinishedAt  string `db:"finished_at"`
	Status      string `db:"status"`
	FailedStage string `db:"failed_stage"`
	Error       string `db:"error"`
	Options     string `db:"options"`
}

type StageResult struct {
	RunID      string `db:"run_id"`
	Position   int    `db:"position"`
	Stage      string `db:"stage"`
	Status     string `db:"status"`
	StartedAt  string `db:"started_at"`
	DurationMS int64  `db:"duration_ms"`
	Items      int    `db:"items"`
	Error      string `db:"error"`
}

type EvaluationOutcome struct {
	RunID        string `db:"run_id"`
	SubmissionID string `db:"submission_id"`
	Status       string `db:"status"`
	Reused       bool   `db:"reused"`
	Attempts     int    `db:"attempts"`
	Error        string `db:"error"`
}

type Ledger struct {
	db    *sqlx.DB
	mu    sync.Mutex
	clock func() time.Time
}

func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Ledger{db: db, clock: time.Now}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) now() string {
	return l.clock().UTC().Format(time.RFC3339Nano)
}

// StartRun records a new run and returns its id.
func (l *Ledger) StartRun(ctx context.Context, options string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, status, options) VALUES (?, ?, ?, ?)`,
		id, l.now(), StatusRunning, options)
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// FinishRun closes a run. failedStage and runErr are empty on success.
func (l *Ledger) FinishRun(ctx context.Context, runID, failedStage string, runErr error) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	status, msg := StatusSucceeded, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, failed_stage = ?, error = ? WHERE run_id = ?`,
		l.now(), status, failedStage, msg, runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

func (l *Ledger) RecordStage(ctx context.Context, r StageResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.NamedExecContext(ctx,
		`INSERT OR REPLACE INTO stage_results (run_id, position, stage, status, started_at, duration_ms, items, error)
		 VALUES (:run_id, :position, :stage, :status, :started_at, :duration_ms, :items, :error)`, r)
	if err != nil {
		return fmt.Errorf("insert stage result: %w", err)
	}
	return nil
}

// RecordEvaluations stores the per-submission outcome of one evaluation pass.
func (l *Ledger) RecordEvaluations(ctx context.Context, outcomes []EvaluationOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	for _, o := range outcomes {
		if _, err := tx.NamedExecContext(ctx,
			`INSERT OR REPLACE INTO evaluation_outcomes (run_id, submission_id, status, reused, attempts, error)
			 VALUES (:run_id, :submission_id, :status, :reused, :attempts, :error)`, o); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert evaluation outcome %s: %w", o.SubmissionID, err)
		}
	}
	return tx.Commit()
}

// Run returns one run. An unknown id is a not-found error.
func (l *Ledger) Run(ctx context.Context, runID string) (Run, error) {
	var r Run
	err := l.db.GetContext(ctx, &r, `SELECT run_id, started_at, finished_at, status, failed_stage, error, options FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return r, failure.NotFound("ledger run", fmt.Errorf("no run %q", runID))
	}
	return r, err
}

func (l *Ledger) Stages(ctx context.Context, runID string) ([]StageResult, error) {
	var out []StageResult
	err := l.db.SelectContext(ctx, &out,
		`SELECT run_id, position, stage, status, started_at, duration_ms, items, error
		 FROM stage_results WHERE run_id = ? ORDER BY position`, runID)
	return out, err
}

func (l *Ledger) Evaluations(ctx context.Context, runID string) ([]EvaluationOutcome, error) {
	var out []EvaluationOutcome
	err := l.db.SelectContext(ctx, &out,
		`SELECT run_id, submission_id, status, reused, attempts, error
		 FROM evaluation_outcomes WHERE run_id = ? ORDER BY submission_id`, runID)
	return out, err
}

// LatestRuns returns up to limit runs, newest first.
func (l *Ledger) LatestRuns(ctx context.Context, limit int) ([]Run, error) {
	var out []Run
	err := l.db.SelectContext(ctx, &out,
		`SELECT run_id, started_at, finished_at, status, failed_stage, error, options
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	return out, err
}
