// Package jobstore records render and post-processing jobs in SQLite.
package jobstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/keagan/reelcut/pkg/util"
)

// ErrNotFound is returned when no job has the requested id.
var ErrNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
type Status string

const (
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Job is one recorded run.
type Job struct {
	ID        string        `json:"id"`
	Kind      string        `json:"kind"`
	Inputs    []string      `json:"inputs"`
	Output    string        `json:"output"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Frames    int           `json:"frames,omitempty"`
	Degraded  []string      `json:"degraded,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Outcome is what Finish records about a completed job.
type Outcome struct {
	Err      error
	Frames   int
	Degraded []string
	Elapsed  time.Duration
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	inputs     TEXT NOT NULL DEFAULT '[]',
	output     TEXT NOT NULL,
	status     TEXT NOT NULL,
	error      TEXT NOT NULL DEFAULT '',
	frames     INTEGER NOT NULL DEFAULT 0,
	degraded   TEXT NOT NULL DEFAULT '[]',
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store persists jobs.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the job database at path.
func Open(path string) (*Store, error) {
	if err := util.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.markInterrupted(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("mark interrupted jobs: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path is the database file.
func (s *Store) Path() string { return s.path }

// Start records a running job and returns it.
func (s *Store) Start(ctx context.Context, kind string, inputs []string, output string) (*Job, error) {
	if inputs == nil {
		inputs = []string{}
	}
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.NewString(),
		Kind:      kind,
		Inputs:    inputs,
		Output:    output,
		Status:    StatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	raw, err := json.Marshal(job.Inputs)
	if err != nil {
		return nil, fmt.Errorf("encode inputs: %w", err)
	}
	err = retryOnBusy(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO jobs (id, kind, inputs, output, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			job.ID, job.Kind, string(raw), job.Output, string(job.Status), now.UnixMilli(), now.UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

// Finish marks a job done, or failed when out.Err is set.
func (s *Store) Finish(ctx context.Context, id string, out Outcome) error {
	status, msg := StatusDone, ""
	if out.Err != nil {
		status, msg = StatusFailed, out.Err.Error()
	}
	degraded := out.Degraded
	if degraded == nil {
		degraded = []string{}
	}
	raw, err := json.Marshal(degraded)
	if err != nil {
		return fmt.Errorf("encode degraded: %w", err)
	}

	var res sql.Result
	err = retryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`UPDATE jobs SET status = ?, error = ?, frames = ?, degraded = ?, elapsed_ms = ?, updated_at = ? WHERE id = ?`,
			string(status), msg, out.Frames, string(raw), out.Elapsed.Milliseconds(), time.Now().UTC().UnixMilli(), id)
		return execErr
	})
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads one job.
func (s *Store) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, selectJobs+` WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns the newest jobs first. A limit of zero or less returns all.
func (s *Store) List(ctx context.Context, limit int) ([]*Job, error) {
	query := selectJobs + ` ORDER BY created_at DESC, rowid DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

const selectJobs = `SELECT id, kind, inputs, output, status, error, frames, degraded, elapsed_ms, created_at, updated_at FROM jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(sc scanner) (*Job, error) {
	var (
		job              Job
		inputs, degraded string
		status           string
		elapsed          int64
		created, updated int64
	)
	if err := sc.Scan(&job.ID, &job.Kind, &inputs, &job.Output, &status, &job.Error,
		&job.Frames, &degraded, &elapsed, &created, &updated); err != nil {
		return nil, err
	}
	job.Status = Status(status)
	job.Elapsed = time.Duration(elapsed) * time.Millisecond
	job.CreatedAt = time.UnixMilli(created).UTC()
	job.UpdatedAt = time.UnixMilli(updated).UTC()
	if err := json.Unmarshal([]byte(inputs), &job.Inputs); err != nil {
		return nil, fmt.Errorf("decode inputs: %w", err)
	}
	if err := json.Unmarshal([]byte(degraded), &job.Degraded); err != nil {
		return nil, fmt.Errorf("decode degraded: %w", err)
	}
	return &job, nil
}

// markInterrupted fails jobs left running by a process that exited mid-job.
func (s *Store) markInterrupted(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, error = 'interrupted', updated_at = ? WHERE status = ?`,
		string(StatusFailed), time.Now().UTC().UnixMilli(), string(StatusRunning))
	return err
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
