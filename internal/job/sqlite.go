package job

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crategate/crategate/internal/crate"
)

// SQLiteStore is a SQLite-backed implementation of Store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore runs the jobs migrations on db.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate jobs: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			id                TEXT PRIMARY KEY,
			kind              TEXT NOT NULL,
			status            TEXT NOT NULL DEFAULT 'SCHEDULED',
			payload           BLOB,
			download_url      TEXT NOT NULL DEFAULT '',
			validation_result TEXT,
			errors            TEXT,
			created_at        DATETIME NOT NULL,
			started_at        DATETIME,
			completed_at      DATETIME
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status       ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_completed_at ON jobs(completed_at);
	`)
	return err
}

func (s *SQLiteStore) Create(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, status, payload, created_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		j.ID,
		j.Kind,
		StatusScheduled,
		j.Payload,
		j.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, status, payload, download_url, validation_result, errors,
		       created_at, started_at, completed_at
		FROM jobs WHERE id = ?
	`, id)

	j := &Job{}
	var report, errs sql.NullString
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&j.ID, &j.Kind, &j.Status, &j.Payload, &j.DownloadURL, &report, &errs,
		&j.CreatedAt, &startedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}

	if report.Valid {
		j.ValidationResult = &crate.Report{}
		if err := json.Unmarshal([]byte(report.String), j.ValidationResult); err != nil {
			return nil, fmt.Errorf("decode validation result of job %s: %w", id, err)
		}
	}
	if errs.Valid {
		if err := json.Unmarshal([]byte(errs.String), &j.Errors); err != nil {
			return nil, fmt.Errorf("decode errors of job %s: %w", id, err)
		}
	}
	if startedAt.Valid {
		t := startedAt.Time
		j.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		j.CompletedAt = &t
	}
	return j, nil
}

// Transition is a single conditional UPDATE, so two writers racing on the
// same job cannot both advance it and a terminal row is written whole.
func (s *SQLiteStore) Transition(ctx context.Context, id string, to Status, r Result) error {
	if err := r.check(to); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTransition, err)
	}
	from := predecessors[to]

	report, err := nullableJSON(r.ValidationResult, r.ValidationResult != nil)
	if err != nil {
		return fmt.Errorf("encode validation result: %w", err)
	}
	errs, err := nullableJSON(r.Errors, len(r.Errors) > 0)
	if err != nil {
		return fmt.Errorf("encode errors: %w", err)
	}

	now := time.Now().UTC()
	var startedAt, completedAt any
	if to == StatusRunning {
		startedAt = now
	}
	if to.IsTerminal() {
		completedAt = now
	}

	args := []any{to, r.DownloadURL, report, errs, startedAt, completedAt, id}
	for _, st := range from {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, download_url = ?, validation_result = ?, errors = ?,
		    started_at = COALESCE(?, started_at), completed_at = ?
		WHERE id = ? AND status IN (`+placeholders(len(from))+`)
	`, args...)
	if err != nil {
		return fmt.Errorf("transition job %s to %s: %w", id, to, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition job %s to %s: %w", id, to, err)
	}
	if n == 1 {
		return nil
	}

	var current Status
	err = s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("transition job %s to %s: %w", id, to, err)
	}
	return fmt.Errorf("job %s: %w: %s -> %s", id, ErrInvalidTransition, current, to)
}

func (s *SQLiteStore) Recover(ctx context.Context) ([]string, int, error) {
	errs, err := json.Marshal([]Error{{Message: InterruptedMessage}})
	if err != nil {
		return nil, 0, err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, errors = ?, completed_at = ? WHERE status = ?
	`, StatusFailed, string(errs), time.Now().UTC(), StatusRunning)
	if err != nil {
		return nil, 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}
	interrupted, err := res.RowsAffected()
	if err != nil {
		return nil, 0, fmt.Errorf("fail interrupted jobs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM jobs WHERE status = ? ORDER BY created_at, id
	`, StatusScheduled)
	if err != nil {
		return nil, 0, fmt.Errorf("query scheduled jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, 0, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate scheduled jobs: %w", err)
	}
	return ids, int(interrupted), nil
}

func (s *SQLiteStore) DeleteTerminalBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN (?, ?)
		AND completed_at IS NOT NULL
		AND completed_at < ?
	`, StatusCompleted, StatusFailed, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete terminal jobs: %w", err)
	}
	return res.RowsAffected()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// nullableJSON returns nil when present is false, otherwise v encoded as a JSON string.
func nullableJSON(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
