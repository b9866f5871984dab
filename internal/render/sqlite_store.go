package render

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, status, progress, format, output_path, url, error, created_at, updated_at, finished_at`

// SQLiteStore keeps jobs in the render_jobs table.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) Create(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO render_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, string(j.Status), j.Progress, j.Format,
		nullString(j.OutputPath), nullString(j.URL), nullString(j.Error),
		formatTime(j.CreatedAt), formatTime(j.UpdatedAt), nullTime(j.FinishedAt))
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return ErrExists
	}
	return err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return j, err
}

func (s *SQLiteStore) Update(ctx context.Context, id string, fn func(*Job) error) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin update: %w", err)
	}
	defer tx.Rollback()

	current, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM render_jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if current.Status.Terminal() {
		return current, ErrTerminal
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return current, err
	}
	next.UpdatedAt = time.Now().UTC()
	if err := checkTransition(current, next); err != nil {
		return current, err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE render_jobs
		SET status = ?, progress = ?, format = ?, output_path = ?, url = ?, error = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, string(next.Status), next.Progress, next.Format,
		nullString(next.OutputPath), nullString(next.URL), nullString(next.Error),
		formatTime(next.UpdatedAt), nullTime(next.FinishedAt), id)
	if err != nil {
		return current, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return current, fmt.Errorf("commit update: %w", err)
	}
	return next, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM render_jobs ORDER BY created_at DESC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM render_jobs
		WHERE status IN (?, ?, ?, ?) AND finished_at IS NOT NULL AND finished_at < ?
	`, string(StatusCompleted), string(StatusError), string(StatusCancelled), string(StatusTimeout), formatTime(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var j Job
	var status string
	var outputPath, url, errMsg, finishedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&j.ID, &status, &j.Progress, &j.Format, &outputPath, &url, &errMsg, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.OutputPath = outputPath.String
	j.URL = url.String
	j.Error = errMsg.String
	j.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	j.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	if finishedAt.Valid {
		if t, err := time.Parse(timeLayout, finishedAt.String); err == nil {
			j.FinishedAt = &t
		}
	}
	return &j, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
