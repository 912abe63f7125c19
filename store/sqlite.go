// Package store implements task.Store on SQLite.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"grapelm/task"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Fixed width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLite is a task.Store backed by a single SQLite file. All access goes
// through one connection, which serialises writes.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies
// pending migrations.
func Open(ctx context.Context, path string) (*SQLite, error) {
	db, err := OpenDB(path)
	if err != nil {
		return nil, err
	}
	if _, err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLite{db: db}, nil
}

// OpenDB opens the SQLite file at path without migrating it.
func OpenDB(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// Migrate applies the embedded schema migrations and returns the versions
// it applied.
func Migrate(ctx context.Context, db *sql.DB) ([]int64, error) {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("create migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	applied := make([]int64, 0, len(results))
	for _, r := range results {
		applied = append(applied, r.Source.Version)
	}
	return applied, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Create inserts a Pending record. An existing id is left untouched and
// reported as task.ErrDuplicateTask.
func (s *SQLite) Create(ctx context.Context, rec *task.Record) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, name, status, upload_time) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		rec.ID, rec.Name, string(task.StatusPending), rec.UploadTime.UTC().Format(timeLayout))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", task.ErrDuplicateTask, rec.ID)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*task.Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, status, upload_time, start_time, end_time, error_message
		 FROM tasks WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, task.ErrNotFound
	}
	return rec, err
}

func (s *SQLite) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, task.StatusPending,
		`UPDATE tasks SET status = ?, start_time = ? WHERE id = ? AND status = ?`,
		string(task.StatusProcessing), at.UTC().Format(timeLayout), id, string(task.StatusPending))
}

func (s *SQLite) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	return s.transition(ctx, id, task.StatusProcessing,
		`UPDATE tasks SET status = ?, end_time = ? WHERE id = ? AND status = ?`,
		string(task.StatusCompleted), at.UTC().Format(timeLayout), id, string(task.StatusProcessing))
}

func (s *SQLite) MarkFailed(ctx context.Context, id string, msg string, at time.Time) error {
	if msg == "" {
		msg = "Unknown error"
	}
	return s.transition(ctx, id, task.StatusProcessing,
		`UPDATE tasks SET status = ?, end_time = ?, error_message = ? WHERE id = ? AND status = ?`,
		string(task.StatusFailed), at.UTC().Format(timeLayout), msg, id, string(task.StatusProcessing))
}

func (s *SQLite) ListByStatus(ctx context.Context, status task.Status) ([]*task.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, status, upload_time, start_time, end_time, error_message
		 FROM tasks WHERE status = ? ORDER BY upload_time`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*task.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// transition runs a conditional update and explains a no-op: the id is
// unknown or the record is not in the expected state.
func (s *SQLite) transition(ctx context.Context, id string, from task.Status, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM tasks WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return task.ErrNotFound
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: task %s is %s, expected %s", task.ErrInvalidTransition, id, current, from)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*task.Record, error) {
	var (
		rec                task.Record
		status, uploadTime string
		startTime, endTime sql.NullString
		errorMessage       sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.Name, &status, &uploadTime, &startTime, &endTime, &errorMessage); err != nil {
		return nil, err
	}
	rec.Status = task.Status(status)

	t, err := time.Parse(timeLayout, uploadTime)
	if err != nil {
		return nil, fmt.Errorf("parse upload_time of %s: %w", rec.ID, err)
	}
	rec.UploadTime = t
	if rec.StartTime, err = parseNullTime(startTime); err != nil {
		return nil, fmt.Errorf("parse start_time of %s: %w", rec.ID, err)
	}
	if rec.EndTime, err = parseNullTime(endTime); err != nil {
		return nil, fmt.Errorf("parse end_time of %s: %w", rec.ID, err)
	}
	if errorMessage.Valid {
		msg := errorMessage.String
		rec.ErrorMessage = &msg
	}
	return &rec, nil
}

func parseNullTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid {
		return nil, nil
	}
	t, err := time.Parse(timeLayout, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
