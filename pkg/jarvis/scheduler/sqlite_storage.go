// Package scheduler – sqlite_storage.go implements TaskStorage on a SQLite
// handle, usually the one opened by the memory store so both live in the
// same database file.
package scheduler

import (
	"database/sql"
	"fmt"
	"time"
)

// SQLiteTaskStorage persists tasks in the "scheduled_tasks" table.
type SQLiteTaskStorage struct {
	db *sql.DB
}

// NewSQLiteTaskStorage creates the table if needed.
func NewSQLiteTaskStorage(db *sql.DB) (*SQLiteTaskStorage, error) {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id                TEXT PRIMARY KEY,
			name              TEXT NOT NULL,
			command           TEXT NOT NULL,
			type              TEXT NOT NULL,
			time_spec         TEXT NOT NULL,
			repeat            INTEGER NOT NULL DEFAULT 0,
			status            TEXT NOT NULL,
			created_at        TEXT NOT NULL,
			last_run          TEXT,
			next_run          TEXT NOT NULL,
			last_error        TEXT NOT NULL DEFAULT '',
			run_count         INTEGER NOT NULL DEFAULT 0,
			last_run_duration INTEGER NOT NULL DEFAULT 0
		)`)
	if err != nil {
		return nil, fmt.Errorf("create scheduled_tasks: %w", err)
	}
	return &SQLiteTaskStorage{db: db}, nil
}

// Save inserts or replaces a task.
func (s *SQLiteTaskStorage) Save(t *Task) error {
	var lastRun sql.NullString
	if t.LastRun != nil {
		lastRun = sql.NullString{String: t.LastRun.UTC().Format(time.RFC3339Nano), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO scheduled_tasks
			(id, name, command, type, time_spec, repeat, status, created_at,
			 last_run, next_run, last_error, run_count, last_run_duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID,
		t.Name,
		t.Command,
		string(t.Type),
		t.Time,
		boolToInt(t.Repeat),
		string(t.Status),
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
		lastRun,
		t.NextRun.UTC().Format(time.RFC3339Nano),
		t.LastError,
		t.RunCount,
		int64(t.LastRunDuration),
	)
	if err != nil {
		return fmt.Errorf("save task %q: %w", t.ID, err)
	}
	return nil
}

// Delete removes a task by id.
func (s *SQLiteTaskStorage) Delete(id string) error {
	if _, err := s.db.Exec("DELETE FROM scheduled_tasks WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete task %q: %w", id, err)
	}
	return nil
}

// LoadAll reads every persisted task.
func (s *SQLiteTaskStorage) LoadAll() ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT id, name, command, type, time_spec, repeat, status, created_at,
		       last_run, next_run, last_error, run_count, last_run_duration
		FROM scheduled_tasks`)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var (
			t         Task
			typ       string
			status    string
			repeat    int
			createdAt string
			lastRun   sql.NullString
			nextRun   string
			duration  int64
		)
		if err := rows.Scan(
			&t.ID, &t.Name, &t.Command, &typ, &t.Time, &repeat, &status,
			&createdAt, &lastRun, &nextRun, &t.LastError, &t.RunCount, &duration,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}

		t.Type = ScheduleType(typ)
		t.Status = Status(status)
		t.Repeat = repeat != 0
		t.LastRunDuration = time.Duration(duration)
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		t.NextRun, _ = time.Parse(time.RFC3339Nano, nextRun)
		if lastRun.Valid {
			lr, _ := time.Parse(time.RFC3339Nano, lastRun.String)
			t.LastRun = &lr
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
