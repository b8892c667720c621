// Package memory – sqlite_store.go implements Store on a local SQLite file.
// The interaction log is trimmed to the configured cap on every insert.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver.
)

// SQLiteStore is a Store backed by SQLite.
type SQLiteStore struct {
	db     *sql.DB
	max    int
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at dbPath.
func NewSQLiteStore(dbPath string, maxInteractions int, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxInteractions <= 0 {
		maxInteractions = DefaultMaxInteractions
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		max:    maxInteractions,
		logger: logger.With("component", "memory"),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

// DB exposes the handle so other stores (scheduler tasks) can share the file.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS interactions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			speaker    TEXT NOT NULL,
			message    TEXT NOT NULL,
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS context (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS preferences (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) StoreContext(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO context (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store context %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetContext(ctx context.Context, key string) (ContextValue, error) {
	var (
		cv        ContextValue
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, updated_at FROM context WHERE key = ?`, key).Scan(&cv.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ContextValue{}, ErrNotFound
	}
	if err != nil {
		return ContextValue{}, fmt.Errorf("get context %q: %w", key, err)
	}
	cv.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
	return cv, nil
}

func (s *SQLiteStore) AddInteraction(ctx context.Context, speaker, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interactions (speaker, message, created_at) VALUES (?, ?, ?)`,
		speaker, message, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("add interaction: %w", err)
	}

	// Keep only the newest s.max rows.
	_, err = s.db.ExecContext(ctx, `
		DELETE FROM interactions WHERE id NOT IN (
			SELECT id FROM interactions ORDER BY id DESC LIMIT ?
		)`, s.max)
	if err != nil {
		s.logger.Warn("failed to trim interactions", "error", err)
	}
	return nil
}

func (s *SQLiteStore) RecentInteractions(ctx context.Context, n int) ([]Interaction, error) {
	if n <= 0 {
		n = s.max
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, speaker, message, created_at FROM (
			SELECT id, speaker, message, created_at FROM interactions ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`, n)
	if err != nil {
		return nil, fmt.Errorf("recent interactions: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		var (
			it        Interaction
			createdAt string
		)
		if err := rows.Scan(&it.ID, &it.Speaker, &it.Message, &createdAt); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		it.Timestamp, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetPreference(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO preferences (key, value) VALUES (?, ?)`, key, value)
	if err != nil {
		return fmt.Errorf("set preference %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) GetPreference(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM preferences WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get preference %q: %w", key, err)
	}
	return v, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
