// Package storage provides the SQLite persistence layer: runs, run events,
// routing decisions, source documents and segments, entities, claims,
// metrics, snapshots, and deltas.
//
// The driver is modernc.org/sqlite (pure Go) through database/sql. One
// store serves the whole process; SQLite's serialized mode plus WAL keeps
// concurrent writers safe.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps the SQLite database handle.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// Open creates or opens the database at path and applies migrations from
// migrationsFS.
func Open(ctx context.Context, path string, migrationsFS fs.FS, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("storage: create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	// SQLite handles one writer at a time; a single connection avoids
	// SQLITE_BUSY churn under concurrent runs.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping %s: %w", path, err)
	}

	s := &Store{db: db, path: path, logger: logger}
	if err := s.migrate(ctx, migrationsFS); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// migrate applies every .sql file in migrationsFS in lexical order.
// Migrations are idempotent (CREATE IF NOT EXISTS), so re-running is safe.
func (s *Store) migrate(ctx context.Context, migrationsFS fs.FS) error {
	if migrationsFS == nil {
		return nil
	}
	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("storage: read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)

	for _, name := range names {
		data, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("storage: read migration %s: %w", name, err)
		}
		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("storage: apply migration %s: %w", name, err)
		}
		s.logger.Debug("migration applied", "file", name)
	}
	return nil
}

// nowUTC formats the current time the way every table stores timestamps.
func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// formatTime renders a timestamp column value.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime reads a timestamp column value.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
