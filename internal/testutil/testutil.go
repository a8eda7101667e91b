// Package testutil provides shared test infrastructure: a temp-file SQLite
// store with migrations applied, and a discard logger.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/ashita-ai/kumo/internal/storage"
	"github.com/ashita-ai/kumo/migrations"
)

// NewTestStore opens a migrated store in t's temp dir. The store closes
// when the test ends.
func NewTestStore(t *testing.T) *storage.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kumo_test.db")
	store, err := storage.Open(context.Background(), path, migrations.FS, DiscardLogger())
	if err != nil {
		t.Fatalf("testutil: open test store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
