package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/example/activities-management/internal/persistence/migration"
	"github.com/example/activities-management/internal/persistence/sqlstore"
)

// NewSQLiteStore opens a migrated SQLite store in a temporary directory. The
// store is closed when the test finishes.
func NewSQLiteStore(tb testing.TB) *sqlstore.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "activities.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlstore.Open(context.Background(), migration.DialectSQLite, path, logger)
	if err != nil {
		tb.Fatalf("failed to open store: %v", err)
	}
	tb.Cleanup(func() {
		_ = store.Close()
	})

	if _, err := store.Migrate(context.Background()); err != nil {
		tb.Fatalf("failed to migrate store: %v", err)
	}
	return store
}
