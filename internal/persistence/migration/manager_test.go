package migration

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "migrations.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return count == 1
}

func TestScanOrdersAndDescribesMigrations(t *testing.T) {
	t.Parallel()

	source := fstest.MapFS{
		"002_add_notes.sql":      {Data: []byte("ALTER TABLE things ADD COLUMN note TEXT;")},
		"001_create_things.sql":  {Data: []byte("-- Description: things table\nCREATE TABLE things (id TEXT);")},
		"README.md":              {Data: []byte("not a migration")},
		"nested/003_ignored.sql": {Data: []byte("CREATE TABLE ignored (id TEXT);")},
	}

	migrations, err := Scan(source)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Version != "001" || migrations[0].Description != "things table" {
		t.Fatalf("unexpected first migration %#v", migrations[0])
	}
	if migrations[1].Version != "002" || migrations[1].Description != "add notes" {
		t.Fatalf("unexpected second migration %#v", migrations[1])
	}
	if migrations[0].Checksum == "" || migrations[0].Checksum == migrations[1].Checksum {
		t.Fatalf("expected distinct checksums")
	}
}

func TestScanRejectsInvalidFiles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		source fstest.MapFS
		want   error
	}{
		{name: "bad filename", source: fstest.MapFS{"create things.sql": {Data: []byte("SELECT 1;")}}, want: ErrInvalidMigrationFile},
		{name: "comment only", source: fstest.MapFS{"001_empty.sql": {Data: []byte("-- nothing here\n")}}, want: ErrInvalidMigrationFile},
		{name: "duplicate version", source: fstest.MapFS{
			"001_a.sql": {Data: []byte("SELECT 1;")},
			"001_b.sql": {Data: []byte("SELECT 2;")},
		}, want: ErrDuplicateVersion},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := Scan(tc.source); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestSplitStatements(t *testing.T) {
	t.Parallel()

	statements := splitStatements(`
-- header
CREATE TABLE a (id TEXT);

-- second
CREATE INDEX idx_a ON a (id);
`)
	if len(statements) != 2 || statements[0] != "CREATE TABLE a (id TEXT)" {
		t.Fatalf("unexpected statements %q", statements)
	}
}

func TestDialectRebind(t *testing.T) {
	t.Parallel()

	query := "SELECT document FROM t WHERE a = ? AND b >= ?"
	if got := DialectSQLite.Rebind(query); got != query {
		t.Fatalf("expected sqlite query unchanged, got %q", got)
	}
	if got := DialectPostgres.Rebind(query); got != "SELECT document FROM t WHERE a = $1 AND b >= $2" {
		t.Fatalf("unexpected postgres query %q", got)
	}
	if _, err := ParseDialect("mysql"); err == nil {
		t.Fatalf("expected unsupported dialect error")
	}
}

func TestEmbeddedSourcesMatchAcrossDialects(t *testing.T) {
	t.Parallel()

	var versions [][]string
	for _, dialect := range []Dialect{DialectSQLite, DialectPostgres} {
		source, err := Source(dialect)
		if err != nil {
			t.Fatalf("Source(%s) failed: %v", dialect, err)
		}
		migrations, err := Scan(source)
		if err != nil {
			t.Fatalf("Scan(%s) failed: %v", dialect, err)
		}
		var vs []string
		for _, m := range migrations {
			vs = append(vs, m.Version)
		}
		versions = append(versions, vs)
	}
	if len(versions[0]) == 0 || len(versions[0]) != len(versions[1]) {
		t.Fatalf("expected the same migration versions for every dialect, got %v", versions)
	}
}

func TestManagerRunAppliesEmbeddedSchemaOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	manager, err := NewManager(db, DialectSQLite, quietLogger())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	applied, err := manager.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if applied == 0 {
		t.Fatalf("expected migrations to be applied")
	}
	for _, table := range []string{"appointment_series", "appointment_occurrences", "occurrence_attendees", "allocations"} {
		if !tableExists(t, db, table) {
			t.Fatalf("expected table %s", table)
		}
	}

	again, err := manager.Run(ctx)
	if err != nil || again != 0 {
		t.Fatalf("expected second run to apply nothing, got %d (%v)", again, err)
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.CurrentVersion != "001" || status.PendingCount != 0 || len(status.AppliedMigrations) != applied {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestManagerRollsBackFailedMigration(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db := openTestDB(t)
	source := fstest.MapFS{
		"001_create_things.sql": {Data: []byte("CREATE TABLE things (id TEXT);")},
		"002_broken.sql":        {Data: []byte("CREATE TABLE partial (id TEXT);\nINSERT INTO missing_table VALUES (1);")},
	}
	manager := NewManagerWithSource(db, DialectSQLite, source, quietLogger())

	applied, err := manager.Run(ctx)
	if !errors.Is(err, ErrMigrationFailed) {
		t.Fatalf("expected ErrMigrationFailed, got %v", err)
	}
	var migrationErr *MigrationError
	if !errors.As(err, &migrationErr) || migrationErr.Version != "002" {
		t.Fatalf("expected failure attributed to 002, got %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected one migration applied before the failure, got %d", applied)
	}
	if !tableExists(t, db, "things") || tableExists(t, db, "partial") {
		t.Fatalf("expected 001 kept and 002 rolled back")
	}

	status, err := manager.Status(ctx)
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if status.CurrentVersion != "001" || status.PendingCount != 1 {
		t.Fatalf("unexpected status %#v", status)
	}
}

func TestManagerValidatesSequence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	gap := NewManagerWithSource(openTestDB(t), DialectSQLite, fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
		"003_c.sql": {Data: []byte("CREATE TABLE c (id TEXT);")},
	}, quietLogger())
	if _, err := gap.Run(ctx); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for gap, got %v", err)
	}

	db := openTestDB(t)
	original := NewManagerWithSource(db, DialectSQLite, fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
	}, quietLogger())
	if _, err := original.Run(ctx); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	edited := NewManagerWithSource(db, DialectSQLite, fstest.MapFS{
		"001_a.sql": {Data: []byte("CREATE TABLE a (id TEXT, extra TEXT);")},
	}, quietLogger())
	if _, err := edited.Run(ctx); !errors.Is(err, ErrChecksumMismatch) {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}

	removed := NewManagerWithSource(db, DialectSQLite, fstest.MapFS{
		"002_b.sql": {Data: []byte("CREATE TABLE b (id TEXT);")},
	}, quietLogger())
	if _, err := removed.Run(ctx); !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict for missing applied file, got %v", err)
	}
}
