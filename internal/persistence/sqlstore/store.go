// Package sqlstore persists appointment series, occurrences and allocations
// in SQLite or PostgreSQL. Each record is stored as a JSON document next to
// the columns the repositories filter on.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/example/activities-management/internal/persistence/migration"
)

// Store implements the series, occurrence and allocation repositories on a
// database/sql pool.
type Store struct {
	db      *sql.DB
	dialect migration.Dialect
	logger  *slog.Logger
}

// Open connects to the database described by dialect and dsn. For SQLite the
// dsn is a file path or file: URI.
func Open(ctx context.Context, dialect migration.Dialect, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var (
		driver string
		source string
	)
	switch dialect {
	case migration.DialectSQLite:
		driver, source = "sqlite", sqliteDSN(dsn)
	case migration.DialectPostgres:
		driver, source = "pgx", dsn
	default:
		return nil, fmt.Errorf("sqlstore: unsupported dialect %q", dialect)
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", dialect, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: ping %s: %w", dialect, err)
	}

	return &Store{db: db, dialect: dialect, logger: logger}, nil
}

// sqliteDSN adds the connection pragmas every SQLite connection needs.
// Write transactions begin IMMEDIATE so a read-modify-write holds the
// database lock from its first read.
func sqliteDSN(path string) string {
	source := path
	if !strings.HasPrefix(source, "file:") {
		source = "file:" + source
	}
	separator := "?"
	if strings.Contains(source, "?") {
		separator = "&"
	}
	return source + separator + strings.Join([]string{
		"_txlock=immediate",
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
		"_pragma=journal_mode(WAL)",
	}, "&")
}

// Migrate applies pending schema migrations and returns how many ran.
func (s *Store) Migrate(ctx context.Context) (int, error) {
	manager, err := migration.NewManager(s.db, s.dialect, s.logger)
	if err != nil {
		return 0, err
	}
	return manager.Run(ctx)
}

// Dialect reports the SQL engine behind the store.
func (s *Store) Dialect() migration.Dialect {
	return s.dialect
}

// Close closes the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTransaction runs fn in a transaction, committing when fn returns nil.
// Errors returned by fn are passed through unchanged.
func (s *Store) withTransaction(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin transaction: %w", mapError(err))
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.WarnContext(ctx, "transaction rollback failed", slog.String("error", rbErr.Error()))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit transaction: %w", mapError(err))
	}
	return nil
}

// q rebinds a query for the store's dialect.
func (s *Store) q(query string) string {
	return s.dialect.Rebind(query)
}

// forUpdate locks the selected row on engines with row locks. SQLite
// transactions already hold the database write lock.
func (s *Store) forUpdate() string {
	if s.dialect == migration.DialectPostgres {
		return " FOR UPDATE"
	}
	return ""
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// scanDocuments collects the single document column of every row.
func scanDocuments(ctx context.Context, db queryer, query string, args ...any) ([][]byte, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var documents [][]byte
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, mapError(err)
		}
		documents = append(documents, document)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return documents, nil
}
