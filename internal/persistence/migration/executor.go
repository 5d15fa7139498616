package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// executor runs migrations and maintains schema_migrations.
type executor struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

func (e *executor) initializeVersionTable(ctx context.Context) error {
	const createTableSQL = `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TEXT NOT NULL,
			checksum TEXT NOT NULL DEFAULT '',
			execution_time_ms BIGINT NOT NULL DEFAULT 0
		)`
	if _, err := e.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}
	return nil
}

// execute runs every statement of m and records it in one transaction.
func (e *executor) execute(ctx context.Context, m Migration) (err error) {
	started := time.Now()
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return newMigrationError(m.Version, m.FilePath, "begin transaction", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = fmt.Errorf("%w (rollback error: %v)", err, rbErr)
			}
		}
	}()

	for i, stmt := range splitStatements(m.SQL) {
		if _, execErr := tx.ExecContext(ctx, stmt); execErr != nil {
			return newMigrationError(m.Version, m.FilePath, fmt.Sprintf("execute statement %d", i+1),
				fmt.Errorf("%w: %v", ErrMigrationFailed, execErr))
		}
	}

	insertSQL := e.dialect.Rebind(`INSERT INTO schema_migrations (version, applied_at, checksum, execution_time_ms) VALUES (?, ?, ?, ?)`)
	if _, execErr := tx.ExecContext(ctx, insertSQL, m.Version, e.now().UTC().Format(time.RFC3339), m.Checksum, time.Since(started).Milliseconds()); execErr != nil {
		return newMigrationError(m.Version, m.FilePath, "record migration", execErr)
	}

	if commitErr := tx.Commit(); commitErr != nil {
		return newMigrationError(m.Version, m.FilePath, "commit transaction", commitErr)
	}
	return nil
}

func (e *executor) appliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT version, applied_at, checksum, execution_time_ms
		FROM schema_migrations
		ORDER BY version ASC`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var (
			row       AppliedMigration
			appliedAt string
			elapsedMs int64
		)
		if err := rows.Scan(&row.Version, &appliedAt, &row.Checksum, &elapsedMs); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339, appliedAt); err == nil {
			row.AppliedAt = parsed
		}
		row.ExecutionTime = time.Duration(elapsedMs) * time.Millisecond
		applied = append(applied, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}
