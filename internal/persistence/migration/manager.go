package migration

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"time"
)

// Manager applies pending migrations from a file source to a database.
type Manager struct {
	source   fs.FS
	executor *executor
	logger   *slog.Logger
}

// NewManager builds a Manager for the embedded migrations of dialect.
func NewManager(db *sql.DB, dialect Dialect, logger *slog.Logger) (*Manager, error) {
	source, err := Source(dialect)
	if err != nil {
		return nil, err
	}
	return NewManagerWithSource(db, dialect, source, logger), nil
}

// NewManagerWithSource builds a Manager that reads migrations from source.
func NewManagerWithSource(db *sql.DB, dialect Dialect, source fs.FS, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		source:   source,
		executor: &executor{db: db, dialect: dialect, now: time.Now},
		logger:   logger.With("component", "migration", "dialect", string(dialect)),
	}
}

// Run applies every pending migration in version order and returns how many
// were applied. It stops at the first failure.
func (m *Manager) Run(ctx context.Context) (int, error) {
	started := time.Now()
	status, err := m.Status(ctx)
	if err != nil {
		return 0, err
	}
	if status.PendingCount == 0 {
		m.logger.Info("database schema up to date", "version", status.CurrentVersion)
		return 0, nil
	}

	m.logger.Info("applying migrations", "current_version", status.CurrentVersion, "pending", status.PendingCount)
	for i, migration := range status.PendingMigrations {
		if err := m.executor.execute(ctx, migration); err != nil {
			m.logger.Error("migration failed", "version", migration.Version, "file", migration.FilePath, "error", err)
			return i, err
		}
		m.logger.Info("migration applied", "version", migration.Version, "description", migration.Description)
	}

	m.logger.Info("migrations complete", "applied", status.PendingCount, "duration", time.Since(started))
	return status.PendingCount, nil
}

// Status compares the source against schema_migrations.
func (m *Manager) Status(ctx context.Context) (Status, error) {
	if err := m.executor.initializeVersionTable(ctx); err != nil {
		return Status{}, err
	}
	available, err := Scan(m.source)
	if err != nil {
		return Status{}, err
	}
	applied, err := m.executor.appliedMigrations(ctx)
	if err != nil {
		return Status{}, err
	}
	if err := validateSequence(available, applied); err != nil {
		return Status{}, err
	}

	appliedByVersion := make(map[string]AppliedMigration, len(applied))
	status := Status{AppliedMigrations: applied}
	for _, a := range applied {
		appliedByVersion[a.Version] = a
		if versionNumber(a.Version) > versionNumber(status.CurrentVersion) {
			status.CurrentVersion = a.Version
		}
	}
	for _, migration := range available {
		if _, ok := appliedByVersion[migration.Version]; !ok {
			status.PendingMigrations = append(status.PendingMigrations, migration)
		}
	}
	status.PendingCount = len(status.PendingMigrations)
	return status, nil
}

// validateSequence rejects gaps in the available versions, applied versions
// without a file and applied files whose content changed.
func validateSequence(available []Migration, applied []AppliedMigration) error {
	byVersion := make(map[int]Migration, len(available))
	for i, migration := range available {
		n := versionNumber(migration.Version)
		if n < 0 {
			return newMigrationError(migration.Version, migration.FilePath, "validate sequence",
				fmt.Errorf("%w: version %q is not numeric", ErrInvalidMigrationFile, migration.Version))
		}
		if i > 0 && n != versionNumber(available[i-1].Version)+1 {
			return fmt.Errorf("%w: missing migration version %03d in sequence", ErrVersionConflict, versionNumber(available[i-1].Version)+1)
		}
		byVersion[n] = migration
	}

	for _, a := range applied {
		migration, ok := byVersion[versionNumber(a.Version)]
		if !ok {
			return fmt.Errorf("%w: applied migration %s not found in available migrations", ErrVersionConflict, a.Version)
		}
		if a.Checksum != "" && a.Checksum != migration.Checksum {
			return newMigrationError(a.Version, migration.FilePath, "verify checksum", ErrChecksumMismatch)
		}
	}
	return nil
}
