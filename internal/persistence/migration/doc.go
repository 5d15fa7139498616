// Package migration applies versioned schema changes to the SQL stores.
//
// Migration files are embedded per dialect and follow the naming convention
// {version}_{description}.sql (e.g. "001_initial_schema.sql"). Each file runs
// in its own transaction and is recorded in the schema_migrations table so it
// is applied exactly once.
//
// Example usage:
//
//	manager, err := migration.NewManager(db, migration.DialectSQLite, logger)
//	if err != nil {
//		return err
//	}
//	if _, err := manager.Run(ctx); err != nil {
//		return fmt.Errorf("migrate: %w", err)
//	}
package migration
