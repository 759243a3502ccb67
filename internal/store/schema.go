package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema. It is portable between SQLite and
// Postgres; times are RFC 3339 strings.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    seed BIGINT NOT NULL,
    years INTEGER NOT NULL,
    fishers INTEGER NOT NULL,
    status TEXT NOT NULL,
    config TEXT,
    started_at TEXT NOT NULL,
    finished_at TEXT
)`,
	`CREATE TABLE IF NOT EXISTS observations (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    series TEXT NOT NULL,
    step INTEGER NOT NULL,
    col TEXT NOT NULL,
    value DOUBLE PRECISION,  -- NULL for NaN
    PRIMARY KEY (run_id, series, step, col)
)`,
	`CREATE TABLE IF NOT EXISTS decisions (
    run_id TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    step INTEGER NOT NULL,
    agent TEXT NOT NULL,
    attribute TEXT NOT NULL,
    status TEXT NOT NULL,
    value TEXT NOT NULL,
    fitness DOUBLE PRECISION,  -- NULL for NaN
    PRIMARY KEY (run_id, seq)
)`,
	`CREATE INDEX IF NOT EXISTS idx_decisions_agent ON decisions(run_id, agent)`,
	`CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`,
}

// dropOrder lists tables children first.
var dropOrder = []string{"decisions", "observations", "runs", "schema_version"}

// initSchema creates all tables on a fresh database and applies migrations
// to an existing one.
func initSchema(ctx context.Context, db *sql.DB, d dialect) error {
	currentVersion, err := getSchemaVersion(ctx, db)
	if err != nil {
		// Schema version table doesn't exist yet, create fresh schema
		if err := createSchema(ctx, db, d); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
		return nil
	}

	if d.integrityCheck {
		if err := ValidateIntegrity(ctx, db); err != nil {
			return fmt.Errorf("database integrity check failed: %w", err)
		}
	}

	if currentVersion > SchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", currentVersion, SchemaVersion)
	}
	if currentVersion < SchemaVersion {
		if err := migrateSchema(ctx, db, d, currentVersion); err != nil {
			return fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return nil
}

// getSchemaVersion returns the current schema version from the database.
// Returns an error if the schema_version table doesn't exist.
func getSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, err
	}
	return int(version.Int64), nil
}

func createSchema(ctx context.Context, db *sql.DB, d dialect) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaV1 {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`),
		SchemaVersion, formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}

	return tx.Commit()
}

// migrations maps a schema version to the statements that upgrade the
// previous version to it.
var migrations = map[int][]string{}

// migrateSchema applies migrations from currentVersion to SchemaVersion.
func migrateSchema(ctx context.Context, db *sql.DB, d dialect, currentVersion int) error {
	for v := currentVersion + 1; v <= SchemaVersion; v++ {
		stmts, ok := migrations[v]
		if !ok {
			return fmt.Errorf("no migration to schema version %d", v)
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration to version %d: %w", v, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			d.rebind(`INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`),
			v, formatTime(time.Now())); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record schema version %d: %w", v, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateIntegrity runs SQLite integrity checks on the database.
func ValidateIntegrity(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `PRAGMA integrity_check`)
	if err != nil {
		return fmt.Errorf("failed to run integrity_check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("failed to scan integrity_check result: %w", err)
		}
		if result != "ok" {
			return fmt.Errorf("integrity_check failed: %s", result)
		}
	}
	return rows.Err()
}

// resetSchema drops all tables and recreates the schema.
// Only use for testing.
func resetSchema(ctx context.Context, db *sql.DB, d dialect) error {
	for _, table := range dropOrder {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", table, err)
		}
	}
	return initSchema(ctx, db, d)
}

// timeLayout is fixed width so stored times sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
