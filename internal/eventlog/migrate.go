package eventlog

import (
	"database/sql"
	"fmt"
)

// SchemaVersion is the latest schema version supported by the migrator.
const SchemaVersion = 1

// Migrate ensures the SQLite schema exists and is upgraded to SchemaVersion.
func Migrate(db *sql.DB) error {
	if db == nil {
		return fmt.Errorf("migrate: db is nil")
	}

	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY);`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}

	var current int
	err = db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&current)
	if err != nil {
		return fmt.Errorf("migrate: read current version: %w", err)
	}

	if current >= SchemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS missions (
			id TEXT PRIMARY KEY,
			vehicle_id TEXT NOT NULL,
			plan_name TEXT NOT NULL,
			created_at TEXT NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create missions table: %w", err)
	}

	_, err = tx.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			mission_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			at TEXT NOT NULL,
			kind TEXT NOT NULL,
			severity INTEGER NOT NULL,
			idem_key TEXT NULL,
			payload TEXT NULL,
			PRIMARY KEY (mission_id, seq),
			FOREIGN KEY (mission_id) REFERENCES missions(id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrate: create events table: %w", err)
	}

	_, err = tx.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_idem_key ON events(mission_id, idem_key) WHERE idem_key IS NOT NULL;`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_events_idem_key: %w", err)
	}

	_, err = tx.Exec(`CREATE INDEX IF NOT EXISTS idx_missions_vehicle ON missions(vehicle_id);`)
	if err != nil {
		return fmt.Errorf("migrate: create idx_missions_vehicle: %w", err)
	}

	_, err = tx.Exec(`INSERT INTO schema_migrations(version) VALUES (?);`, SchemaVersion)
	if err != nil {
		return fmt.Errorf("migrate: record schema version: %w", err)
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}

	return nil
}
