package store

import (
	"database/sql"
	"fmt"
)

// Migration is one additive schema step. Up must never drop a column or
// table; the store's migration policy is additive-only, new columns get
// safe defaults on first boot of a newer version.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// migrations is applied in order after the baseline schema. It starts
// empty: the baseline schema in schema.go already contains every column this
// build needs. Future columns get appended here rather than edited into
// the baseline, so databases created by older builds upgrade cleanly.
var migrations = []Migration{}

func migrateDB(db *sql.DB) error {
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	description TEXT NOT NULL,
	applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	current := 0
	row := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.Up); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, strftime('%s','now')*1000)`,
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
