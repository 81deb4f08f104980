package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migration represents a single schema migration.
type migration struct {
	version     int
	description string
	apply       func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// New migrations are appended at the end; never modify existing entries.
var migrations = []migration{
	{
		version:     1,
		description: "initial slides schema (applied via schemaSQL)",
		apply:       func(tx *sql.Tx) error { return nil },
	},
	{
		version:     2,
		description: "add ingest batch log",
		apply: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS ingest_batches (
					id TEXT PRIMARY KEY,
					started_at DATETIME NOT NULL,
					finished_at DATETIME,
					ingested INTEGER NOT NULL DEFAULT 0,
					skipped INTEGER NOT NULL DEFAULT 0,
					failed INTEGER NOT NULL DEFAULT 0
				)`)
			return err
		},
	},
	{
		version:     3,
		description: "add decks table",
		apply: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS decks (
					deck_hash TEXT PRIMARY KEY,
					deck_name TEXT NOT NULL,
					deck_path TEXT NOT NULL,
					deck_modified TEXT NOT NULL,
					slide_count INTEGER NOT NULL DEFAULT 0,
					ingested_at DATETIME NOT NULL
				)`); err != nil {
				return err
			}
			// Backfill decks ingested before the table existed.
			_, err := tx.Exec(`
				INSERT OR IGNORE INTO decks (
					deck_hash, deck_name, deck_path, deck_modified, slide_count, ingested_at
				)
				SELECT deck_hash, MIN(deck_name), MIN(deck_path), MIN(deck_modified),
					COUNT(*), CURRENT_TIMESTAMP
				FROM slides GROUP BY deck_hash`)
			return err
		},
	},
}

// Migrate runs all pending schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		s.logger.Info("applying migration", "version", m.version, "description", m.description)

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}

		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_version (version, description) VALUES (?, ?)",
			m.version, m.description); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", m.version, err)
		}
	}

	return nil
}
