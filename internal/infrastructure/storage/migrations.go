package storage

import (
	"database/sql"
	"fmt"
	"log"
)

// Migration represents a database schema migration
type Migration struct {
	Version int
	Name    string
	Up      func(*sql.Tx) error
}

// allMigrations defines all migrations in order
var allMigrations = []Migration{
	{
		Version: 1,
		Name:    "fx_rates_table",
		Up:      migration001FXRatesTable,
	},
	{
		Version: 2,
		Name:    "extractions_table",
		Up:      migration002ExtractionsTable,
	},
	{
		Version: 3,
		Name:    "match_runs_tables",
		Up:      migration003MatchRunsTables,
	},
}

// runMigrations executes all pending migrations
func (s *Storage) runMigrations() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range allMigrations {
		if applied[migration.Version] {
			continue
		}

		log.Printf("Running migration %d: %s", migration.Version, migration.Name)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction for migration %d: %w", migration.Version, err)
		}

		if err := migration.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}

		_, err = tx.Exec(`INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			migration.Version, migration.Name)
		if err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

func (s *Storage) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	return err
}

func (s *Storage) getAppliedMigrations() (map[int]bool, error) {
	rows, err := s.db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func migration001FXRatesTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE fx_rates (
		rate_date TEXT NOT NULL,
		from_currency TEXT NOT NULL,
		to_currency TEXT NOT NULL,
		rate REAL NOT NULL,
		fetched_at DATETIME NOT NULL,
		PRIMARY KEY (rate_date, from_currency, to_currency)
	)`)
	return err
}

func migration002ExtractionsTable(tx *sql.Tx) error {
	_, err := tx.Exec(`
	CREATE TABLE extractions (
		file_hash TEXT PRIMARY KEY,
		merchant_name TEXT NOT NULL,
		receipt_date TEXT NOT NULL,
		amount REAL NOT NULL,
		currency TEXT NOT NULL,
		confidence REAL NOT NULL,
		raw_text TEXT NOT NULL DEFAULT '',
		source_file TEXT NOT NULL,
		extracted_at DATETIME NOT NULL
	)`)
	return err
}

func migration003MatchRunsTables(tx *sql.Tx) error {
	if _, err := tx.Exec(`
	CREATE TABLE match_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		date_from TEXT NOT NULL,
		date_to TEXT NOT NULL,
		dry_run INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'running',
		transaction_count INTEGER NOT NULL DEFAULT 0,
		receipt_count INTEGER NOT NULL DEFAULT 0,
		matched_count INTEGER NOT NULL DEFAULT 0,
		unmatched_transactions INTEGER NOT NULL DEFAULT 0,
		unmatched_receipts INTEGER NOT NULL DEFAULT 0,
		attached_count INTEGER NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0
	)`); err != nil {
		return err
	}

	_, err := tx.Exec(`
	CREATE TABLE match_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES match_runs(id),
		transaction_id TEXT NOT NULL,
		receipt_source TEXT NOT NULL,
		merchant_name TEXT NOT NULL DEFAULT '',
		amount_diff_pct REAL NOT NULL,
		confidence REAL NOT NULL,
		attached INTEGER NOT NULL DEFAULT 0
	)`)
	return err
}
