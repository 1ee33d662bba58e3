// Package storage provides SQLite persistence for the matcher: the durable
// exchange-rate cache, the extraction result cache, and the run history.
package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

const dateFormat = "2006-01-02"

// Storage provides SQLite database access.
// It implements the Repository interface.
type Storage struct {
	db *sql.DB
}

// Compile-time check that Storage implements Repository
var _ Repository = (*Storage)(nil)

// NewStorage creates a new storage instance with SQLite database
func NewStorage(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s := &Storage{db: db}

	if err := s.runMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

// GetRate returns the cached exchange rate for (date, from, to)
func (s *Storage) GetRate(date, from, to string) (float64, bool) {
	var rate float64
	err := s.db.QueryRow(`
	SELECT rate FROM fx_rates
	WHERE rate_date = ? AND from_currency = ? AND to_currency = ?
	`, date, from, to).Scan(&rate)
	if err != nil {
		return 0, false
	}
	return rate, true
}

// PutRate stores an exchange rate. Re-inserting the same key replaces the
// row, which is harmless: historical rates do not change.
func (s *Storage) PutRate(date, from, to string, rate float64, fetchedAt time.Time) error {
	_, err := s.db.Exec(`
	INSERT OR REPLACE INTO fx_rates (rate_date, from_currency, to_currency, rate, fetched_at)
	VALUES (?, ?, ?, ?, ?)
	`, date, from, to, rate, fetchedAt.UTC())
	return err
}

// GetExtraction returns the cached receipt record for a document hash
func (s *Storage) GetExtraction(fileHash string) (*model.ReceiptRecord, bool) {
	var record model.ReceiptRecord
	var receiptDate string
	err := s.db.QueryRow(`
	SELECT merchant_name, receipt_date, amount, currency, confidence, raw_text, source_file
	FROM extractions WHERE file_hash = ?
	`, fileHash).Scan(
		&record.MerchantName,
		&receiptDate,
		&record.Amount,
		&record.Currency,
		&record.Confidence,
		&record.RawText,
		&record.SourceFile,
	)
	if err != nil {
		return nil, false
	}

	parsed, err := time.Parse(dateFormat, receiptDate)
	if err != nil {
		return nil, false
	}
	record.Date = parsed

	return &record, true
}

// PutExtraction stores an extraction result under a document hash
func (s *Storage) PutExtraction(fileHash string, record model.ReceiptRecord, extractedAt time.Time) error {
	_, err := s.db.Exec(`
	INSERT OR REPLACE INTO extractions
	(file_hash, merchant_name, receipt_date, amount, currency, confidence, raw_text, source_file, extracted_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		fileHash,
		record.MerchantName,
		record.Date.Format(dateFormat),
		record.Amount,
		record.Currency,
		record.Confidence,
		record.RawText,
		record.SourceFile,
		extractedAt.UTC(),
	)
	return err
}

// StartRun records the beginning of a reconciliation run
func (s *Storage) StartRun(run *MatchRun) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	_, err := s.db.Exec(`
	INSERT INTO match_runs (id, started_at, date_from, date_to, dry_run, status)
	VALUES (?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt.UTC(), run.DateFrom, run.DateTo, run.DryRun, run.Status)
	return err
}

// CompleteRun records final counts for a run
func (s *Storage) CompleteRun(runID string, counts RunCounts) error {
	status := counts.Status
	if status == "" {
		status = RunStatusCompleted
	}
	result, err := s.db.Exec(`
	UPDATE match_runs SET
		completed_at = ?,
		status = ?,
		transaction_count = ?,
		receipt_count = ?,
		matched_count = ?,
		unmatched_transactions = ?,
		unmatched_receipts = ?,
		attached_count = ?,
		error_count = ?
	WHERE id = ?
	`,
		time.Now().UTC(),
		status,
		counts.TransactionCount,
		counts.ReceiptCount,
		counts.MatchedCount,
		counts.UnmatchedTransactions,
		counts.UnmatchedReceipts,
		counts.AttachedCount,
		counts.ErrorCount,
		runID,
	)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("run %s not found", runID)
	}
	return err
}

// SaveResult records one confirmed match within a run
func (s *Storage) SaveResult(result *MatchResultRecord) error {
	res, err := s.db.Exec(`
	INSERT INTO match_results (run_id, transaction_id, receipt_source, merchant_name, amount_diff_pct, confidence, attached)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		result.RunID,
		result.TransactionID,
		result.ReceiptSource,
		result.MerchantName,
		result.AmountDiffPct,
		result.Confidence,
		result.Attached,
	)
	if err != nil {
		return err
	}
	result.ID, _ = res.LastInsertId()
	return nil
}

// GetRun retrieves a run by ID
func (s *Storage) GetRun(runID string) (*MatchRun, error) {
	row := s.db.QueryRow(`
	SELECT id, started_at, completed_at, date_from, date_to, dry_run, status,
	       transaction_count, receipt_count, matched_count,
	       unmatched_transactions, unmatched_receipts, attached_count, error_count
	FROM match_runs WHERE id = ?
	`, runID)
	return scanRun(row)
}

// GetRunResults returns the match records for a run
func (s *Storage) GetRunResults(runID string) ([]MatchResultRecord, error) {
	rows, err := s.db.Query(`
	SELECT id, run_id, transaction_id, receipt_source, merchant_name, amount_diff_pct, confidence, attached
	FROM match_results WHERE run_id = ? ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []MatchResultRecord
	for rows.Next() {
		var r MatchResultRecord
		if err := rows.Scan(&r.ID, &r.RunID, &r.TransactionID, &r.ReceiptSource,
			&r.MerchantName, &r.AmountDiffPct, &r.Confidence, &r.Attached); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListRuns returns recent runs, newest first
func (s *Storage) ListRuns(limit int) ([]MatchRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
	SELECT id, started_at, completed_at, date_from, date_to, dry_run, status,
	       transaction_count, receipt_count, matched_count,
	       unmatched_transactions, unmatched_receipts, attached_count, error_count
	FROM match_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []MatchRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// GetStats returns aggregate statistics across all runs
func (s *Storage) GetStats() (*Stats, error) {
	stats := &Stats{}

	var lastRun sql.NullTime
	err := s.db.QueryRow(`
	SELECT COUNT(*),
	       COALESCE(SUM(matched_count), 0),
	       COALESCE(SUM(attached_count), 0),
	       COALESCE(SUM(error_count), 0),
	       MAX(started_at)
	FROM match_runs
	`).Scan(&stats.TotalRuns, &stats.TotalMatched, &stats.TotalAttached, &stats.TotalErrors, &lastRun)
	if err != nil {
		return nil, err
	}
	if lastRun.Valid {
		stats.LastRunAt = &lastRun.Time
	}

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fx_rates`).Scan(&stats.CachedRates); err != nil {
		return nil, err
	}

	return stats, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*MatchRun, error) {
	var run MatchRun
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID,
		&run.StartedAt,
		&completedAt,
		&run.DateFrom,
		&run.DateTo,
		&run.DryRun,
		&run.Status,
		&run.TransactionCount,
		&run.ReceiptCount,
		&run.MatchedCount,
		&run.UnmatchedTransactions,
		&run.UnmatchedReceipts,
		&run.AttachedCount,
		&run.ErrorCount,
	)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return &run, nil
}
