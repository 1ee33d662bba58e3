package storage

import (
	"time"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

// Repository defines the complete storage interface.
// This interface allows swapping implementations and makes testing with
// the in-memory stand-in straightforward.
type Repository interface {
	RateRepository
	ExtractionRepository
	RunRepository
	Close() error
}

// RateRepository is the durable exchange-rate cache. Entries are keyed by
// (date, from, to) and never expire: historical ECB rates are immutable
// once published.
type RateRepository interface {
	// GetRate returns the cached rate for the key, if present
	GetRate(date, from, to string) (float64, bool)

	// PutRate stores a rate under the key (idempotent)
	PutRate(date, from, to string, rate float64, fetchedAt time.Time) error
}

// ExtractionRepository caches receipt extraction results by document hash
// so re-runs never pay for the same LLM call twice.
type ExtractionRepository interface {
	// GetExtraction returns the cached record for a document hash
	GetExtraction(fileHash string) (*model.ReceiptRecord, bool)

	// PutExtraction stores an extraction result under a document hash
	PutExtraction(fileHash string, record model.ReceiptRecord, extractedAt time.Time) error
}

// RunRepository tracks reconciliation runs and their per-match outcomes
type RunRepository interface {
	// StartRun records the beginning of a reconciliation run
	StartRun(run *MatchRun) error

	// CompleteRun records final counts for a run
	CompleteRun(runID string, counts RunCounts) error

	// SaveResult records one confirmed match within a run
	SaveResult(result *MatchResultRecord) error

	// GetRun retrieves a run by ID
	GetRun(runID string) (*MatchRun, error)

	// GetRunResults returns the match records for a run
	GetRunResults(runID string) ([]MatchResultRecord, error)

	// ListRuns returns recent runs, newest first
	ListRuns(limit int) ([]MatchRun, error)

	// GetStats returns aggregate statistics across all runs
	GetStats() (*Stats, error)
}
