package storage

import "time"

// Run statuses
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// MatchRun is one reconciliation run
type MatchRun struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DateFrom    string     `json:"date_from"`
	DateTo      string     `json:"date_to"`
	DryRun      bool       `json:"dry_run"`
	Status      string     `json:"status"`

	TransactionCount      int `json:"transaction_count"`
	ReceiptCount          int `json:"receipt_count"`
	MatchedCount          int `json:"matched_count"`
	UnmatchedTransactions int `json:"unmatched_transactions"`
	UnmatchedReceipts     int `json:"unmatched_receipts"`
	AttachedCount         int `json:"attached_count"`
	ErrorCount            int `json:"error_count"`
}

// RunCounts holds the final tallies recorded when a run completes
type RunCounts struct {
	TransactionCount      int
	ReceiptCount          int
	MatchedCount          int
	UnmatchedTransactions int
	UnmatchedReceipts     int
	AttachedCount         int
	ErrorCount            int
	Status                string
}

// MatchResultRecord is one confirmed match persisted for the run history
type MatchResultRecord struct {
	ID            int64   `json:"id"`
	RunID         string  `json:"run_id"`
	TransactionID string  `json:"transaction_id"`
	ReceiptSource string  `json:"receipt_source"`
	MerchantName  string  `json:"merchant_name"`
	AmountDiffPct float64 `json:"amount_diff_pct"`
	Confidence    float64 `json:"confidence"`
	Attached      bool    `json:"attached"`
}

// Stats aggregates the run history
type Stats struct {
	TotalRuns     int        `json:"total_runs"`
	TotalMatched  int        `json:"total_matched"`
	TotalAttached int        `json:"total_attached"`
	TotalErrors   int        `json:"total_errors"`
	CachedRates   int        `json:"cached_rates"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
}
