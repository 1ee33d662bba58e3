package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

// MemoryStore is an in-memory Repository for tests. It keeps the same
// get/put semantics as the SQLite implementation without touching disk.
type MemoryStore struct {
	mu          sync.Mutex
	rates       map[string]float64
	extractions map[string]model.ReceiptRecord
	runs        map[string]*MatchRun
	results     []MatchResultRecord
}

// Compile-time check that MemoryStore implements Repository
var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rates:       make(map[string]float64),
		extractions: make(map[string]model.ReceiptRecord),
		runs:        make(map[string]*MatchRun),
	}
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

func rateKey(date, from, to string) string {
	return date + "|" + from + "|" + to
}

// GetRate returns the cached rate for the key, if present
func (m *MemoryStore) GetRate(date, from, to string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rate, ok := m.rates[rateKey(date, from, to)]
	return rate, ok
}

// PutRate stores a rate under the key
func (m *MemoryStore) PutRate(date, from, to string, rate float64, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[rateKey(date, from, to)] = rate
	return nil
}

// GetExtraction returns the cached record for a document hash
func (m *MemoryStore) GetExtraction(fileHash string) (*model.ReceiptRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	record, ok := m.extractions[fileHash]
	if !ok {
		return nil, false
	}
	return &record, true
}

// PutExtraction stores an extraction result under a document hash
func (m *MemoryStore) PutExtraction(fileHash string, record model.ReceiptRecord, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.extractions[fileHash] = record
	return nil
}

// StartRun records the beginning of a reconciliation run
func (m *MemoryStore) StartRun(run *MatchRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	copied := *run
	m.runs[run.ID] = &copied
	return nil
}

// CompleteRun records final counts for a run
func (m *MemoryStore) CompleteRun(runID string, counts RunCounts) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	now := time.Now()
	run.CompletedAt = &now
	run.Status = counts.Status
	if run.Status == "" {
		run.Status = RunStatusCompleted
	}
	run.TransactionCount = counts.TransactionCount
	run.ReceiptCount = counts.ReceiptCount
	run.MatchedCount = counts.MatchedCount
	run.UnmatchedTransactions = counts.UnmatchedTransactions
	run.UnmatchedReceipts = counts.UnmatchedReceipts
	run.AttachedCount = counts.AttachedCount
	run.ErrorCount = counts.ErrorCount
	return nil
}

// SaveResult records one confirmed match within a run
func (m *MemoryStore) SaveResult(result *MatchResultRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	result.ID = int64(len(m.results) + 1)
	m.results = append(m.results, *result)
	return nil
}

// GetRun retrieves a run by ID
func (m *MemoryStore) GetRun(runID string) (*MatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	copied := *run
	return &copied, nil
}

// GetRunResults returns the match records for a run
func (m *MemoryStore) GetRunResults(runID string) ([]MatchResultRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var results []MatchResultRecord
	for _, r := range m.results {
		if r.RunID == runID {
			results = append(results, r)
		}
	}
	return results, nil
}

// ListRuns returns recent runs, newest first
func (m *MemoryStore) ListRuns(limit int) ([]MatchRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 20
	}
	runs := make([]MatchRun, 0, len(m.runs))
	for _, run := range m.runs {
		runs = append(runs, *run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetStats returns aggregate statistics across all runs
func (m *MemoryStore) GetStats() (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := &Stats{
		TotalRuns:   len(m.runs),
		CachedRates: len(m.rates),
	}
	for _, run := range m.runs {
		stats.TotalMatched += run.MatchedCount
		stats.TotalAttached += run.AttachedCount
		stats.TotalErrors += run.ErrorCount
		if stats.LastRunAt == nil || run.StartedAt.After(*stats.LastRunAt) {
			started := run.StartedAt
			stats.LastRunAt = &started
		}
	}
	return stats, nil
}
