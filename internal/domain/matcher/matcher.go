// Package matcher assigns extracted receipt records to freee ledger
// transactions.
//
// Matching criteria:
//   - Dates must be equal to the day (no tolerance)
//   - The currency-normalized amount must be within a percentage tolerance
//   - The receipt's extraction confidence must meet a configurable floor
//
// Assignment is greedy: transactions are processed in input order and each
// one claims its best available receipt, which then becomes unavailable to
// later transactions. No backtracking across transactions is attempted.
//
// Example usage:
//
//	m := matcher.New(rates, matcher.DefaultConfig(), logger)
//	result := m.Reconcile(ctx, transactions, receipts)
//	for _, match := range result.Matches {
//		// attach match.Receipt to match.Transaction
//	}
package matcher

import (
	"context"
	"log/slog"
	"math"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

// Two candidate scores closer than these slacks are considered equal on
// that criterion and the comparison moves to the next one.
const (
	diffPctSlack    = 0.1
	confidenceSlack = 0.05
)

// Matcher pairs transactions with receipt records
type Matcher struct {
	rates  RateSource
	config Config
	logger *slog.Logger
}

// New creates a matcher with the given rate source and config
func New(rates RateSource, config Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{
		rates:  rates,
		config: config,
		logger: logger,
	}
}

// Reconcile pairs each transaction with at most one receipt and partitions
// the inputs into matches and two leftover sets. A failure to evaluate one
// candidate pair (for example an unresolvable exchange rate) only excludes
// that candidate; the run always completes.
func (m *Matcher) Reconcile(ctx context.Context, transactions []model.Transaction, receipts []model.ReceiptRecord) Result {
	m.logger.Info("matching transactions with receipts",
		"transactions", len(transactions),
		"receipts", len(receipts),
		"tolerance_pct", m.config.TolerancePercent,
		"min_confidence", m.config.MinConfidence,
	)

	var matches []model.Match
	matchedTransactionIDs := make(map[string]bool)
	matchedReceiptFiles := make(map[string]bool)

	for _, tx := range transactions {
		if tx.Amount == 0 {
			m.logger.Warn("transaction amount is zero, skipping", "transaction_id", tx.ID)
			continue
		}

		var bestReceipt *model.ReceiptRecord
		var bestScore model.MatchScore

		for i := range receipts {
			receipt := &receipts[i]

			if matchedReceiptFiles[receipt.SourceFile] {
				continue
			}
			if receipt.Confidence < m.config.MinConfidence {
				m.logger.Debug("skipping low confidence receipt",
					"source_file", receipt.SourceFile,
					"confidence", receipt.Confidence,
				)
				continue
			}

			score, ok := m.scoreCandidate(ctx, tx, *receipt)
			if !ok || !score.Valid() {
				continue
			}

			if bestReceipt == nil {
				bestReceipt = receipt
				bestScore = score
				continue
			}
			switch compareScores(score, bestScore) {
			case 1:
				bestReceipt = receipt
				bestScore = score
			case 0:
				// Equivalent on both criteria: break the tie by source file
				// so the outcome does not depend on receipt arrival order.
				if receipt.SourceFile < bestReceipt.SourceFile {
					bestReceipt = receipt
					bestScore = score
				}
			}
		}

		if bestReceipt != nil {
			match := model.Match{
				Transaction: tx,
				Receipt:     *bestReceipt,
				Score:       bestScore,
			}
			matches = append(matches, match)
			matchedTransactionIDs[tx.ID] = true
			matchedReceiptFiles[bestReceipt.SourceFile] = true
			m.logger.Info("matched",
				"transaction_id", tx.ID,
				"source_file", bestReceipt.SourceFile,
				"diff_pct", bestScore.AmountDiffPct,
				"confidence", bestScore.Confidence,
			)
		}
	}

	var unmatchedTransactions []model.Transaction
	for _, tx := range transactions {
		if !matchedTransactionIDs[tx.ID] {
			unmatchedTransactions = append(unmatchedTransactions, tx)
		}
	}
	var unmatchedReceipts []model.ReceiptRecord
	for _, r := range receipts {
		if !matchedReceiptFiles[r.SourceFile] {
			unmatchedReceipts = append(unmatchedReceipts, r)
		}
	}

	m.logger.Info("matching complete",
		"matches", len(matches),
		"unmatched_transactions", len(unmatchedTransactions),
		"unmatched_receipts", len(unmatchedReceipts),
	)

	return Result{
		Matches:               matches,
		UnmatchedTransactions: unmatchedTransactions,
		UnmatchedReceipts:     unmatchedReceipts,
	}
}

// scoreCandidate evaluates a single transaction/receipt pair. The second
// return value is false when the pair cannot be scored at all (date
// mismatch or unresolvable exchange rate).
func (m *Matcher) scoreCandidate(ctx context.Context, tx model.Transaction, receipt model.ReceiptRecord) (model.MatchScore, bool) {
	if !model.SameDay(tx.Date, receipt.Date) {
		return model.MatchScore{}, false
	}

	normalized, ok := m.normalizeAmount(ctx, receipt)
	if !ok {
		m.logger.Warn("failed to normalize receipt amount",
			"source_file", receipt.SourceFile,
			"currency", receipt.Currency,
		)
		return model.MatchScore{}, false
	}

	diffPct := math.Abs(normalized-tx.Amount) / tx.Amount * 100

	score := model.MatchScore{
		DateMatch:     true,
		AmountMatch:   diffPct <= m.config.TolerancePercent,
		AmountDiffPct: diffPct,
		Confidence:    receipt.Confidence,
	}

	m.logger.Debug("amount check",
		"transaction_id", tx.ID,
		"transaction_amount", tx.Amount,
		"normalized_amount", normalized,
		"diff_pct", diffPct,
		"match", score.AmountMatch,
	)

	return score, true
}

// normalizeAmount converts the receipt amount into the home currency using
// the rate published for the receipt's date.
func (m *Matcher) normalizeAmount(ctx context.Context, receipt model.ReceiptRecord) (float64, bool) {
	if receipt.Currency == m.config.HomeCurrency {
		return receipt.Amount, true
	}

	rate, ok := m.rates.GetRate(ctx, receipt.Currency, m.config.HomeCurrency, receipt.Date)
	if !ok {
		return 0, false
	}
	return receipt.Amount * rate, true
}

// compareScores decides which of two viable candidates is the better match.
// Returns 1 if a wins, -1 if b wins, 0 when they are equivalent under both
// the amount-difference and confidence slacks.
func compareScores(a, b model.MatchScore) int {
	if math.Abs(a.AmountDiffPct-b.AmountDiffPct) > diffPctSlack {
		if a.AmountDiffPct < b.AmountDiffPct {
			return 1
		}
		return -1
	}
	if math.Abs(a.Confidence-b.Confidence) > confidenceSlack {
		if a.Confidence > b.Confidence {
			return 1
		}
		return -1
	}
	return 0
}
