package matcher

import (
	"context"
	"time"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

// RateSource converts between currencies for a historical date. The second
// return value is false when no rate could be resolved; callers treat that
// as a data gap, not an error.
type RateSource interface {
	GetRate(ctx context.Context, from, to string, date time.Time) (float64, bool)
}

// Config holds matcher configuration
type Config struct {
	TolerancePercent float64 // max allowed amount difference, percent (default: 3.0)
	MinConfidence    float64 // extraction confidence floor (default: 0.7)
	HomeCurrency     string  // ledger currency (default: "JPY")
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		TolerancePercent: 3.0,
		MinConfidence:    0.7,
		HomeCurrency:     "JPY",
	}
}

// Result partitions the reconciliation inputs. Every input transaction
// appears either in Matches or UnmatchedTransactions, and every input
// receipt either in Matches or UnmatchedReceipts.
type Result struct {
	Matches               []model.Match
	UnmatchedTransactions []model.Transaction
	UnmatchedReceipts     []model.ReceiptRecord
}
