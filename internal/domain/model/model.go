// Package model defines the core domain types shared across the matcher,
// the freee ledger adapter, and the receipt extraction pipeline.
package model

import (
	"fmt"
	"time"
)

// Transaction is a freee ledger entry (a "deal") awaiting receipt
// confirmation. It is created by the ledger adapter and never mutated
// by the matching engine.
type Transaction struct {
	ID           string
	Date         time.Time
	Amount       float64 // home currency (JPY)
	Description  string
	MerchantName string
	Status       string
	HasReceipt   bool
}

func (t Transaction) String() string {
	return fmt.Sprintf("Transaction(id=%s, date=%s, amount=%.0f, merchant=%s)",
		t.ID, t.Date.Format("2006-01-02"), t.Amount, t.MerchantName)
}

// ReceiptRecord holds the structured facts extracted from a single
// receipt document.
type ReceiptRecord struct {
	MerchantName string
	Date         time.Time
	Amount       float64
	Currency     string  // ISO 4217 code, e.g. "JPY", "USD"
	Confidence   float64 // extractor's self-reported certainty, 0.0-1.0
	RawText      string  // kept for diagnostics only
	SourceFile   string  // unique per receipt (file path)
}

func (r ReceiptRecord) String() string {
	return fmt.Sprintf("Receipt(merchant=%s, date=%s, amount=%.2f %s, confidence=%.2f)",
		r.MerchantName, r.Date.Format("2006-01-02"), r.Amount, r.Currency, r.Confidence)
}

// MatchScore describes how well a receipt fits a transaction.
type MatchScore struct {
	DateMatch     bool
	AmountMatch   bool
	AmountDiffPct float64 // absolute amount difference, percent of the transaction amount
	Confidence    float64 // copied from the receipt
}

// Valid reports whether the score represents an acceptable match.
func (s MatchScore) Valid() bool {
	return s.DateMatch && s.AmountMatch
}

// Match is a confirmed transaction/receipt pairing. The matching engine
// guarantees each transaction ID and each receipt source file appears in
// at most one Match.
type Match struct {
	Transaction Transaction
	Receipt     ReceiptRecord
	Score       MatchScore
}

func (m Match) String() string {
	return fmt.Sprintf("Match(tx=%s, receipt=%s, diff=%.2f%%, conf=%.2f)",
		m.Transaction.ID, m.Receipt.SourceFile, m.Score.AmountDiffPct, m.Score.Confidence)
}

// SameDay reports whether two timestamps fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
