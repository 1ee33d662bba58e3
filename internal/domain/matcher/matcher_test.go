package matcher

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
)

// fakeRateSource returns canned rates keyed by "FROM/TO" and counts lookups
type fakeRateSource struct {
	rates map[string]float64
	calls int
}

func (f *fakeRateSource) GetRate(_ context.Context, from, to string, _ time.Time) (float64, bool) {
	f.calls++
	rate, ok := f.rates[from+"/"+to]
	return rate, ok
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func makeTransaction(id string, amount float64, date time.Time) model.Transaction {
	return model.Transaction{ID: id, Date: date, Amount: amount, MerchantName: "Test Merchant"}
}

func makeReceipt(file string, amount float64, currency string, confidence float64, date time.Time) model.ReceiptRecord {
	return model.ReceiptRecord{
		MerchantName: "Test Merchant",
		Date:         date,
		Amount:       amount,
		Currency:     currency,
		Confidence:   confidence,
		SourceFile:   file,
	}
}

func TestReconcile_ExactMatchHomeCurrency(t *testing.T) {
	rates := &fakeRateSource{}
	m := New(rates, DefaultConfig(), testLogger())

	d := day(2026, 2, 13)
	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 1500, d)},
		[]model.ReceiptRecord{makeReceipt("r1.pdf", 1500, "JPY", 0.9, d)},
	)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "T1", result.Matches[0].Transaction.ID)
	assert.Equal(t, "r1.pdf", result.Matches[0].Receipt.SourceFile)
	assert.Equal(t, 0.0, result.Matches[0].Score.AmountDiffPct)
	assert.Empty(t, result.UnmatchedTransactions)
	assert.Empty(t, result.UnmatchedReceipts)
	// Home-currency receipts never hit the rate source
	assert.Zero(t, rates.calls)
}

func TestReconcile_ForeignCurrencyNormalization(t *testing.T) {
	// 10 USD at 150 JPY/USD = 1500 JPY, diff 0% under 3% tolerance
	rates := &fakeRateSource{rates: map[string]float64{"USD/JPY": 150.0}}
	m := New(rates, DefaultConfig(), testLogger())

	d := day(2026, 2, 13)
	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 1500, d)},
		[]model.ReceiptRecord{makeReceipt("usd.pdf", 10.0, "USD", 0.9, d)},
	)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "T1", result.Matches[0].Transaction.ID)
	assert.InDelta(t, 0.0, result.Matches[0].Score.AmountDiffPct, 1e-9)
}

func TestReconcile_RateUnavailable_CandidateDiscarded(t *testing.T) {
	// A perfect receipt whose currency cannot be resolved never matches
	rates := &fakeRateSource{rates: map[string]float64{}}
	m := New(rates, DefaultConfig(), testLogger())

	d := day(2026, 2, 13)
	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 1500, d)},
		[]model.ReceiptRecord{makeReceipt("usd.pdf", 10.0, "USD", 0.9, d)},
	)

	assert.Empty(t, result.Matches)
	require.Len(t, result.UnmatchedTransactions, 1)
	assert.Equal(t, "T1", result.UnmatchedTransactions[0].ID)
	require.Len(t, result.UnmatchedReceipts, 1)
	assert.Equal(t, "usd.pdf", result.UnmatchedReceipts[0].SourceFile)
}

func TestReconcile_DateMustMatchExactly(t *testing.T) {
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())

	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 1000, day(2026, 2, 13))},
		[]model.ReceiptRecord{makeReceipt("r1.pdf", 1000, "JPY", 0.9, day(2026, 2, 14))},
	)

	assert.Empty(t, result.Matches)
	assert.Len(t, result.UnmatchedTransactions, 1)
	assert.Len(t, result.UnmatchedReceipts, 1)
}

func TestReconcile_ToleranceBoundaryIsInclusive(t *testing.T) {
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())
	d := day(2026, 3, 1)

	// Exactly 3% over: accepted
	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 1000, d)},
		[]model.ReceiptRecord{makeReceipt("edge.pdf", 1030, "JPY", 0.9, d)},
	)
	require.Len(t, result.Matches, 1)
	assert.InDelta(t, 3.0, result.Matches[0].Score.AmountDiffPct, 1e-9)

	// One yen above the boundary: rejected
	result = m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 1000, d)},
		[]model.ReceiptRecord{makeReceipt("over.pdf", 1031, "JPY", 0.9, d)},
	)
	assert.Empty(t, result.Matches)
}

func TestReconcile_ConfidenceFloor(t *testing.T) {
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())
	d := day(2026, 3, 1)

	// Perfect amount match but confidence below the 0.7 floor
	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 1000, d)},
		[]model.ReceiptRecord{makeReceipt("low.pdf", 1000, "JPY", 0.69, d)},
	)

	assert.Empty(t, result.Matches)
	assert.Len(t, result.UnmatchedReceipts, 1)
}

func TestReconcile_ZeroAmountTransactionSkipped(t *testing.T) {
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())
	d := day(2026, 3, 1)

	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 0, d)},
		[]model.ReceiptRecord{makeReceipt("r1.pdf", 0, "JPY", 0.9, d)},
	)

	assert.Empty(t, result.Matches)
	require.Len(t, result.UnmatchedTransactions, 1)
	assert.Equal(t, "T1", result.UnmatchedTransactions[0].ID)
	assert.Len(t, result.UnmatchedReceipts, 1)
}

func TestReconcile_ConfidenceBreaksCloseDiffTie(t *testing.T) {
	// diff percentages 1.0 and 1.05 are within the 0.1pp slack, so the
	// higher-confidence receipt wins even though its diff is larger.
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())
	d := day(2026, 3, 1)

	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 10000, d)},
		[]model.ReceiptRecord{
			makeReceipt("a.pdf", 10100, "JPY", 0.6, d),  // diff 1.0%
			makeReceipt("b.pdf", 10105, "JPY", 0.95, d), // diff 1.05%
		},
	)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "b.pdf", result.Matches[0].Receipt.SourceFile)
}

func TestReconcile_SmallerDiffWinsOutsideSlack(t *testing.T) {
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())
	d := day(2026, 3, 1)

	result := m.Reconcile(context.Background(),
		[]model.Transaction{makeTransaction("T1", 10000, d)},
		[]model.ReceiptRecord{
			makeReceipt("far.pdf", 10200, "JPY", 0.99, d),  // diff 2.0%
			makeReceipt("near.pdf", 10010, "JPY", 0.71, d), // diff 0.1%
		},
	)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "near.pdf", result.Matches[0].Receipt.SourceFile)
}

func TestReconcile_FullTieBrokenBySourceFile(t *testing.T) {
	// Identical diff and confidence: lexically smaller source file wins
	// regardless of the order the receipts were supplied in.
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())
	d := day(2026, 3, 1)
	tx := []model.Transaction{makeTransaction("T1", 1000, d)}

	forward := m.Reconcile(context.Background(), tx, []model.ReceiptRecord{
		makeReceipt("a.pdf", 1000, "JPY", 0.9, d),
		makeReceipt("b.pdf", 1000, "JPY", 0.9, d),
	})
	reversed := m.Reconcile(context.Background(), tx, []model.ReceiptRecord{
		makeReceipt("b.pdf", 1000, "JPY", 0.9, d),
		makeReceipt("a.pdf", 1000, "JPY", 0.9, d),
	})

	require.Len(t, forward.Matches, 1)
	require.Len(t, reversed.Matches, 1)
	assert.Equal(t, "a.pdf", forward.Matches[0].Receipt.SourceFile)
	assert.Equal(t, "a.pdf", reversed.Matches[0].Receipt.SourceFile)
}

func TestReconcile_ReceiptConsumedOnlyOnce(t *testing.T) {
	m := New(&fakeRateSource{}, DefaultConfig(), testLogger())
	d := day(2026, 3, 1)

	result := m.Reconcile(context.Background(),
		[]model.Transaction{
			makeTransaction("T1", 1000, d),
			makeTransaction("T2", 1000, d),
		},
		[]model.ReceiptRecord{makeReceipt("only.pdf", 1000, "JPY", 0.9, d)},
	)

	require.Len(t, result.Matches, 1)
	assert.Equal(t, "T1", result.Matches[0].Transaction.ID)
	require.Len(t, result.UnmatchedTransactions, 1)
	assert.Equal(t, "T2", result.UnmatchedTransactions[0].ID)
}

func TestReconcile_PartitionCompleteness(t *testing.T) {
	m := New(&fakeRateSource{rates: map[string]float64{"USD/JPY": 150.0}}, DefaultConfig(), testLogger())
	d1 := day(2026, 3, 1)
	d2 := day(2026, 3, 2)

	transactions := []model.Transaction{
		makeTransaction("T1", 1500, d1),
		makeTransaction("T2", 2000, d2),
		makeTransaction("T3", 0, d1),
		makeTransaction("T4", 9999, d2),
	}
	receipts := []model.ReceiptRecord{
		makeReceipt("r1.pdf", 10.0, "USD", 0.9, d1),
		makeReceipt("r2.pdf", 2000, "JPY", 0.8, d2),
		makeReceipt("r3.pdf", 500, "JPY", 0.9, d1),
		makeReceipt("r4.pdf", 123, "JPY", 0.2, d2),
	}

	result := m.Reconcile(context.Background(), transactions, receipts)

	seenTx := make(map[string]int)
	for _, match := range result.Matches {
		seenTx[match.Transaction.ID]++
	}
	for _, tx := range result.UnmatchedTransactions {
		seenTx[tx.ID]++
	}
	for _, tx := range transactions {
		assert.Equal(t, 1, seenTx[tx.ID], "transaction %s must appear exactly once", tx.ID)
	}

	seenReceipts := make(map[string]int)
	for _, match := range result.Matches {
		seenReceipts[match.Receipt.SourceFile]++
	}
	for _, r := range result.UnmatchedReceipts {
		seenReceipts[r.SourceFile]++
	}
	for _, r := range receipts {
		assert.Equal(t, 1, seenReceipts[r.SourceFile], "receipt %s must appear exactly once", r.SourceFile)
	}
}

func TestCompareScores(t *testing.T) {
	tests := []struct {
		name string
		a, b model.MatchScore
		want int
	}{
		{
			name: "smaller diff wins outside slack",
			a:    model.MatchScore{AmountDiffPct: 0.5, Confidence: 0.7},
			b:    model.MatchScore{AmountDiffPct: 1.5, Confidence: 0.99},
			want: 1,
		},
		{
			name: "larger diff loses outside slack",
			a:    model.MatchScore{AmountDiffPct: 2.0, Confidence: 0.99},
			b:    model.MatchScore{AmountDiffPct: 0.5, Confidence: 0.7},
			want: -1,
		},
		{
			name: "close diff falls through to confidence",
			a:    model.MatchScore{AmountDiffPct: 1.05, Confidence: 0.95},
			b:    model.MatchScore{AmountDiffPct: 1.0, Confidence: 0.6},
			want: 1,
		},
		{
			name: "close diff and close confidence tie",
			a:    model.MatchScore{AmountDiffPct: 1.0, Confidence: 0.9},
			b:    model.MatchScore{AmountDiffPct: 1.05, Confidence: 0.92},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compareScores(tt.a, tt.b))
		})
	}
}
