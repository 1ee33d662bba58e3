package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/adapters/mailbox"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/matcher"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func day(d int) time.Time {
	return time.Date(2026, 2, d, 0, 0, 0, 0, time.UTC)
}

type fakeLedger struct {
	mu       sync.Mutex
	deals    []model.Transaction
	uploads  []string
	attaches map[string]int64
	failDeal string
	nextID   int64
}

func (f *fakeLedger) FetchDeals(_ context.Context, _, _ time.Time) ([]model.Transaction, error) {
	return f.deals, nil
}

func (f *fakeLedger) UploadReceipt(_ context.Context, filePath, _ string, _ time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads = append(f.uploads, filePath)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeLedger) AttachReceipt(_ context.Context, dealID string, receiptID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if dealID == f.failDeal {
		return errors.New("boom")
	}
	if f.attaches == nil {
		f.attaches = make(map[string]int64)
	}
	f.attaches[dealID] = receiptID
	return nil
}

type fakeMailbox struct {
	messages    []mailbox.Message
	attachments map[string][]mailbox.Attachment
}

func (f *fakeMailbox) SearchMessages(_ context.Context, _, _ time.Time, _ string) ([]mailbox.Message, error) {
	return f.messages, nil
}

func (f *fakeMailbox) GetAttachments(_ context.Context, messageID string) ([]mailbox.Attachment, error) {
	return f.attachments[messageID], nil
}

// fakeExtractor returns canned records keyed by the attachment filename
// and fails for paths listed in failFiles
type fakeExtractor struct {
	mu        sync.Mutex
	records   map[string]model.ReceiptRecord
	failFiles map[string]bool
	calls     int
}

func (f *fakeExtractor) ExtractFile(_ context.Context, path string) (*model.ReceiptRecord, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	for name, record := range f.records {
		if hasSuffix(path, name) {
			if f.failFiles[name] {
				return nil, errors.New("unreadable")
			}
			r := record
			r.SourceFile = path
			return &r, nil
		}
	}
	return nil, fmt.Errorf("no canned record for %s", path)
}

func hasSuffix(path, name string) bool {
	return len(path) >= len(name) && path[len(path)-len(name):] == name
}

func newTestOrchestrator(t *testing.T, ledger *fakeLedger, mail *fakeMailbox, ext *fakeExtractor, store storage.RunRepository) *Orchestrator {
	t.Helper()
	m := matcher.New(nil, matcher.DefaultConfig(), testLogger())
	return NewOrchestrator(ledger, mail, ext, m, store, t.TempDir(), "", testLogger())
}

func TestRun_MatchesAndAttaches(t *testing.T) {
	ledger := &fakeLedger{
		deals: []model.Transaction{
			{ID: "1001", Date: day(13), Amount: 1500, MerchantName: "Example Store"},
			{ID: "1002", Date: day(14), Amount: 2800, MerchantName: "Other Store"},
		},
	}
	mail := &fakeMailbox{
		messages: []mailbox.Message{{ID: "msg-1"}},
		attachments: map[string][]mailbox.Attachment{
			"msg-1": {
				{Filename: "a.pdf", Data: []byte("pdf-a"), MessageID: "msg-1"},
				{Filename: "b.pdf", Data: []byte("pdf-b"), MessageID: "msg-1"},
			},
		},
	}
	ext := &fakeExtractor{
		records: map[string]model.ReceiptRecord{
			"a.pdf": {MerchantName: "Example Store", Date: day(13), Amount: 1500, Currency: "JPY", Confidence: 0.9},
			"b.pdf": {MerchantName: "Nobody", Date: day(20), Amount: 99, Currency: "JPY", Confidence: 0.9},
		},
	}
	store := storage.NewMemoryStore()

	o := newTestOrchestrator(t, ledger, mail, ext, store)
	result, err := o.Run(context.Background(), Options{DateFrom: day(1), DateTo: day(28)})

	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, "1001", result.Matches[0].Transaction.ID)
	assert.Len(t, result.UnmatchedTransactions, 1)
	assert.Len(t, result.UnmatchedReceipts, 1)
	assert.Equal(t, 1, result.AttachedCount)
	assert.Zero(t, result.ErrorCount)

	// The matched receipt was uploaded and attached to the right deal
	require.Len(t, ledger.uploads, 1)
	assert.Contains(t, ledger.uploads[0], "a.pdf")
	assert.Contains(t, ledger.attaches, "1001")

	// Run tracking was persisted with final counts
	run, err := store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusCompleted, run.Status)
	assert.Equal(t, 2, run.TransactionCount)
	assert.Equal(t, 2, run.ReceiptCount)
	assert.Equal(t, 1, run.MatchedCount)
	assert.Equal(t, 1, run.AttachedCount)
	require.NotNil(t, run.CompletedAt)

	results, err := store.GetRunResults(result.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "1001", results[0].TransactionID)
	assert.True(t, results[0].Attached)
}

func TestRun_DryRunSkipsAttachment(t *testing.T) {
	ledger := &fakeLedger{
		deals: []model.Transaction{
			{ID: "1001", Date: day(13), Amount: 1500, MerchantName: "Example Store"},
		},
	}
	mail := &fakeMailbox{
		messages: []mailbox.Message{{ID: "msg-1"}},
		attachments: map[string][]mailbox.Attachment{
			"msg-1": {{Filename: "a.pdf", Data: []byte("pdf-a"), MessageID: "msg-1"}},
		},
	}
	ext := &fakeExtractor{
		records: map[string]model.ReceiptRecord{
			"a.pdf": {MerchantName: "Example Store", Date: day(13), Amount: 1500, Currency: "JPY", Confidence: 0.9},
		},
	}
	store := storage.NewMemoryStore()

	o := newTestOrchestrator(t, ledger, mail, ext, store)
	result, err := o.Run(context.Background(), Options{DateFrom: day(1), DateTo: day(28), DryRun: true})

	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Zero(t, result.AttachedCount)
	assert.Empty(t, ledger.uploads)

	// The match is still recorded, just not attached
	results, err := store.GetRunResults(result.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Attached)
}

func TestRun_DealsWithReceiptsExcluded(t *testing.T) {
	ledger := &fakeLedger{
		deals: []model.Transaction{
			{ID: "1001", Date: day(13), Amount: 1500, MerchantName: "Example Store", HasReceipt: true},
		},
	}
	mail := &fakeMailbox{
		messages: []mailbox.Message{{ID: "msg-1"}},
		attachments: map[string][]mailbox.Attachment{
			"msg-1": {{Filename: "a.pdf", Data: []byte("pdf-a"), MessageID: "msg-1"}},
		},
	}
	ext := &fakeExtractor{
		records: map[string]model.ReceiptRecord{
			"a.pdf": {MerchantName: "Example Store", Date: day(13), Amount: 1500, Currency: "JPY", Confidence: 0.9},
		},
	}

	o := newTestOrchestrator(t, ledger, mail, ext, storage.NewMemoryStore())
	result, err := o.Run(context.Background(), Options{DateFrom: day(1), DateTo: day(28)})

	require.NoError(t, err)
	assert.Empty(t, result.Matches)
	assert.Len(t, result.UnmatchedReceipts, 1)
}

func TestRun_ExtractionFailureCountedNotFatal(t *testing.T) {
	ledger := &fakeLedger{
		deals: []model.Transaction{
			{ID: "1001", Date: day(13), Amount: 1500, MerchantName: "Example Store"},
		},
	}
	mail := &fakeMailbox{
		messages: []mailbox.Message{{ID: "msg-1"}},
		attachments: map[string][]mailbox.Attachment{
			"msg-1": {
				{Filename: "good.pdf", Data: []byte("pdf-1"), MessageID: "msg-1"},
				{Filename: "bad.pdf", Data: []byte("pdf-2"), MessageID: "msg-1"},
			},
		},
	}
	ext := &fakeExtractor{
		records: map[string]model.ReceiptRecord{
			"good.pdf": {MerchantName: "Example Store", Date: day(13), Amount: 1500, Currency: "JPY", Confidence: 0.9},
			"bad.pdf":  {},
		},
		failFiles: map[string]bool{"bad.pdf": true},
	}

	o := newTestOrchestrator(t, ledger, mail, ext, storage.NewMemoryStore())
	result, err := o.Run(context.Background(), Options{DateFrom: day(1), DateTo: day(28)})

	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	assert.Equal(t, 1, result.ReceiptCount)
	assert.Equal(t, 1, result.ErrorCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error(), "bad.pdf")
}

func TestRun_AttachFailureRecordedAndRunCompletes(t *testing.T) {
	ledger := &fakeLedger{
		deals: []model.Transaction{
			{ID: "1001", Date: day(13), Amount: 1500, MerchantName: "Example Store"},
		},
		failDeal: "1001",
	}
	mail := &fakeMailbox{
		messages: []mailbox.Message{{ID: "msg-1"}},
		attachments: map[string][]mailbox.Attachment{
			"msg-1": {{Filename: "a.pdf", Data: []byte("pdf-a"), MessageID: "msg-1"}},
		},
	}
	ext := &fakeExtractor{
		records: map[string]model.ReceiptRecord{
			"a.pdf": {MerchantName: "Example Store", Date: day(13), Amount: 1500, Currency: "JPY", Confidence: 0.9},
		},
	}
	store := storage.NewMemoryStore()

	o := newTestOrchestrator(t, ledger, mail, ext, store)
	result, err := o.Run(context.Background(), Options{DateFrom: day(1), DateTo: day(28)})

	require.NoError(t, err)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Zero(t, result.AttachedCount)

	run, err := store.GetRun(result.RunID)
	require.NoError(t, err)
	assert.Equal(t, storage.RunStatusCompleted, run.Status)
	assert.Equal(t, 1, run.ErrorCount)

	results, err := store.GetRunResults(result.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Attached)
}

func TestRun_ManyFilesThroughWorkerPool(t *testing.T) {
	ledger := &fakeLedger{}
	attachments := make([]mailbox.Attachment, 0, 20)
	records := make(map[string]model.ReceiptRecord, 20)
	for i := 0; i < 20; i++ {
		name := fmt.Sprintf("r%02d.pdf", i)
		attachments = append(attachments, mailbox.Attachment{
			Filename: name, Data: []byte(name), MessageID: "msg-1",
		})
		records[name] = model.ReceiptRecord{
			MerchantName: "Store", Date: day(13), Amount: float64(100 + i),
			Currency: "JPY", Confidence: 0.9,
		}
	}
	mail := &fakeMailbox{
		messages:    []mailbox.Message{{ID: "msg-1"}},
		attachments: map[string][]mailbox.Attachment{"msg-1": attachments},
	}
	ext := &fakeExtractor{records: records}

	o := newTestOrchestrator(t, ledger, mail, ext, nil)
	result, err := o.Run(context.Background(), Options{DateFrom: day(1), DateTo: day(28)})

	require.NoError(t, err)
	assert.Equal(t, 20, result.ReceiptCount)
	assert.Equal(t, 20, ext.calls)
	assert.Len(t, result.UnmatchedReceipts, 20)
}

func TestRun_NilStoreSkipsTracking(t *testing.T) {
	ledger := &fakeLedger{}
	mail := &fakeMailbox{}
	ext := &fakeExtractor{}

	o := newTestOrchestrator(t, ledger, mail, ext, nil)
	result, err := o.Run(context.Background(), Options{DateFrom: day(1), DateTo: day(28)})

	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Empty(t, result.Matches)
}
