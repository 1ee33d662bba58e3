// Package reconcile orchestrates a full reconciliation run: fetch ledger
// deals, collect receipt documents from the mailbox, extract their fields,
// match them against deals, and attach confirmed receipts.
package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/adapters/mailbox"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/matcher"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

const defaultExtractionWorkers = 5

// LedgerClient is the ledger side of a reconciliation run
type LedgerClient interface {
	FetchDeals(ctx context.Context, from, to time.Time) ([]model.Transaction, error)
	UploadReceipt(ctx context.Context, filePath, description string, issueDate time.Time) (int64, error)
	AttachReceipt(ctx context.Context, dealID string, receiptID int64) error
}

// MailboxClient finds receipt emails and downloads their attachments
type MailboxClient interface {
	SearchMessages(ctx context.Context, from, to time.Time, extraQuery string) ([]mailbox.Message, error)
	GetAttachments(ctx context.Context, messageID string) ([]mailbox.Attachment, error)
}

// ReceiptExtractor turns a receipt document into structured fields
type ReceiptExtractor interface {
	ExtractFile(ctx context.Context, path string) (*model.ReceiptRecord, error)
}

// Options holds per-run configuration
type Options struct {
	DateFrom time.Time
	DateTo   time.Time
	DryRun   bool
}

// Result holds the outcome of one reconciliation run
type Result struct {
	RunID                 string
	Matches               []model.Match
	UnmatchedTransactions []model.Transaction
	UnmatchedReceipts     []model.ReceiptRecord
	ReceiptCount          int
	AttachedCount         int
	ErrorCount            int
	Errors                []error
}

// Orchestrator runs the reconciliation process
type Orchestrator struct {
	ledger    LedgerClient
	mailbox   MailboxClient
	extractor ReceiptExtractor
	matcher   *matcher.Matcher
	store     storage.RunRepository
	logger    *slog.Logger

	tempDir   string
	mailQuery string
	workers   int
}

// NewOrchestrator creates a reconciliation orchestrator. The store may be
// nil; run tracking is then skipped.
func NewOrchestrator(
	ledger LedgerClient,
	mailboxClient MailboxClient,
	extractor ReceiptExtractor,
	m *matcher.Matcher,
	store storage.RunRepository,
	tempDir, mailQuery string,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		ledger:    ledger,
		mailbox:   mailboxClient,
		extractor: extractor,
		matcher:   m,
		store:     store,
		logger:    logger,
		tempDir:   tempDir,
		mailQuery: mailQuery,
		workers:   defaultExtractionWorkers,
	}
}
