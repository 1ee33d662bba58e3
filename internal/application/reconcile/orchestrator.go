package reconcile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/model"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

// Run executes one reconciliation pass over the date range
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{
		RunID:  uuid.NewString(),
		Errors: make([]error, 0),
	}

	o.logger.Info("starting reconciliation run",
		"run_id", result.RunID,
		"date_from", opts.DateFrom.Format("2006-01-02"),
		"date_to", opts.DateTo.Format("2006-01-02"),
		"dry_run", opts.DryRun,
	)

	if o.store != nil {
		run := &storage.MatchRun{
			ID:        result.RunID,
			StartedAt: time.Now(),
			DateFrom:  opts.DateFrom.Format("2006-01-02"),
			DateTo:    opts.DateTo.Format("2006-01-02"),
			DryRun:    opts.DryRun,
			Status:    storage.RunStatusRunning,
		}
		if err := o.store.StartRun(run); err != nil {
			// Tracking failure should not block the run
			o.logger.Warn("failed to start run tracking", "error", err)
		}
	}

	// 1. Fetch deals and keep the ones still missing a receipt
	deals, err := o.ledger.FetchDeals(ctx, opts.DateFrom, opts.DateTo)
	if err != nil {
		o.completeRun(result, len(deals), storage.RunStatusFailed)
		return nil, fmt.Errorf("fetch deals: %w", err)
	}

	var transactions []model.Transaction
	for _, tx := range deals {
		if tx.HasReceipt {
			continue
		}
		transactions = append(transactions, tx)
	}
	o.logger.Info("fetched deals",
		"total", len(deals), "missing_receipt", len(transactions))

	// 2. Collect receipt documents from the mailbox
	files, err := o.collectReceiptFiles(ctx, opts)
	if err != nil {
		o.completeRun(result, len(transactions), storage.RunStatusFailed)
		return nil, err
	}

	// 3. Extract fields from each document
	receipts := o.extractAll(ctx, files, result)
	result.ReceiptCount = len(receipts)

	// 4. Match receipts against deals
	matchResult := o.matcher.Reconcile(ctx, transactions, receipts)
	result.Matches = matchResult.Matches
	result.UnmatchedTransactions = matchResult.UnmatchedTransactions
	result.UnmatchedReceipts = matchResult.UnmatchedReceipts

	// 5. Upload and attach confirmed matches
	for _, match := range matchResult.Matches {
		attached := false
		if opts.DryRun {
			o.logger.Info("[dry run] would attach receipt",
				"deal_id", match.Transaction.ID, "file", match.Receipt.SourceFile)
		} else {
			if err := o.attachMatch(ctx, match); err != nil {
				result.ErrorCount++
				result.Errors = append(result.Errors, fmt.Errorf("attach %s to deal %s: %w",
					match.Receipt.SourceFile, match.Transaction.ID, err))
				o.logger.Error("failed to attach receipt",
					"deal_id", match.Transaction.ID, "file", match.Receipt.SourceFile, "error", err)
			} else {
				attached = true
				result.AttachedCount++
			}
		}
		o.saveResult(result.RunID, match, attached)
	}

	o.completeRun(result, len(transactions), storage.RunStatusCompleted)

	o.logger.Info("reconciliation run finished",
		"run_id", result.RunID,
		"matched", len(result.Matches),
		"unmatched_transactions", len(result.UnmatchedTransactions),
		"unmatched_receipts", len(result.UnmatchedReceipts),
		"attached", result.AttachedCount,
		"errors", result.ErrorCount,
	)
	return result, nil
}

// collectReceiptFiles searches the mailbox and writes every PDF attachment
// to the temp directory, returning the file paths
func (o *Orchestrator) collectReceiptFiles(ctx context.Context, opts Options) ([]string, error) {
	messages, err := o.mailbox.SearchMessages(ctx, opts.DateFrom, opts.DateTo, o.mailQuery)
	if err != nil {
		return nil, fmt.Errorf("search mailbox: %w", err)
	}

	if err := os.MkdirAll(o.tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}

	var files []string
	for _, message := range messages {
		attachments, err := o.mailbox.GetAttachments(ctx, message.ID)
		if err != nil {
			o.logger.Warn("failed to fetch attachments, skipping message",
				"message_id", message.ID, "error", err)
			continue
		}
		for _, att := range attachments {
			// Prefix with the message ID so equal filenames from
			// different emails never collide
			path := filepath.Join(o.tempDir, fmt.Sprintf("%s_%s", att.MessageID, filepath.Base(att.Filename)))
			if err := os.WriteFile(path, att.Data, 0o600); err != nil {
				o.logger.Warn("failed to write attachment, skipping",
					"file", path, "error", err)
				continue
			}
			files = append(files, path)
		}
	}

	o.logger.Info("collected receipt files", "count", len(files))
	return files, nil
}

// extractAll runs extraction over the files with a bounded worker pool.
// Files that fail to extract are counted as errors and dropped.
func (o *Orchestrator) extractAll(ctx context.Context, files []string, result *Result) []model.ReceiptRecord {
	jobs := make(chan string)
	var mu sync.Mutex
	var receipts []model.ReceiptRecord

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				record, err := o.extractor.ExtractFile(ctx, path)
				mu.Lock()
				if err != nil {
					result.ErrorCount++
					result.Errors = append(result.Errors, fmt.Errorf("extract %s: %w", path, err))
					o.logger.Warn("extraction failed, skipping receipt", "file", path, "error", err)
				} else {
					receipts = append(receipts, *record)
				}
				mu.Unlock()
			}
		}()
	}

	for _, path := range files {
		jobs <- path
	}
	close(jobs)
	wg.Wait()

	o.logger.Info("extracted receipts", "count", len(receipts), "failed", len(files)-len(receipts))
	return receipts
}

// attachMatch uploads the receipt file and attaches it to the matched deal
func (o *Orchestrator) attachMatch(ctx context.Context, match model.Match) error {
	receiptID, err := o.ledger.UploadReceipt(ctx,
		match.Receipt.SourceFile, match.Receipt.MerchantName, match.Receipt.Date)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	if err := o.ledger.AttachReceipt(ctx, match.Transaction.ID, receiptID); err != nil {
		return fmt.Errorf("attach: %w", err)
	}
	return nil
}

func (o *Orchestrator) saveResult(runID string, match model.Match, attached bool) {
	if o.store == nil {
		return
	}
	record := &storage.MatchResultRecord{
		RunID:         runID,
		TransactionID: match.Transaction.ID,
		ReceiptSource: match.Receipt.SourceFile,
		MerchantName:  match.Receipt.MerchantName,
		AmountDiffPct: match.Score.AmountDiffPct,
		Confidence:    match.Score.Confidence,
		Attached:      attached,
	}
	if err := o.store.SaveResult(record); err != nil {
		o.logger.Warn("failed to save match result", "run_id", runID, "error", err)
	}
}

func (o *Orchestrator) completeRun(result *Result, transactionCount int, status string) {
	if o.store == nil {
		return
	}
	counts := storage.RunCounts{
		TransactionCount:      transactionCount,
		ReceiptCount:          result.ReceiptCount,
		MatchedCount:          len(result.Matches),
		UnmatchedTransactions: len(result.UnmatchedTransactions),
		UnmatchedReceipts:     len(result.UnmatchedReceipts),
		AttachedCount:         result.AttachedCount,
		ErrorCount:            result.ErrorCount,
		Status:                status,
	}
	if err := o.store.CompleteRun(result.RunID, counts); err != nil {
		o.logger.Warn("failed to complete run tracking", "run_id", result.RunID, "error", err)
	}
}
