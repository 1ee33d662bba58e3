package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/application/reconcile"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

// PrintHeader prints the application header
func PrintHeader(from, to time.Time, dryRun bool) {
	mode := "PRODUCTION"
	if dryRun {
		mode = "DRY-RUN"
	}
	fmt.Printf("receipt-matcher: %s .. %s (%s mode)\n\n",
		from.Format(dateFormat), to.Format(dateFormat), mode)
}

// PrintRunSummary prints the reconciliation result summary
func PrintRunSummary(result *reconcile.Result, repo storage.Repository, dryRun bool) {
	fmt.Println(strings.Repeat("-", 60))
	fmt.Printf("Summary: Matched=%d UnmatchedDeals=%d UnmatchedReceipts=%d Attached=%d Errors=%d\n",
		len(result.Matches),
		len(result.UnmatchedTransactions),
		len(result.UnmatchedReceipts),
		result.AttachedCount,
		result.ErrorCount)

	for _, match := range result.Matches {
		fmt.Printf("  deal %s <- %s (%s, diff %.2f%%, conf %.2f)\n",
			match.Transaction.ID,
			match.Receipt.SourceFile,
			match.Receipt.MerchantName,
			match.Score.AmountDiffPct,
			match.Score.Confidence)
	}

	if len(result.UnmatchedTransactions) > 0 {
		fmt.Println("\nDeals still missing a receipt:")
		for _, tx := range result.UnmatchedTransactions {
			fmt.Printf("  - %s\n", tx)
		}
	}

	if len(result.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, err := range result.Errors {
			fmt.Printf("  - %v\n", err)
		}
	}

	if repo != nil {
		stats, _ := repo.GetStats()
		if stats != nil && stats.TotalRuns > 0 {
			fmt.Printf("\nAll-Time Stats: Runs=%d Matched=%d Attached=%d CachedRates=%d\n",
				stats.TotalRuns,
				stats.TotalMatched,
				stats.TotalAttached,
				stats.CachedRates)
		}
	}

	if !dryRun && result.AttachedCount > 0 {
		fmt.Println("\nReconciliation completed successfully.")
	}
}
