package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/adapters/extractor"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/adapters/ledger"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/adapters/mailbox"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/application/reconcile"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/cli"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/domain/matcher"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/fxrate"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/config"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/logging"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

func main() {
	flags := cli.ParseMatchFlags()

	cfg := config.LoadOrEnvWithPath(flags.ConfigPath)
	if flags.Verbose {
		cfg.Logging.Level = "debug"
	}
	logger := logging.NewLogger(cfg.Logging)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	from, to, err := flags.DateRange(cfg.Matching.DateRangeDays)
	if err != nil {
		logger.Error("invalid date range", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	mailboxClient, err := mailbox.NewClient(ctx,
		cfg.Gmail.CredentialsPath, cfg.Gmail.TokenPath,
		logger.With("system", "mailbox"))
	if err != nil {
		logger.Error("failed to create gmail client", "error", err)
		os.Exit(1)
	}

	receiptExtractor, err := extractor.New(ctx,
		cfg.LLM.APIKey, cfg.LLM.Model, store,
		logger.With("system", "extractor"))
	if err != nil {
		logger.Error("failed to create extractor", "error", err)
		os.Exit(1)
	}

	ledgerClient := ledger.NewClient(
		cfg.Freee.AccessToken, cfg.Freee.CompanyID,
		logger.With("system", "ledger"))

	rates := fxrate.NewResolver(
		fxrate.NewFrankfurterProvider(cfg.FXRates.BaseURL),
		store,
		fxrate.Config{
			MaxRetries:    cfg.FXRates.MaxRetries,
			MaxNearbyDays: cfg.FXRates.MaxNearbyDays,
		},
		logger.With("system", "fxrate"))

	m := matcher.New(rates, matcher.Config{
		TolerancePercent: cfg.Matching.TolerancePercent,
		MinConfidence:    cfg.Matching.MinConfidence,
		HomeCurrency:     cfg.Matching.HomeCurrency,
	}, logger.With("system", "matcher"))

	orchestrator := reconcile.NewOrchestrator(
		ledgerClient, mailboxClient, receiptExtractor, m, store,
		cfg.TempDir, cfg.Gmail.Query,
		logger.With("system", "reconcile"))

	cli.PrintHeader(from, to, flags.DryRun)

	result, err := orchestrator.Run(ctx, reconcile.Options{
		DateFrom: from,
		DateTo:   to,
		DryRun:   flags.DryRun,
	})
	if err != nil {
		logger.Error("reconciliation failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	cli.PrintRunSummary(result, store, flags.DryRun)

	if result.ErrorCount > 0 {
		os.Exit(1)
	}
}
