// Command fxrate resolves a single historical exchange rate from the
// command line, sharing the durable cache with the match command.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/fxrate"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/config"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/logging"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

func main() {
	var (
		configPath = flag.String("config", "config.yaml", "Path to config file")
		from       = flag.String("from", "USD", "Source currency code")
		to         = flag.String("to", "JPY", "Target currency code")
		dateStr    = flag.String("date", "", "Rate date (YYYY-MM-DD, default: today)")
	)
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configPath)
	logger := logging.NewLoggerWithSystem(cfg.Logging, "fxrate")

	date := time.Now()
	if *dateStr != "" {
		parsed, err := time.Parse("2006-01-02", *dateStr)
		if err != nil {
			logger.Error("invalid date", "date", *dateStr, "error", err)
			os.Exit(1)
		}
		date = parsed
	}

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	resolver := fxrate.NewResolver(
		fxrate.NewFrankfurterProvider(cfg.FXRates.BaseURL),
		store,
		fxrate.Config{
			MaxRetries:    cfg.FXRates.MaxRetries,
			MaxNearbyDays: cfg.FXRates.MaxNearbyDays,
		},
		logger)

	fromCode := strings.ToUpper(*from)
	toCode := strings.ToUpper(*to)

	rate, ok := resolver.GetRate(context.Background(), fromCode, toCode, date)
	if !ok {
		fmt.Fprintf(os.Stderr, "no rate available for %s->%s on %s\n",
			fromCode, toCode, date.Format("2006-01-02"))
		os.Exit(1)
	}

	fmt.Printf("%s %s->%s: %.6f\n", date.Format("2006-01-02"), fromCode, toCode, rate)
}
