package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/api"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/config"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/logging"
	"github.com/nishikawa-technologies/freee-receipt-matcher/internal/infrastructure/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg := config.LoadOrEnvWithPath(*configPath)
	logger := logging.NewLoggerWithSystem(cfg.Logging, "api")

	store, err := storage.NewStorage(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	serverConfig := api.DefaultConfig()
	serverConfig.ListenAddr = cfg.API.ListenAddr
	if len(cfg.API.AllowedOrigins) > 0 {
		serverConfig.AllowedOrigins = cfg.API.AllowedOrigins
	}

	server := api.NewServer(serverConfig, store, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	case <-stop:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown failed", "error", err)
			os.Exit(1)
		}
	}
}
