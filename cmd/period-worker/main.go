package main

import (
	"context"
	"os"
	"time"

	"fieldservice/internal/cli"
	applog "fieldservice/internal/log"
	"fieldservice/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentPeriod)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting period-worker", "interval", cfg.PeriodCheckInterval)

	backend := cli.InitBackend(context.Background(), logger, cfg)

	ledger := services.NewLedgerService(backend.Store, backend.Store, backend.Events, services.LedgerServiceConfig{
		StatusWindow:      cfg.StatusWindow,
		OverviewCacheSize: cfg.OverviewCacheSize,
	})
	processor := services.NewPeriodProcessor(ledger, backend.Store, services.PeriodProcessorConfig{
		CheckInterval: cfg.PeriodCheckInterval,
	})

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := processor.Stop(ctx); err != nil {
			logger.Error("Failed to stop period processor", "error", err)
		}
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	})

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start period processor", "error", err)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Period worker stopped")
}
