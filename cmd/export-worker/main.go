package main

import (
	"context"
	"errors"
	"os"
	"time"

	"fieldservice/internal/amqp"
	"fieldservice/internal/cli"
	"fieldservice/internal/core"
	applog "fieldservice/internal/log"
	"fieldservice/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentWorker)
	cfg := cli.LoadAndValidateConfig(logger)

	logger.Info("Starting export-worker", "export_dir", cfg.ExportDir)

	backend := cli.InitBackend(context.Background(), logger, cfg)

	consumer, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue, amqp.EventMonthClosed)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}

	exporter := worker.NewExportWorker(backend.Store, cfg.ExportDir)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := consumer.Close(); err != nil {
			logger.Error("Failed to close AMQP client", "error", err)
		}
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	})

	// Catch up on months closed while the worker was down. The previous
	// service year is included for the weeks after the September rollover.
	serviceYear, _ := core.PeriodOf(time.Now())
	for _, year := range []int{serviceYear - 1, serviceYear} {
		if _, err := exporter.ExportPending(ctx, year); err != nil {
			logger.Error("Startup export failed", "service_year", year, "error", err)
		}
	}

	go func() {
		if err := consumer.Consume(ctx, exporter.HandleEvent); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
	}()

	cli.WaitForShutdown(ctx, done)
	logger.Info("Export worker stopped")
}
