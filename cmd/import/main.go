package main

import (
	"context"
	"flag"
	"os"
	"time"

	"fieldservice/internal/cli"
	"fieldservice/internal/core"
	applog "fieldservice/internal/log"
	"fieldservice/internal/services"
	gsheet "fieldservice/internal/sheets/google"
)

func main() {
	current, _ := core.PeriodOf(time.Now())
	year := flag.Int("year", current-1, "service year to import, numbered by its starting calendar year")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall import timeout")
	flag.Parse()

	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentImport)
	cfg := cli.LoadAndValidateConfig(logger)
	if err := cfg.ValidateImport(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	backend := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	}()

	source, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		CredentialsJSON: cfg.GoogleServiceAccountJSON,
		CredentialsFile: cfg.GoogleServiceAccountFile,
		AttendanceSheet: cfg.GoogleAttendanceSheet,
	})
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}

	importer := services.NewImportService(backend.Store, source, core.NewClassifier(cfg.StatusWindow))

	logger.Info("Importing service year",
		"service_year", *year,
		"spreadsheet_id", cfg.GoogleSpreadsheetID)
	result, err := importer.ImportYear(ctx, *year)
	if err != nil {
		logger.Error("Import aborted",
			"service_year", *year,
			"imported", result.Months,
			"error", err)
		os.Exit(1)
	}

	logger.Info("Import finished",
		"service_year", result.ServiceYear,
		"months", len(result.Months),
		"reports", result.Reports,
		"new_publishers", result.NewPublishers,
		"status_changes", result.StatusChanges,
		"skipped", result.Skipped)
}
