package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"fieldservice/internal/cli"
	apphttp "fieldservice/internal/http"
	applog "fieldservice/internal/log"
	"fieldservice/internal/services"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(applog.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	backend := cli.InitBackend(context.Background(), logger, cfg)

	ledger := services.NewLedgerService(backend.Store, backend.Store, backend.Events, services.LedgerServiceConfig{
		StatusWindow:      cfg.StatusWindow,
		OverviewCacheSize: cfg.OverviewCacheSize,
	})

	srv, err := apphttp.NewServer(":"+cfg.Port, ledger, apphttp.Options{
		Ready:          backend.Ping,
		WriteRateLimit: cfg.WriteRateLimit,
		TrustedProxies: cfg.TrustedProxies,
		Logger:         logger.WithComponent(applog.ComponentHTTP),
	})
	if err != nil {
		logger.Error("Failed to create HTTP server", "error", err)
		os.Exit(1)
	}

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close backend", "error", err)
		}
	})

	logger.Info("Starting ledger server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", backend.Events != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
