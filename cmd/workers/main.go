package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"certificate-portal/certificate-backend/internal/app"
	"certificate-portal/certificate-backend/internal/config"
	"certificate-portal/certificate-backend/internal/issuance"
)

// The worker re-drives issuances left pending past their lease, on the
// reconcile schedule, until it receives SIGINT or SIGTERM.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.json"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		bootstrap, _ := zap.NewProduction()
		bootstrap.Fatal("Failed to build logger", zap.Error(err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize issuance service", zap.Error(err))
	}
	defer a.Close()

	reconciler := issuance.NewReconciler(a.Service, a.Ledger, cfg.Reconcile.BatchSize, logger)

	// Catch up once before waiting for the schedule
	if _, err := reconciler.RunOnce(ctx); err != nil {
		logger.Error("Initial reconcile pass failed", zap.Error(err))
	}

	if err := reconciler.Start(cfg.Reconcile.Schedule); err != nil {
		logger.Fatal("Failed to start reconciler", zap.Error(err))
	}

	<-ctx.Done()
	logger.Info("Shutting down worker...")
	reconciler.Stop()
	logger.Info("Worker exiting")
}
