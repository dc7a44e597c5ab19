package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"aquaflow/backend/libs/logging"
	"aquaflow/backend/services/telemetry-service/internal/app"
	"aquaflow/backend/services/telemetry-service/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger("telemetry-sync")
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	job, err := app.NewSyncJob(cfg, logger)
	if err != nil {
		logger.Fatal("failed to init sync job", zap.Error(err))
	}
	defer job.Close()

	if err := job.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sync stopped with error", zap.Error(err))
		job.Close()
		os.Exit(1)
	}
}
