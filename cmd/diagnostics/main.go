package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"macropulse/internal/config"
	"macropulse/internal/dbg"
	"macropulse/internal/pipeline"
)

func main() {
	logger := dbg.NewProdLogger()
	defer func(logger *zap.Logger) {
		_ = logger.Sync()
	}(logger)

	defer logger.Info("done")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("error loading configuration", zap.Error(err))
	}

	if err := pipeline.New(logger, cfg).Diagnose(ctx); err != nil {
		logger.Fatal("diagnostics failed", zap.Error(err))
	}
}
