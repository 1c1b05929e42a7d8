package main

import (
	"context"
	"os/signal"
	"syscall"

	"subscription-checkout/internal/app"
	"subscription-checkout/internal/config"
	"subscription-checkout/internal/logger"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/zap"
)

func main() {
	log := logger.MustNew()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to start", zap.Error(err))
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Error("server stopped with error", zap.Error(err))
	}
}
