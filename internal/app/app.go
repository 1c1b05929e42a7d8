// Package app wires configuration, storage, the gateway and the HTTP surface
// into a runnable server.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"subscription-checkout/internal/config"
	"subscription-checkout/internal/database"
	"subscription-checkout/internal/domain"
	"subscription-checkout/internal/infrastructure/cache"
	"subscription-checkout/internal/infrastructure/notify"
	"subscription-checkout/internal/infrastructure/payment"
	"subscription-checkout/internal/repo"
	"subscription-checkout/internal/scheduler"
	"subscription-checkout/internal/service"
	"subscription-checkout/internal/worker"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	logger    *zap.Logger
	db        database.Service
	closeRdb  func()
	scheduler *scheduler.Scheduler
	sweeper   *worker.ReconciliationWorker
	bot       *notify.TelegramBot
	server    *http.Server
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := database.RunMigrations(logger, cfg.DSN()); err != nil {
		return nil, err
	}
	db, err := database.New(ctx, logger, cfg.DSN())
	if err != nil {
		return nil, err
	}

	rdb, closeRdb, err := cache.New(ctx, cache.Config{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}

	bot, err := notify.NewTelegramBot(cfg.TelegramToken, logger)
	if err != nil {
		closeRdb()
		_ = db.Close()
		return nil, err
	}

	gateway := payment.NewYooKassa(payment.YooKassaConfig{
		BaseURL:   cfg.YooKassaBaseURL,
		ShopID:    cfg.YooKassaShopID,
		SecretKey: cfg.YooKassaSecretKey,
		Timeout:   cfg.GatewayTimeout,
	}, logger)

	jobs := repo.NewJobRepo(db.DB(), logger)
	sched := scheduler.New(jobs, logger, scheduler.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		Backoff:     cfg.RetryBackoff,
		JobTimeout:  cfg.JobTimeout,
	})

	svc := service.NewPaymentService(
		logger,
		repo.NewUserRepo(db.DB()),
		repo.NewProductRepo(db.DB()),
		repo.NewPaymentRepo(db.DB(), logger),
		gateway,
		bot,
		sched,
		cache.NewDeduplicator(rdb, cfg.WebhookDedupeTTL),
		service.Options{
			ReturnURL:    cfg.ReturnURL,
			RenewalDelay: cfg.RenewalDelay,
			RetryDelay:   cfg.RetryDelay,
		},
	)
	registerHandlers(sched, svc)

	router, err := NewRouter(logger, cfg, svc, db)
	if err != nil {
		closeRdb()
		_ = db.Close()
		return nil, err
	}

	sweeper := worker.NewReconciliationWorker(jobs, sched, cache.NewRedsync(rdb), worker.Options{
		Interval:   cfg.SweepInterval,
		StuckAfter: cfg.StuckJobAfter,
	}, logger)

	return &App{
		logger:    logger,
		db:        db,
		closeRdb:  closeRdb,
		scheduler: sched,
		sweeper:   sweeper,
		bot:       bot,
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func registerHandlers(sched *scheduler.Scheduler, svc service.PaymentService) {
	sched.Handle(domain.JobRenewal, svc.Retry)
	sched.Handle(domain.JobRetry, svc.Retry)
	sched.OnAbandoned(svc.NotifyAbandoned)
}

// Run serves until ctx is done or the HTTP server fails, then shuts every
// component down.
func (a *App) Run(ctx context.Context) error {
	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		a.sweeper.Run(bgCtx)
	}()
	go func() {
		defer wg.Done()
		a.bot.Run(bgCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http shutdown failed", zap.Error(err))
	}
	stopBackground()
	wg.Wait()
	if err := a.scheduler.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("scheduler did not drain in time", zap.Error(err))
	}
	return runErr
}

// Close releases storage connections. Call it after Run returns.
func (a *App) Close() {
	a.closeRdb()
	if err := a.db.Close(); err != nil {
		a.logger.Error("close database", zap.Error(err))
	}
}
