package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment_metrics_backend/internal/analytics"
	"fulfillment_metrics_backend/internal/events"
	"fulfillment_metrics_backend/internal/scheduler"
	"fulfillment_metrics_backend/platform/config"
	"fulfillment_metrics_backend/platform/db"
	"fulfillment_metrics_backend/platform/logger"
	"fulfillment_metrics_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting scheduler", "env", cfg.Env, "queue", cfg.GetAsynqQueueName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()

	eventBus := events.NewInMemoryBus(log)
	val := validator.New()

	analyticsModule := analytics.NewModule(pool, val, cfg, log, eventBus)

	dispatcher, err := scheduler.NewRefreshDispatcher(cfg, log)
	if err != nil {
		log.Error("failed to create refresh dispatcher", "error", err)
		panic("failed to create refresh dispatcher: " + err.Error())
	}
	defer dispatcher.Close()

	worker, err := scheduler.NewWorker(cfg, analyticsModule.Service(), log)
	if err != nil {
		log.Error("failed to create scheduler worker", "error", err)
		panic("failed to create scheduler worker: " + err.Error())
	}

	go dispatcher.Run(ctx)

	log.Info("scheduler running", "interval", cfg.GetRefreshInterval().String())
	worker.Run(ctx)

	log.Info("scheduler stopped")
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if lastErr = fn(); lastErr == nil {
			return nil
		}
		log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", lastErr)

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return lastErr
}
