package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fulfillment_metrics_backend/internal/analytics"
	"fulfillment_metrics_backend/internal/events"
	apphttp "fulfillment_metrics_backend/internal/http"
	"fulfillment_metrics_backend/internal/http/router"
	"fulfillment_metrics_backend/migrations"
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

	// Initialize structured logger
	log := logger.New(cfg.Env)
	log.Info("starting server", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ========================================================================
	// Infrastructure Layer
	// ========================================================================

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg, migrations.FS)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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
	log.Info("database connection established")

	// Event bus for decoupled communication between modules
	eventBus := events.NewInMemoryBus(log)
	subscribeRunLogging(eventBus, log)

	// Shared validator instance for dependency injection
	val := validator.New()

	// ========================================================================
	// Domain Modules (Composition Root)
	// ========================================================================

	analyticsModule := analytics.NewModule(pool, val, cfg, log, eventBus)

	// ========================================================================
	// HTTP Layer
	// ========================================================================

	app := &apphttp.App{
		Config:   cfg,
		Logger:   log,
		Health:   db.NewPoolAdapter(pool),
		EventBus: eventBus,
		Modules: []apphttp.Module{
			analyticsModule,
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, gracefully shutting down")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
		}
	}
}

// subscribeRunLogging attaches observers for refresh outcomes so the API
// process records scheduler-triggered runs too, not only its own.
func subscribeRunLogging(bus events.Bus, log *logger.Logger) {
	bus.Subscribe(events.AggregateRefreshCompleted{}.EventName(), events.HandlerFunc(
		func(_ context.Context, event events.Event) error {
			if e, ok := event.(events.AggregateRefreshCompleted); ok {
				log.Info("aggregate refresh completed",
					"runId", e.RunID,
					"fullRebuild", e.FullRebuild,
					"rowsUpserted", e.RowsUpserted,
				)
			}
			return nil
		}))
	bus.Subscribe(events.AggregateRefreshFailed{}.EventName(), events.HandlerFunc(
		func(_ context.Context, event events.Event) error {
			if e, ok := event.(events.AggregateRefreshFailed); ok {
				log.Error("aggregate refresh failed", "runId", e.RunID, "reason", e.Reason)
			}
			return nil
		}))
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
			log.Warn("retryable operation failed", "operation", name, "attempt", attempt, "error", err)
		}

		if attempt < attempts {
			delay := time.Duration(attempt*attempt) * baseDelay
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}

	return errors.New(name + ": " + lastErr.Error())
}
