package scheduler

import (
	"context"
	"fmt"
	"time"

	analyticsservice "fulfillment_metrics_backend/internal/analytics/service"
	"fulfillment_metrics_backend/platform/apperr"
	"fulfillment_metrics_backend/platform/config"
	"fulfillment_metrics_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// Worker consumes analytics tasks from the asynq queue and drives the
// refresh service.
type Worker struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	svc    *analyticsservice.Service
	log    *logger.Logger
}

func NewWorker(cfg config.SchedulerConfig, svc *analyticsservice.Service, log *logger.Logger) (*Worker, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return nil, fmt.Errorf("redis url not configured")
	}

	opt, err := redisClientOpt(redisURL, cfg.GetRedisTLSInsecure())
	if err != nil {
		return nil, err
	}

	queue := cfg.GetAsynqQueueName()
	if queue == "" {
		queue = "default"
	}

	concurrency := cfg.GetAsynqConcurrency()
	if concurrency < 1 {
		concurrency = 4
	}

	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues: map[string]int{
			queue: 1,
		},
	})

	mux := asynq.NewServeMux()
	w := &Worker{
		server: server,
		mux:    mux,
		svc:    svc,
		log:    log,
	}

	mux.HandleFunc(TaskAggregateRefresh, w.handleAggregateRefresh)

	return w, nil
}

func (w *Worker) handleAggregateRefresh(ctx context.Context, task *asynq.Task) error {
	payload, err := ParseAggregateRefreshPayload(task)
	if err != nil {
		return err
	}

	var params analyticsservice.RefreshParams
	if payload.Watermark != "" {
		watermark, err := time.Parse(time.RFC3339, payload.Watermark)
		if err != nil {
			return fmt.Errorf("invalid watermark in payload: %w", err)
		}
		params.OverrideWatermark = &watermark
	}
	if payload.LookbackHours > 0 {
		lookback := time.Duration(payload.LookbackHours) * time.Hour
		params.OverrideLookback = &lookback
	}

	_, err = w.svc.Refresh(ctx, params)
	if apperr.Is(err, apperr.KindConflict) {
		// Another run is in progress; the next tick covers this window.
		w.log.Info("refresh already in progress, skipping tick")
		return nil
	}
	return err
}

func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.server == nil {
		return
	}

	go func() {
		<-ctx.Done()
		w.server.Shutdown()
	}()

	if err := w.server.Run(w.mux); err != nil {
		w.log.Error("scheduler worker stopped", "error", err)
	}
}
