package scheduler

import (
	"context"
	"fmt"
	"time"

	"fulfillment_metrics_backend/platform/config"
	"fulfillment_metrics_backend/platform/logger"

	"github.com/hibiken/asynq"
)

// RefreshDispatcher periodically enqueues an aggregate refresh task. Cadence
// only; the refresh service itself decides the incremental window from the
// stored watermark, so a missed or duplicate tick never loses or double
// counts data.
type RefreshDispatcher struct {
	client   *asynq.Client
	queue    string
	interval time.Duration
	log      *logger.Logger
}

func NewRefreshDispatcher(cfg config.SchedulerConfig, log *logger.Logger) (*RefreshDispatcher, error) {
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

	interval := cfg.GetRefreshInterval()
	if interval <= 0 {
		interval = time.Hour
	}

	return &RefreshDispatcher{
		client:   asynq.NewClient(opt),
		queue:    queue,
		interval: interval,
		log:      log,
	}, nil
}

func (d *RefreshDispatcher) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *RefreshDispatcher) Run(ctx context.Context) {
	if d == nil || d.client == nil {
		return
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		task, err := NewAggregateRefreshTask(AggregateRefreshPayload{})
		if err != nil {
			d.log.Warn("refresh task build failed", "error", err)
			continue
		}

		if _, err := d.client.EnqueueContext(ctx, task, asynq.Queue(d.queue)); err != nil {
			d.log.Warn("refresh task enqueue failed", "error", err)
		}
	}
}
