package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
	"github.com/redis/go-redis/v9"
)

// Dispatcher polls the Redis delivery queue for due jobs and feeds them to
// the worker pool.
type Dispatcher struct {
	redisClient  *redis.Client
	pool         Submitter
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int64
}

func NewDispatcher(redisClient *redis.Client, pool Submitter, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		redisClient:  redisClient,
		pool:         pool,
		logger:       logger,
		pollInterval: 100 * time.Millisecond,
		batchSize:    10,
	}
}

// Start begins the polling loop. It runs until the context is cancelled.
func (d *Dispatcher) Start(ctx context.Context) {
	d.logger.Info("dispatcher started")

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

// poll fetches a batch of due jobs and dispatches them. ZRem is the claim:
// if another dispatcher instance already removed the member, it is skipped.
func (d *Dispatcher) poll(ctx context.Context) {
	now := float64(time.Now().UnixMicro())

	results, err := d.redisClient.ZRangeByScoreWithScores(ctx, engine.DeliveryQueueKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatFloat(now, 'f', -1, 64),
		Count: d.batchSize,
	}).Result()
	if err != nil {
		d.logger.Error("failed to poll delivery queue", "error", err)
		return
	}

	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}

		removed, err := d.redisClient.ZRem(ctx, engine.DeliveryQueueKey, member).Result()
		if err != nil {
			d.logger.Error("failed to remove job from queue", "error", err)
			continue
		}
		if removed == 0 {
			continue
		}

		var job engine.DeliveryJob
		if err := json.Unmarshal([]byte(member), &job); err != nil {
			d.logger.Error("failed to unmarshal delivery job", "error", err)
			continue
		}

		d.pool.Submit(job)
	}
}
