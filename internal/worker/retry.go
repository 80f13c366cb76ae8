package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
)

// Backoff delays are capped so exponential growth never exceeds a day.
const maxBackoff = 24 * time.Hour

// RetryStore is the ledger surface the poll loop needs.
type RetryStore interface {
	FindDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error)
	ClaimRetry(ctx context.Context, id int64) (bool, error)
}

// RetryScheduler periodically re-discovers due retries from the ledger and
// resubmits them to the worker pool. Durable state lives in the ledger, not
// in memory, so retries survive process restarts. The conditional claim in
// the store keeps concurrent scheduler instances from double-dispatching.
type RetryScheduler struct {
	store     RetryStore
	pool      Submitter
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	clock     func() time.Time
}

func NewRetryScheduler(store RetryStore, pool Submitter, interval time.Duration, logger *slog.Logger) *RetryScheduler {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &RetryScheduler{
		store:     store,
		pool:      pool,
		logger:    logger,
		interval:  interval,
		batchSize: 100,
		clock:     time.Now,
	}
}

// Run polls at a fixed interval until the context is cancelled.
func (s *RetryScheduler) Run(ctx context.Context) {
	s.logger.Info("retry scheduler started", "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retry scheduler stopping")
			return
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll claims and resubmits every due record. With no due records it is a
// no-op, so re-running it changes nothing.
func (s *RetryScheduler) poll(ctx context.Context) {
	records, err := s.store.FindDueRetries(ctx, s.clock(), s.batchSize)
	if err != nil {
		s.logger.Error("failed to poll due retries", "error", err)
		return
	}

	for _, rec := range records {
		claimed, err := s.store.ClaimRetry(ctx, rec.ID)
		if err != nil {
			s.logger.Error("failed to claim retry", "error", err, "delivery_id", rec.ID)
			continue
		}
		if !claimed {
			// Another scheduler instance got there first.
			continue
		}

		s.pool.Submit(jobFromRecord(rec))
		s.logger.Info("retry dispatched",
			"delivery_id", rec.ID,
			"subscription_id", rec.SubscriptionID,
			"attempt", rec.Attempt,
		)
	}
}

// jobFromRecord rebuilds a delivery job from the ledger row. The raw event
// payload is recovered from the envelope snapshot of the previous attempt.
func jobFromRecord(rec domain.DeliveryRecord) engine.DeliveryJob {
	var data json.RawMessage
	if len(rec.RequestPayload) > 0 {
		var env engine.Envelope
		if err := json.Unmarshal(rec.RequestPayload, &env); err == nil {
			data = env.Data
		}
	}

	return engine.DeliveryJob{
		DeliveryID:     rec.ID,
		SubscriptionID: rec.SubscriptionID,
		EventType:      rec.EventType,
		EntityType:     rec.EntityType,
		EntityID:       rec.EntityID,
		Data:           data,
	}
}

// Backoff computes the delay before the next attempt:
// retryDelaySeconds * 2^(attempt-1), capped at 24h. attempt is the number of
// attempts already made, so the first retry waits exactly the base delay.
func Backoff(retryDelaySeconds, attempt int) time.Duration {
	if retryDelaySeconds <= 0 {
		retryDelaySeconds = 60
	}
	if attempt < 1 {
		attempt = 1
	}

	shift := attempt - 1
	if shift > 30 {
		return maxBackoff
	}

	delay := time.Duration(retryDelaySeconds) * time.Second << shift
	if delay > maxBackoff || delay <= 0 {
		return maxBackoff
	}
	return delay
}
