package worker

import (
	"context"
	"log/slog"
	"time"
)

// RetentionStore is the ledger surface the sweep needs.
type RetentionStore interface {
	DeleteOldDeliveries(ctx context.Context, daysOld int) (int64, error)
}

// RetentionSweeper purges delivery records older than the retention window.
// Pure cleanup: subscriptions are untouched.
type RetentionSweeper struct {
	store    RetentionStore
	logger   *slog.Logger
	interval time.Duration
	days     int
}

func NewRetentionSweeper(store RetentionStore, days int, logger *slog.Logger) *RetentionSweeper {
	if days <= 0 {
		days = 90
	}
	return &RetentionSweeper{
		store:    store,
		logger:   logger,
		interval: 24 * time.Hour,
		days:     days,
	}
}

// Run sweeps once at startup and then daily until the context is cancelled.
func (s *RetentionSweeper) Run(ctx context.Context) {
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	deleted, err := s.store.DeleteOldDeliveries(ctx, s.days)
	if err != nil {
		s.logger.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("retention sweep completed", "deleted", deleted, "days", s.days)
	}
}
