package store

import (
	"context"
	"fmt"
	"math"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
)

// GetSubscriptionStats returns delivery counts for records created within
// the trailing window of the given number of days.
func (s *PostgresStore) GetSubscriptionStats(ctx context.Context, subscriptionID int64, days int) (*domain.DeliveryStats, error) {
	stats := domain.DeliveryStats{
		SubscriptionID: subscriptionID,
		Days:           days,
	}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE status = 'success') AS success,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'retrying') AS retrying
		FROM webhook_deliveries
		WHERE subscription_id = $1
		  AND created_at >= NOW() - make_interval(days => $2)
	`, subscriptionID, days).Scan(
		&stats.Total, &stats.Success, &stats.Failed, &stats.Pending, &stats.Retrying,
	)
	if err != nil {
		return nil, fmt.Errorf("querying delivery stats: %w", err)
	}

	stats.SuccessRate = SuccessRate(stats.Success, stats.Total)

	return &stats, nil
}

// SuccessRate is success/total as a percentage rounded to two decimals,
// zero when there were no deliveries.
func SuccessRate(success, total int) float64 {
	if total == 0 {
		return 0
	}
	rate := float64(success) / float64(total) * 100
	return math.Round(rate*100) / 100
}
