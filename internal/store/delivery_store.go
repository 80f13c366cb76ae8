package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
)

const deliveryColumns = `id, subscription_id, event_type, entity_type, entity_id,
	request_url, request_payload, request_headers, response_status, response_body,
	response_time_ms, attempt, max_attempts, next_retry_at, status, error_message,
	created_at, delivered_at`

// CreateDelivery materializes a pending delivery record for a matched event.
// max_attempts snapshots the subscription's policy at creation time.
func (s *PostgresStore) CreateDelivery(ctx context.Context, subscriptionID int64, eventType, entityType string, entityID int64, maxAttempts int) (*domain.DeliveryRecord, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (subscription_id, event_type, entity_type, entity_id, attempt, max_attempts, status)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING `+deliveryColumns,
		subscriptionID, eventType, entityType, entityID, maxAttempts, domain.StatusPending,
	)

	rec, err := scanDelivery(row)
	if err != nil {
		return nil, fmt.Errorf("inserting delivery: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) GetDelivery(ctx context.Context, id int64) (*domain.DeliveryRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM webhook_deliveries WHERE id = $1`, id)

	rec, err := scanDelivery(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying delivery: %w", err)
	}
	return rec, nil
}

// ListDeliveriesBySubscription returns a subscription's deliveries newest
// first, optionally filtered by status.
func (s *PostgresStore) ListDeliveriesBySubscription(ctx context.Context, subscriptionID int64, status string, limit int) ([]domain.DeliveryRecord, error) {
	query := `SELECT ` + deliveryColumns + ` FROM webhook_deliveries WHERE subscription_id = $1`
	args := []interface{}{subscriptionID}
	argIdx := 2

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, status)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, limit)
	}

	return s.queryDeliveries(ctx, query, args...)
}

// ListDeliveriesByEntity returns every delivery triggered by a given
// business entity, newest first.
func (s *PostgresStore) ListDeliveriesByEntity(ctx context.Context, entityType string, entityID int64) ([]domain.DeliveryRecord, error) {
	return s.queryDeliveries(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE entity_type = $1 AND entity_id = $2
		ORDER BY created_at DESC
	`, entityType, entityID)
}

// FindDueRetries is the poll query: records in retrying whose next_retry_at
// has passed.
func (s *PostgresStore) FindDueRetries(ctx context.Context, now time.Time, limit int) ([]domain.DeliveryRecord, error) {
	query := `
		SELECT ` + deliveryColumns + `
		FROM webhook_deliveries
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at`
	args := []interface{}{domain.StatusRetrying, now}

	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}

	return s.queryDeliveries(ctx, query, args...)
}

// ClaimRetry atomically claims a due record for redelivery by flipping it
// back to pending, which doubles as the in-flight marker. A false return
// means another scheduler instance claimed it first.
func (s *PostgresStore) ClaimRetry(ctx context.Context, id int64) (bool, error) {
	result, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, next_retry_at = NULL
		WHERE id = $1 AND status = $3
	`, id, domain.StatusPending, domain.StatusRetrying)
	if err != nil {
		return false, fmt.Errorf("claiming retry: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// BeginAttempt durably increments the attempt counter and snapshots the
// outgoing request before anything is sent, so a crash mid-flight never
// under-counts. Returns the incremented attempt number and the budget.
func (s *PostgresStore) BeginAttempt(ctx context.Context, id int64, requestURL string, payload []byte, headers map[string]string) (attempt, maxAttempts int, err error) {
	headerJSON, err := json.Marshal(headers)
	if err != nil {
		return 0, 0, fmt.Errorf("encoding request headers: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries
		SET attempt = attempt + 1, request_url = $2, request_payload = $3, request_headers = $4
		WHERE id = $1 AND attempt < max_attempts AND status = $5
		RETURNING attempt, max_attempts
	`, id, requestURL, payload, headerJSON, domain.StatusPending).Scan(&attempt, &maxAttempts)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, 0, ErrAttemptsExhausted
		}
		return 0, 0, fmt.Errorf("starting attempt: %w", err)
	}
	return attempt, maxAttempts, nil
}

// MarkDelivered records a successful attempt outcome.
func (s *PostgresStore) MarkDelivered(ctx context.Context, id int64, responseStatus int, responseBody string, responseTimeMs int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_status = $3, response_body = $4, response_time_ms = $5,
		    next_retry_at = NULL, delivered_at = NOW()
		WHERE id = $1
	`, id, domain.StatusSuccess, responseStatus, nullableString(responseBody), responseTimeMs)
	if err != nil {
		return fmt.Errorf("marking delivery success: %w", err)
	}
	return nil
}

// MarkRetrying records a failed attempt that still has retry budget.
func (s *PostgresStore) MarkRetrying(ctx context.Context, id int64, responseStatus *int, responseBody string, responseTimeMs int, errorMessage string, nextRetryAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_status = $3, response_body = $4, response_time_ms = $5,
		    error_message = $6, next_retry_at = $7
		WHERE id = $1
	`, id, domain.StatusRetrying, responseStatus, nullableString(responseBody), responseTimeMs,
		errorMessage, nextRetryAt)
	if err != nil {
		return fmt.Errorf("marking delivery retrying: %w", err)
	}
	return nil
}

// MarkFailed records a terminally failed delivery. No further scheduling
// occurs for the record.
func (s *PostgresStore) MarkFailed(ctx context.Context, id int64, responseStatus *int, responseBody string, responseTimeMs int, errorMessage string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_status = $3, response_body = $4, response_time_ms = $5,
		    error_message = $6, next_retry_at = NULL
		WHERE id = $1
	`, id, domain.StatusFailed, responseStatus, nullableString(responseBody), responseTimeMs,
		errorMessage)
	if err != nil {
		return fmt.Errorf("marking delivery failed: %w", err)
	}
	return nil
}

// DeleteOldDeliveries purges records older than the cutoff. Pure cleanup,
// no effect on subscriptions.
func (s *PostgresStore) DeleteOldDeliveries(ctx context.Context, daysOld int) (int64, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries
		WHERE created_at < NOW() - make_interval(days => $1)
	`, daysOld)
	if err != nil {
		return 0, fmt.Errorf("deleting old deliveries: %w", err)
	}
	return result.RowsAffected(), nil
}

func (s *PostgresStore) queryDeliveries(ctx context.Context, query string, args ...interface{}) ([]domain.DeliveryRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying deliveries: %w", err)
	}
	defer rows.Close()

	records := []domain.DeliveryRecord{}
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning delivery: %w", err)
		}
		records = append(records, *rec)
	}

	return records, rows.Err()
}

func scanDelivery(row pgx.Row) (*domain.DeliveryRecord, error) {
	var rec domain.DeliveryRecord
	var requestURL *string
	var payload []byte
	var headers []byte
	err := row.Scan(
		&rec.ID, &rec.SubscriptionID, &rec.EventType, &rec.EntityType, &rec.EntityID,
		&requestURL, &payload, &headers, &rec.ResponseStatus, &rec.ResponseBody,
		&rec.ResponseTimeMs, &rec.Attempt, &rec.MaxAttempts, &rec.NextRetryAt,
		&rec.Status, &rec.ErrorMessage, &rec.CreatedAt, &rec.DeliveredAt,
	)
	if err != nil {
		return nil, err
	}
	if requestURL != nil {
		rec.RequestURL = *requestURL
	}
	if len(payload) > 0 {
		rec.RequestPayload = json.RawMessage(payload)
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &rec.RequestHeaders); err != nil {
			return nil, fmt.Errorf("decoding request headers: %w", err)
		}
	}
	return &rec, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
