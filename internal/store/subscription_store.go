package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
)

const subscriptionColumns = `id, name, url, secret, events, active, retry_enabled,
	max_retries, retry_delay_seconds, custom_headers, created_by, created_at, updated_at`

func (s *PostgresStore) CreateSubscription(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	secret := req.Secret
	if secret == "" {
		generated, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("generating secret: %w", err)
		}
		secret = generated
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	retryEnabled := true
	if req.RetryEnabled != nil {
		retryEnabled = *req.RetryEnabled
	}
	maxRetries := 3
	if req.MaxRetries != nil {
		maxRetries = *req.MaxRetries
	}
	retryDelay := 60
	if req.RetryDelaySeconds != nil {
		retryDelay = *req.RetryDelaySeconds
	}

	headers, err := marshalHeaders(req.CustomHeaders)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO subscriptions (name, url, secret, events, active, retry_enabled, max_retries, retry_delay_seconds, custom_headers, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+subscriptionColumns,
		req.Name, req.URL, secret, domain.DedupeEvents(req.Events),
		active, retryEnabled, maxRetries, retryDelay, headers, req.CreatedBy,
	)

	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("inserting subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`, id)

	sub, err := scanSubscription(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("querying subscription: %w", err)
	}
	return sub, nil
}

func (s *PostgresStore) ListSubscriptions(ctx context.Context, activeOnly bool) ([]domain.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if activeOnly {
		query += ` WHERE active = true`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		// Secrets are never included in bulk reads.
		sub.Secret = ""
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

func (s *PostgresStore) UpdateSubscription(ctx context.Context, id int64, req domain.UpdateSubscriptionRequest) (*domain.Subscription, error) {
	setClauses := []string{}
	args := []interface{}{}
	argIdx := 1

	if req.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *req.Name)
		argIdx++
	}
	if req.URL != nil {
		setClauses = append(setClauses, fmt.Sprintf("url = $%d", argIdx))
		args = append(args, *req.URL)
		argIdx++
	}
	if req.Events != nil {
		setClauses = append(setClauses, fmt.Sprintf("events = $%d", argIdx))
		args = append(args, domain.DedupeEvents(req.Events))
		argIdx++
	}
	if req.Active != nil {
		setClauses = append(setClauses, fmt.Sprintf("active = $%d", argIdx))
		args = append(args, *req.Active)
		argIdx++
	}
	if req.RetryEnabled != nil {
		setClauses = append(setClauses, fmt.Sprintf("retry_enabled = $%d", argIdx))
		args = append(args, *req.RetryEnabled)
		argIdx++
	}
	if req.MaxRetries != nil {
		setClauses = append(setClauses, fmt.Sprintf("max_retries = $%d", argIdx))
		args = append(args, *req.MaxRetries)
		argIdx++
	}
	if req.RetryDelaySeconds != nil {
		setClauses = append(setClauses, fmt.Sprintf("retry_delay_seconds = $%d", argIdx))
		args = append(args, *req.RetryDelaySeconds)
		argIdx++
	}
	if req.CustomHeaders != nil {
		headers, err := marshalHeaders(req.CustomHeaders)
		if err != nil {
			return nil, err
		}
		setClauses = append(setClauses, fmt.Sprintf("custom_headers = $%d", argIdx))
		args = append(args, headers)
		argIdx++
	}

	if len(setClauses) == 0 {
		return s.GetSubscription(ctx, id)
	}

	setClauses = append(setClauses, "updated_at = NOW()")

	query := fmt.Sprintf(`UPDATE subscriptions SET %s WHERE id = $%d RETURNING `+subscriptionColumns,
		strings.Join(setClauses, ", "), argIdx)
	args = append(args, id)

	sub, err := scanSubscription(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	return sub, nil
}

// DeleteSubscription hard-deletes a subscription. Deletion is refused while
// the subscription still has non-terminal deliveries; historical records are
// kept regardless.
func (s *PostgresStore) DeleteSubscription(ctx context.Context, id int64) error {
	var unfinished int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_deliveries
		WHERE subscription_id = $1 AND status IN ($2, $3)
	`, id, domain.StatusPending, domain.StatusRetrying).Scan(&unfinished)
	if err != nil {
		return fmt.Errorf("counting unfinished deliveries: %w", err)
	}
	if unfinished > 0 {
		return ErrSubscriptionBusy
	}

	result, err := s.pool.Exec(ctx, `DELETE FROM subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// FindMatchingSubscriptions returns all active subscriptions whose event set
// contains the given event type.
func (s *PostgresStore) FindMatchingSubscriptions(ctx context.Context, eventType string) ([]domain.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+subscriptionColumns+`
		FROM subscriptions
		WHERE active = true AND $1 = ANY(events)
	`, eventType)
	if err != nil {
		return nil, fmt.Errorf("finding matching subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []domain.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning subscription: %w", err)
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

func scanSubscription(row pgx.Row) (*domain.Subscription, error) {
	var sub domain.Subscription
	var headers []byte
	err := row.Scan(
		&sub.ID, &sub.Name, &sub.URL, &sub.Secret, &sub.Events,
		&sub.Active, &sub.RetryEnabled, &sub.MaxRetries, &sub.RetryDelaySeconds,
		&headers, &sub.CreatedBy, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &sub.CustomHeaders); err != nil {
			return nil, fmt.Errorf("decoding custom headers: %w", err)
		}
	}
	return &sub, nil
}

func marshalHeaders(headers map[string]string) ([]byte, error) {
	if len(headers) == 0 {
		return []byte(`{}`), nil
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("encoding custom headers: %w", err)
	}
	return data, nil
}

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "whsec_" + hex.EncodeToString(bytes), nil
}
