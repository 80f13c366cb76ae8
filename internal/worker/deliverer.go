package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/store"
	ws "github.com/rcolomer-cos/E-QMS-sub005/internal/websocket"
)

// Response bodies are truncated before persisting.
const maxResponseBody = 1024

// Store is the registry/ledger surface a delivery attempt touches.
type Store interface {
	GetSubscription(ctx context.Context, id int64) (*domain.Subscription, error)
	BeginAttempt(ctx context.Context, id int64, requestURL string, payload []byte, headers map[string]string) (attempt, maxAttempts int, err error)
	MarkDelivered(ctx context.Context, id int64, responseStatus int, responseBody string, responseTimeMs int) error
	MarkRetrying(ctx context.Context, id int64, responseStatus *int, responseBody string, responseTimeMs int, errorMessage string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, id int64, responseStatus *int, responseBody string, responseTimeMs int, errorMessage string) error
}

// Deliverer performs single HTTP delivery attempts: it builds the signed
// envelope, sends it with a bounded timeout, classifies the outcome and
// persists the result. Failed attempts are handed to the retry policy.
type Deliverer struct {
	httpClient *http.Client
	store      Store
	hub        *ws.Hub
	logger     *slog.Logger
	clock      func() time.Time
}

func NewDeliverer(st Store, hub *ws.Hub, logger *slog.Logger) *Deliverer {
	return &Deliverer{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		store:  st,
		hub:    hub,
		logger: logger,
		clock:  time.Now,
	}
}

// Deliver executes one attempt for the job's delivery record. The secret and
// endpoint are read from the registry at attempt time, never cached on the
// job, so policy edits and the write-once secret stay authoritative.
func (d *Deliverer) Deliver(ctx context.Context, job engine.DeliveryJob) {
	sub, err := d.store.GetSubscription(ctx, job.SubscriptionID)
	if err != nil {
		d.logger.Error("failed to load subscription for delivery",
			"error", err,
			"delivery_id", job.DeliveryID,
			"subscription_id", job.SubscriptionID,
		)
		return
	}
	if sub == nil {
		d.logger.Warn("subscription gone, skipping delivery",
			"delivery_id", job.DeliveryID,
			"subscription_id", job.SubscriptionID,
		)
		return
	}

	body, err := engine.BuildEnvelope(job.EventType, job.EntityType, job.EntityID, job.DeliveryID, d.clock(), job.Data)
	if err != nil {
		d.logger.Error("failed to build envelope", "error", err, "delivery_id", job.DeliveryID)
		return
	}
	headers := engine.SignedHeaders(body, sub.Secret, job.EventType, job.DeliveryID, sub.CustomHeaders)

	// The attempt counter and request snapshot are persisted before the
	// send, so a crash mid-flight never under-counts.
	attempt, maxAttempts, err := d.store.BeginAttempt(ctx, job.DeliveryID, sub.URL, body, headers)
	if err != nil {
		if errors.Is(err, store.ErrAttemptsExhausted) {
			d.logger.Warn("attempt budget spent, not sending", "delivery_id", job.DeliveryID)
			return
		}
		d.logger.Error("failed to start attempt", "error", err, "delivery_id", job.DeliveryID)
		return
	}

	start := d.clock()
	statusCode, responseBody, sendErr := d.send(ctx, sub.URL, body, headers)
	elapsed := int(d.clock().Sub(start).Milliseconds())

	if sendErr == nil && statusCode != nil && *statusCode >= 200 && *statusCode < 300 {
		d.recordSuccess(ctx, job, attempt, *statusCode, responseBody, elapsed)
		return
	}

	errMsg := classifyFailure(statusCode, sendErr)
	d.recordFailure(ctx, job, sub, attempt, maxAttempts, statusCode, responseBody, elapsed, errMsg)
}

// send posts the envelope and returns the response status and truncated body.
func (d *Deliverer) send(ctx context.Context, url string, body []byte, headers map[string]string) (*int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, "", err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	truncated, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	return &resp.StatusCode, string(truncated), nil
}

func (d *Deliverer) recordSuccess(ctx context.Context, job engine.DeliveryJob, attempt, statusCode int, responseBody string, elapsed int) {
	if err := d.store.MarkDelivered(ctx, job.DeliveryID, statusCode, responseBody, elapsed); err != nil {
		d.logger.Error("failed to persist delivery success",
			"error", err,
			"delivery_id", job.DeliveryID,
		)
		return
	}

	d.broadcast("delivery_success", job, attempt, &statusCode, elapsed, "")
	d.logger.Info("delivery successful",
		"delivery_id", job.DeliveryID,
		"subscription_id", job.SubscriptionID,
		"event_type", job.EventType,
		"attempt", attempt,
		"status_code", statusCode,
		"response_time_ms", elapsed,
	)
}

func (d *Deliverer) recordFailure(ctx context.Context, job engine.DeliveryJob, sub *domain.Subscription, attempt, maxAttempts int, statusCode *int, responseBody string, elapsed int, errMsg string) {
	if !sub.RetryEnabled || attempt >= maxAttempts {
		if err := d.store.MarkFailed(ctx, job.DeliveryID, statusCode, responseBody, elapsed, errMsg); err != nil {
			d.logger.Error("failed to persist delivery failure", "error", err, "delivery_id", job.DeliveryID)
			return
		}
		d.broadcast("delivery_failed", job, attempt, statusCode, elapsed, errMsg)
		d.logger.Warn("delivery failed permanently",
			"delivery_id", job.DeliveryID,
			"subscription_id", job.SubscriptionID,
			"attempt", attempt,
			"max_attempts", maxAttempts,
			"error", errMsg,
		)
		return
	}

	nextRetryAt := d.clock().Add(Backoff(sub.RetryDelaySeconds, attempt))
	if err := d.store.MarkRetrying(ctx, job.DeliveryID, statusCode, responseBody, elapsed, errMsg, nextRetryAt); err != nil {
		d.logger.Error("failed to persist retry schedule", "error", err, "delivery_id", job.DeliveryID)
		return
	}

	d.broadcast("delivery_retrying", job, attempt, statusCode, elapsed, errMsg)
	d.logger.Warn("delivery failed, retry scheduled",
		"delivery_id", job.DeliveryID,
		"subscription_id", job.SubscriptionID,
		"attempt", attempt,
		"next_retry_at", nextRetryAt,
		"error", errMsg,
	)
}

func (d *Deliverer) broadcast(kind string, job engine.DeliveryJob, attempt int, statusCode *int, elapsed int, errMsg string) {
	if d.hub == nil {
		return
	}
	d.hub.Broadcast(ws.DeliveryEvent{
		Type:           kind,
		DeliveryID:     job.DeliveryID,
		SubscriptionID: job.SubscriptionID,
		EventType:      job.EventType,
		EntityType:     job.EntityType,
		EntityID:       job.EntityID,
		Attempt:        attempt,
		StatusCode:     statusCode,
		ResponseMs:     elapsed,
		Error:          errMsg,
		Timestamp:      d.clock(),
	})
}

// classifyFailure distinguishes transport errors from non-2xx responses.
// Both retry under the same policy.
func classifyFailure(statusCode *int, sendErr error) string {
	if sendErr != nil {
		return "request failed: " + sendErr.Error()
	}
	if statusCode != nil {
		return fmt.Sprintf("unexpected status %d: %s", *statusCode, http.StatusText(*statusCode))
	}
	return "request failed"
}
