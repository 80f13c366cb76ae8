package domain

import (
	"encoding/json"
	"time"
)

// Delivery statuses. A record starts pending, moves to retrying after a
// failed attempt that still has budget, and ends in success or failed.
const (
	StatusPending  = "pending"
	StatusRetrying = "retrying"
	StatusSuccess  = "success"
	StatusFailed   = "failed"
)

// DeliveryRecord tracks one attempt-series of sending a single event to a
// single subscription. Request fields reflect the latest attempt; response
// fields are unset until a request completes.
type DeliveryRecord struct {
	ID             int64             `json:"id"`
	SubscriptionID int64             `json:"subscription_id"`
	EventType      string            `json:"event_type"`
	EntityType     string            `json:"entity_type"`
	EntityID       int64             `json:"entity_id"`
	RequestURL     string            `json:"request_url,omitempty"`
	RequestPayload json.RawMessage   `json:"request_payload,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	ResponseStatus *int              `json:"response_status,omitempty"`
	ResponseBody   *string           `json:"response_body,omitempty"`
	ResponseTimeMs *int              `json:"response_time_ms,omitempty"`
	Attempt        int               `json:"attempt"`
	MaxAttempts    int               `json:"max_attempts"`
	NextRetryAt    *time.Time        `json:"next_retry_at,omitempty"`
	Status         string            `json:"status"`
	ErrorMessage   *string           `json:"error_message,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
}

// Terminal reports whether no further transitions can occur.
func (d *DeliveryRecord) Terminal() bool {
	return d.Status == StatusSuccess || d.Status == StatusFailed
}

// DeliveryStats are the per-subscription counts over a trailing window.
type DeliveryStats struct {
	SubscriptionID int64   `json:"subscription_id"`
	Days           int     `json:"days"`
	Total          int     `json:"total"`
	Success        int     `json:"success"`
	Failed         int     `json:"failed"`
	Pending        int     `json:"pending"`
	Retrying       int     `json:"retrying"`
	SuccessRate    float64 `json:"success_rate"`
}
