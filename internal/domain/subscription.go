package domain

import (
	"fmt"
	"net/url"
	"time"
)

// Subscription is a registered external endpoint plus its event filter and
// retry policy. The secret is write-once at creation and never serialized
// back out; only the signing code reads it.
type Subscription struct {
	ID                int64             `json:"id"`
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Secret            string            `json:"-"`
	Events            []string          `json:"events"`
	Active            bool              `json:"active"`
	RetryEnabled      bool              `json:"retry_enabled"`
	MaxRetries        int               `json:"max_retries"`
	RetryDelaySeconds int               `json:"retry_delay_seconds"`
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
	CreatedBy         string            `json:"created_by,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type CreateSubscriptionRequest struct {
	Name              string            `json:"name"`
	URL               string            `json:"url"`
	Secret            string            `json:"secret,omitempty"`
	Events            []string          `json:"events"`
	Active            *bool             `json:"active,omitempty"`
	RetryEnabled      *bool             `json:"retry_enabled,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty"`
	RetryDelaySeconds *int              `json:"retry_delay_seconds,omitempty"`
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
	CreatedBy         string            `json:"created_by,omitempty"`
}

type UpdateSubscriptionRequest struct {
	Name              *string           `json:"name,omitempty"`
	URL               *string           `json:"url,omitempty"`
	Events            []string          `json:"events,omitempty"`
	Active            *bool             `json:"active,omitempty"`
	RetryEnabled      *bool             `json:"retry_enabled,omitempty"`
	MaxRetries        *int              `json:"max_retries,omitempty"`
	RetryDelaySeconds *int              `json:"retry_delay_seconds,omitempty"`
	CustomHeaders     map[string]string `json:"custom_headers,omitempty"`
}

// CreateSubscriptionResponse echoes the secret exactly once, at creation.
type CreateSubscriptionResponse struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Secret string `json:"secret"`
}

// Validate checks the registry invariants before anything is persisted.
func (r CreateSubscriptionRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if err := validateEndpointURL(r.URL); err != nil {
		return err
	}
	if len(DedupeEvents(r.Events)) == 0 {
		return fmt.Errorf("at least one event is required")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if r.RetryDelaySeconds != nil && *r.RetryDelaySeconds <= 0 {
		return fmt.Errorf("retry_delay_seconds must be > 0")
	}
	return nil
}

// Validate checks the same invariants for the fields a partial update touches.
func (r UpdateSubscriptionRequest) Validate() error {
	if r.Name != nil && *r.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if r.URL != nil {
		if err := validateEndpointURL(*r.URL); err != nil {
			return err
		}
	}
	if r.Events != nil && len(DedupeEvents(r.Events)) == 0 {
		return fmt.Errorf("at least one event is required")
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if r.RetryDelaySeconds != nil && *r.RetryDelaySeconds <= 0 {
		return fmt.Errorf("retry_delay_seconds must be > 0")
	}
	return nil
}

func validateEndpointURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url is not valid: %v", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("url must be absolute")
	}
	if u.Scheme != "https" {
		return fmt.Errorf("url scheme must be https")
	}
	return nil
}

// DedupeEvents collapses duplicate event types while keeping first-seen order.
func DedupeEvents(events []string) []string {
	seen := make(map[string]struct{}, len(events))
	out := make([]string, 0, len(events))
	for _, e := range events {
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
