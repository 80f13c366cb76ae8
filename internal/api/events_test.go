package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
	"github.com/redis/go-redis/v9"
)

// fakeEngineStore serves one matching subscription for every event type.
type fakeEngineStore struct {
	sub domain.Subscription
}

func (f *fakeEngineStore) FindMatchingSubscriptions(ctx context.Context, eventType string) ([]domain.Subscription, error) {
	return []domain.Subscription{f.sub}, nil
}

func (f *fakeEngineStore) CreateDelivery(ctx context.Context, subscriptionID int64, eventType, entityType string, entityID int64, maxAttempts int) (*domain.DeliveryRecord, error) {
	return &domain.DeliveryRecord{
		ID:             1,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		EntityType:     entityType,
		EntityID:       entityID,
		MaxAttempts:    maxAttempts,
		Status:         domain.StatusPending,
	}, nil
}

func testEventHandler(t *testing.T) (*EventHandler, *engine.Router) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	fs := &fakeEngineStore{
		sub: domain.Subscription{
			ID:         1,
			URL:        "https://hooks.example.com/qms",
			Events:     []string{"ncr.created"},
			Active:     true,
			MaxRetries: 3,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	router := engine.NewRouter(fs, client, logger)

	return NewEventHandler(router), router
}

func postEvent(t *testing.T, h *EventHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/events", strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Publish(rec, req)
	return rec
}

func TestEventHandler_PublishAccepted(t *testing.T) {
	h, router := testEventHandler(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go router.Run(ctx)

	rec := postEvent(t, h, `{
		"event_type": "ncr.created",
		"entity_type": "NCR",
		"entity_id": 42,
		"payload": {"severity": "major"}
	}`)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want 202, body=%s", rec.Code, rec.Body.String())
	}

	var resp map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["status"] != "accepted" {
		t.Errorf("unexpected response: %v", resp)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		depth, err := router.QueueDepth(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if depth == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("event was not routed, depth=%d", depth)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestEventHandler_PublishValidation(t *testing.T) {
	h, _ := testEventHandler(t)

	tests := []struct {
		name string
		body string
	}{
		{
			name: "malformed json",
			body: `{`,
		},
		{
			name: "unknown event type",
			body: `{"event_type": "invoice.paid", "entity_type": "Invoice", "entity_id": 1}`,
		},
		{
			name: "missing entity type",
			body: `{"event_type": "ncr.created", "entity_id": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postEvent(t, h, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400, body=%s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestEventHandler_QueueDepthEmpty(t *testing.T) {
	h, _ := testEventHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/queue-depth", nil)
	rec := httptest.NewRecorder()
	h.QueueDepth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	var resp map[string]int64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["queue_depth"] != 0 {
		t.Errorf("queue_depth: got %d, want 0", resp["queue_depth"])
	}
}
