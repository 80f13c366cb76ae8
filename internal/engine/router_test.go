package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
	"github.com/redis/go-redis/v9"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

type createdDelivery struct {
	subscriptionID int64
	eventType      string
	entityType     string
	entityID       int64
	maxAttempts    int
}

// fakeRouterStore serves subscriptions by event match and records created
// deliveries, failing on demand per subscription.
type fakeRouterStore struct {
	mu      sync.Mutex
	subs    []domain.Subscription
	created []createdDelivery
	failFor map[int64]bool
	nextID  int64
}

func (f *fakeRouterStore) FindMatchingSubscriptions(ctx context.Context, eventType string) ([]domain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Subscription
	for _, sub := range f.subs {
		if !sub.Active {
			continue
		}
		for _, ev := range sub.Events {
			if ev == eventType {
				out = append(out, sub)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeRouterStore) CreateDelivery(ctx context.Context, subscriptionID int64, eventType, entityType string, entityID int64, maxAttempts int) (*domain.DeliveryRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[subscriptionID] {
		return nil, errors.New("insert failed")
	}
	f.nextID++
	f.created = append(f.created, createdDelivery{
		subscriptionID: subscriptionID,
		eventType:      eventType,
		entityType:     entityType,
		entityID:       entityID,
		maxAttempts:    maxAttempts,
	})
	return &domain.DeliveryRecord{
		ID:             f.nextID,
		SubscriptionID: subscriptionID,
		EventType:      eventType,
		EntityType:     entityType,
		EntityID:       entityID,
		MaxAttempts:    maxAttempts,
		Status:         domain.StatusPending,
	}, nil
}

func (f *fakeRouterStore) deliveries() []createdDelivery {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]createdDelivery{}, f.created...)
}

func activeSub(id int64, events ...string) domain.Subscription {
	return domain.Subscription{
		ID:         id,
		Name:       "sub",
		URL:        "https://hooks.example.com/qms",
		Events:     events,
		Active:     true,
		MaxRetries: 3,
	}
}

func TestRouter_RoutesMatchingSubscriptions(t *testing.T) {
	fs := &fakeRouterStore{
		subs: []domain.Subscription{
			activeSub(1, "ncr.created", "ncr.closed"),
			activeSub(2, "ncr.created"),
			activeSub(3, "capa.created"),
		},
	}
	client := testRedis(t)
	r := NewRouter(fs, client, testLogger())

	ctx := context.Background()
	n, err := r.route(ctx, publishedEvent{
		eventType:  domain.EventNCRCreated,
		entityType: "NCR",
		entityID:   42,
		payload:    json.RawMessage(`{"severity":"major"}`),
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 queued deliveries, got %d", n)
	}

	created := fs.deliveries()
	if len(created) != 2 {
		t.Fatalf("expected 2 delivery records, got %d", len(created))
	}
	for _, c := range created {
		if c.eventType != "ncr.created" || c.entityType != "NCR" || c.entityID != 42 {
			t.Errorf("unexpected record: %+v", c)
		}
		// max_retries retries plus the initial attempt
		if c.maxAttempts != 4 {
			t.Errorf("max_attempts: got %d, want 4", c.maxAttempts)
		}
	}

	depth, err := r.QueueDepth(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if depth != 2 {
		t.Fatalf("queue depth: got %d, want 2", depth)
	}

	members, err := client.ZRange(ctx, DeliveryQueueKey, 0, -1).Result()
	if err != nil {
		t.Fatal(err)
	}
	seen := map[int64]bool{}
	for _, m := range members {
		var job DeliveryJob
		if err := json.Unmarshal([]byte(m), &job); err != nil {
			t.Fatalf("queued job is not valid JSON: %v", err)
		}
		seen[job.SubscriptionID] = true
		if job.EventType != "ncr.created" || string(job.Data) != `{"severity":"major"}` {
			t.Errorf("unexpected queued job: %+v", job)
		}
	}
	if !seen[1] || !seen[2] {
		t.Errorf("expected jobs for subscriptions 1 and 2, got %v", seen)
	}
}

func TestRouter_NoMatchesCreatesNothing(t *testing.T) {
	fs := &fakeRouterStore{
		subs: []domain.Subscription{activeSub(1, "capa.created")},
	}
	client := testRedis(t)
	r := NewRouter(fs, client, testLogger())

	n, err := r.route(context.Background(), publishedEvent{
		eventType:  domain.EventNCRCreated,
		entityType: "NCR",
		entityID:   1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 queued deliveries, got %d", n)
	}
	if len(fs.deliveries()) != 0 {
		t.Error("no delivery records should exist")
	}
	depth, _ := r.QueueDepth(context.Background())
	if depth != 0 {
		t.Errorf("queue should be empty, depth=%d", depth)
	}
}

func TestRouter_MatchesAreIndependent(t *testing.T) {
	fs := &fakeRouterStore{
		subs: []domain.Subscription{
			activeSub(1, "ncr.created"),
			activeSub(2, "ncr.created"),
		},
		failFor: map[int64]bool{1: true},
	}
	client := testRedis(t)
	r := NewRouter(fs, client, testLogger())

	n, err := r.route(context.Background(), publishedEvent{
		eventType:  domain.EventNCRCreated,
		entityType: "NCR",
		entityID:   7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("one subscription failing must not block the other, queued=%d", n)
	}
	created := fs.deliveries()
	if len(created) != 1 || created[0].subscriptionID != 2 {
		t.Errorf("expected a record for subscription 2 only, got %+v", created)
	}
}

func TestRouter_PublishIsDrainedByRun(t *testing.T) {
	fs := &fakeRouterStore{
		subs: []domain.Subscription{activeSub(1, "document.approved")},
	}
	client := testRedis(t)
	r := NewRouter(fs, client, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	r.Publish(domain.EventDocumentApproved, "Document", 9, json.RawMessage(`{"rev":"C"}`))

	deadline := time.Now().Add(2 * time.Second)
	for {
		depth, err := r.QueueDepth(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if depth == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("published event was not routed, depth=%d", depth)
		}
		time.Sleep(10 * time.Millisecond)
	}

	created := fs.deliveries()
	if len(created) != 1 || created[0].eventType != "document.approved" {
		t.Errorf("unexpected records: %+v", created)
	}
}
