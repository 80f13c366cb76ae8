package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DeliveryQueueKey is the Redis sorted set holding queued delivery jobs,
// scored by their due time.
const DeliveryQueueKey = "webhook_delivery_queue"

// DeliveryJob is a single queued delivery attempt. It carries only routing
// metadata and the raw event payload; endpoint, secret and headers are read
// from the registry at attempt time.
type DeliveryJob struct {
	DeliveryID     int64           `json:"delivery_id"`
	SubscriptionID int64           `json:"subscription_id"`
	EventType      string          `json:"event_type"`
	EntityType     string          `json:"entity_type"`
	EntityID       int64           `json:"entity_id"`
	Data           json.RawMessage `json:"data"`
}

// Store is the registry/ledger surface the router needs.
type Store interface {
	FindMatchingSubscriptions(ctx context.Context, eventType string) ([]domain.Subscription, error)
	CreateDelivery(ctx context.Context, subscriptionID int64, eventType, entityType string, entityID int64, maxAttempts int) (*domain.DeliveryRecord, error)
}

type publishedEvent struct {
	eventType  domain.EventType
	entityType string
	entityID   int64
	payload    json.RawMessage
}

// Router matches published domain events against active subscriptions,
// materializes one delivery record per match and queues the first attempt.
// Publish never blocks the calling business transaction: events cross an
// internal buffered channel drained by Run.
type Router struct {
	store  Store
	queue  *redis.Client
	logger *slog.Logger
	events chan publishedEvent
}

func NewRouter(store Store, queue *redis.Client, logger *slog.Logger) *Router {
	return &Router{
		store:  store,
		queue:  queue,
		logger: logger,
		events: make(chan publishedEvent, 1024),
	}
}

// Publish hands a domain event to the router. Fire-and-forget: no error is
// ever returned to the caller. If the buffer is full the event is dropped
// and logged rather than blocking the originating transaction.
func (r *Router) Publish(eventType domain.EventType, entityType string, entityID int64, payload json.RawMessage) {
	ev := publishedEvent{
		eventType:  eventType,
		entityType: entityType,
		entityID:   entityID,
		payload:    payload,
	}

	select {
	case r.events <- ev:
	default:
		r.logger.Error("event buffer full, dropping event",
			"event_type", eventType,
			"entity_type", entityType,
			"entity_id", entityID,
		)
	}
}

// Run drains the publish channel until the context is cancelled.
func (r *Router) Run(ctx context.Context) {
	r.logger.Info("event router started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("event router stopping")
			return
		case ev := <-r.events:
			if n, err := r.route(ctx, ev); err != nil {
				r.logger.Error("event routing failed",
					"error", err,
					"event_type", ev.eventType,
					"entity_type", ev.entityType,
					"entity_id", ev.entityID,
				)
			} else if n > 0 {
				r.logger.Info("event routed",
					"event_type", ev.eventType,
					"entity_type", ev.entityType,
					"entity_id", ev.entityID,
					"deliveries_queued", n,
				)
			}
		}
	}
}

// route creates one delivery record per matching subscription and queues the
// first attempts. Matches are independent: a failure for one subscription
// never affects the others.
func (r *Router) route(ctx context.Context, ev publishedEvent) (int, error) {
	subs, err := r.store.FindMatchingSubscriptions(ctx, ev.eventType.String())
	if err != nil {
		return 0, err
	}

	if len(subs) == 0 {
		return 0, nil
	}

	queued := 0
	pipe := r.queue.Pipeline()

	for _, sub := range subs {
		rec, err := r.store.CreateDelivery(ctx, sub.ID, ev.eventType.String(), ev.entityType, ev.entityID, sub.MaxRetries+1)
		if err != nil {
			r.logger.Error("failed to create delivery record",
				"error", err,
				"subscription_id", sub.ID,
				"event_type", ev.eventType,
			)
			continue
		}

		job := DeliveryJob{
			DeliveryID:     rec.ID,
			SubscriptionID: sub.ID,
			EventType:      ev.eventType.String(),
			EntityType:     ev.entityType,
			EntityID:       ev.entityID,
			Data:           ev.payload,
		}

		jobBytes, err := json.Marshal(job)
		if err != nil {
			r.logger.Error("failed to marshal delivery job", "error", err, "delivery_id", rec.ID)
			continue
		}

		pipe.ZAdd(ctx, DeliveryQueueKey, redis.Z{
			Score:  float64(time.Now().UnixMicro()),
			Member: string(jobBytes),
		})
		queued++
	}

	if queued > 0 {
		if _, err := pipe.Exec(ctx); err != nil {
			// Records exist but jobs were not queued; the ledger keeps
			// them visible as pending for the operator.
			return 0, err
		}
	}

	return queued, nil
}

// QueueDepth returns the number of jobs waiting in the delivery queue.
func (r *Router) QueueDepth(ctx context.Context) (int64, error) {
	return r.queue.ZCard(ctx, DeliveryQueueKey).Result()
}
