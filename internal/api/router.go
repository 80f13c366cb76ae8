package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/store"
	ws "github.com/rcolomer-cos/E-QMS-sub005/internal/websocket"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(pgStore *store.PostgresStore, eventRouter *engine.Router, hub *ws.Hub) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))

	subHandler := NewSubscriptionHandler(pgStore)
	eventHandler := NewEventHandler(eventRouter)
	deliveryHandler := NewDeliveryHandler(pgStore)
	healthHandler := NewHealthHandler(pgStore, eventRouter)

	// Live delivery feed for operator dashboards
	r.Get("/ws", hub.HandleWebSocket)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Check)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Post("/", subHandler.Create)
			r.Get("/", subHandler.List)
			r.Get("/{id}", subHandler.Get)
			r.Patch("/{id}", subHandler.Update)
			r.Delete("/{id}", subHandler.Delete)
			r.Get("/{id}/stats", subHandler.Stats)
		})

		r.Post("/events", eventHandler.Publish)
		r.Get("/queue-depth", eventHandler.QueueDepth)

		r.Route("/deliveries", func(r chi.Router) {
			r.Get("/", deliveryHandler.List)
			r.Get("/pending-retries", deliveryHandler.PendingRetries)
			r.Get("/{id}", deliveryHandler.Get)
		})
	})

	return r
}
