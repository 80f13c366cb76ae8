package api

import (
	"encoding/json"
	"net/http"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
)

// EventHandler is the inbound publish surface for the QMS business modules.
type EventHandler struct {
	router *engine.Router
}

func NewEventHandler(router *engine.Router) *EventHandler {
	return &EventHandler{router: router}
}

type publishEventRequest struct {
	EventType  string          `json:"event_type"`
	EntityType string          `json:"entity_type"`
	EntityID   int64           `json:"entity_id"`
	Payload    json.RawMessage `json:"payload"`
}

// Publish validates the event against the known QMS event types and hands it
// to the router. The response only acknowledges acceptance: delivery is
// best-effort relative to the originating transaction and failures never
// propagate back here.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	var req publishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	eventType := domain.EventType(req.EventType)
	if !eventType.Known() {
		respondError(w, http.StatusBadRequest, "unknown event type")
		return
	}
	if req.EntityType == "" {
		respondError(w, http.StatusBadRequest, "entity_type is required")
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		respondError(w, http.StatusBadRequest, "payload must be valid JSON")
		return
	}

	h.router.Publish(eventType, req.EntityType, req.EntityID, req.Payload)

	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// QueueDepth reports the number of jobs waiting in the delivery queue.
func (h *EventHandler) QueueDepth(w http.ResponseWriter, r *http.Request) {
	depth, err := h.router.QueueDepth(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get queue depth")
		return
	}

	respondJSON(w, http.StatusOK, map[string]int64{"queue_depth": depth})
}
