package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/store"
)

type DeliveryHandler struct {
	store *store.PostgresStore
}

func NewDeliveryHandler(s *store.PostgresStore) *DeliveryHandler {
	return &DeliveryHandler{store: s}
}

// List returns deliveries for a subscription or a business entity.
func (h *DeliveryHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit := 50
	if limitStr := q.Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	if entityType := q.Get("entity_type"); entityType != "" {
		entityID, err := parseID(q.Get("entity_id"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid entity_id")
			return
		}

		records, err := h.store.ListDeliveriesByEntity(r.Context(), entityType, entityID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to list deliveries")
			return
		}
		respondJSON(w, http.StatusOK, records)
		return
	}

	subscriptionID, err := parseID(q.Get("subscription_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "subscription_id or entity_type/entity_id is required")
		return
	}

	records, err := h.store.ListDeliveriesBySubscription(r.Context(), subscriptionID, q.Get("status"), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list deliveries")
		return
	}

	respondJSON(w, http.StatusOK, records)
}

func (h *DeliveryHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid delivery id")
		return
	}

	rec, err := h.store.GetDelivery(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get delivery")
		return
	}
	if rec == nil {
		respondError(w, http.StatusNotFound, "delivery not found")
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

// PendingRetries exposes the retry scheduler's poll query for operators.
func (h *DeliveryHandler) PendingRetries(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if n, err := strconv.Atoi(limitStr); err == nil && n > 0 {
			limit = n
		}
	}

	records, err := h.store.FindDueRetries(r.Context(), time.Now(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list pending retries")
		return
	}

	respondJSON(w, http.StatusOK, records)
}
