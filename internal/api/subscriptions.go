package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/domain"
	"github.com/rcolomer-cos/E-QMS-sub005/internal/store"
)

type SubscriptionHandler struct {
	store *store.PostgresStore
}

func NewSubscriptionHandler(s *store.PostgresStore) *SubscriptionHandler {
	return &SubscriptionHandler{store: s}
}

func (h *SubscriptionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.CreateSubscription(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create subscription")
		return
	}

	respondJSON(w, http.StatusCreated, domain.CreateSubscriptionResponse{
		ID:     sub.ID,
		Name:   sub.Name,
		Secret: sub.Secret,
	})
}

func (h *SubscriptionHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	subs, err := h.store.ListSubscriptions(r.Context(), activeOnly)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list subscriptions")
		return
	}

	respondJSON(w, http.StatusOK, subs)
}

func (h *SubscriptionHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	var req domain.UpdateSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sub, err := h.store.UpdateSubscription(r.Context(), id, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to update subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	respondJSON(w, http.StatusOK, sub)
}

func (h *SubscriptionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	err = h.store.DeleteSubscription(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, "subscription not found")
	case errors.Is(err, store.ErrSubscriptionBusy):
		respondError(w, http.StatusConflict, "subscription has unfinished deliveries")
	case err != nil:
		respondError(w, http.StatusInternalServerError, "failed to delete subscription")
	default:
		respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func (h *SubscriptionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid subscription id")
		return
	}

	days := 7
	if daysStr := r.URL.Query().Get("days"); daysStr != "" {
		if n, err := strconv.Atoi(daysStr); err == nil && n > 0 {
			days = n
		}
	}

	sub, err := h.store.GetSubscription(r.Context(), id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get subscription")
		return
	}
	if sub == nil {
		respondError(w, http.StatusNotFound, "subscription not found")
		return
	}

	stats, err := h.store.GetSubscriptionStats(r.Context(), id, days)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to get statistics")
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

func parseID(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}
