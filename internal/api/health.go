package api

import (
	"context"
	"net/http"
)

type dbPinger interface {
	Ping(ctx context.Context) error
}

type queueDepther interface {
	QueueDepth(ctx context.Context) (int64, error)
}

// HealthHandler reports liveness plus reachability of the delivery ledger
// and the queue, so load balancers stop routing to an instance that lost a
// backing store.
type HealthHandler struct {
	db    dbPinger
	queue queueDepther
}

func NewHealthHandler(db dbPinger, queue queueDepther) *HealthHandler {
	return &HealthHandler{db: db, queue: queue}
}

type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Queue    string `json:"queue"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "healthy", Database: "up", Queue: "up"}

	if err := h.db.Ping(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Database = "down"
	}
	if _, err := h.queue.QueueDepth(r.Context()); err != nil {
		resp.Status = "degraded"
		resp.Queue = "down"
	}

	code := http.StatusOK
	if resp.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	respondJSON(w, code, resp)
}
