package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

type fakeDepther struct{ err error }

func (f fakeDepther) QueueDepth(ctx context.Context) (int64, error) { return 0, f.err }

func checkHealth(t *testing.T, h *HealthHandler) (int, HealthResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	h.Check(rec, req)

	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	return rec.Code, resp
}

func TestHealthHandler_Healthy(t *testing.T) {
	code, resp := checkHealth(t, NewHealthHandler(fakePinger{}, fakeDepther{}))

	if code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", code)
	}
	if resp.Status != "healthy" || resp.Database != "up" || resp.Queue != "up" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHealthHandler_DatabaseDown(t *testing.T) {
	code, resp := checkHealth(t, NewHealthHandler(
		fakePinger{err: errors.New("connection refused")}, fakeDepther{}))

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", code)
	}
	if resp.Status != "degraded" || resp.Database != "down" || resp.Queue != "up" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestHealthHandler_QueueDown(t *testing.T) {
	code, resp := checkHealth(t, NewHealthHandler(
		fakePinger{}, fakeDepther{err: errors.New("connection refused")}))

	if code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d, want 503", code)
	}
	if resp.Status != "degraded" || resp.Queue != "down" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
