package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func testHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(server.Close)
	return hub, server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("failed to dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("client count: got %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_ClientLifecycle(t *testing.T) {
	hub, server := testHub(t)

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_BroadcastReachesClients(t *testing.T) {
	hub, server := testHub(t)

	conn := dial(t, server)
	waitForClients(t, hub, 1)

	status := 200
	hub.Broadcast(DeliveryEvent{
		Type:           "delivery_success",
		DeliveryID:     77,
		SubscriptionID: 3,
		EventType:      "training.completed",
		EntityType:     "Training",
		EntityID:       14,
		Attempt:        1,
		StatusCode:     &status,
		ResponseMs:     45,
		Timestamp:      time.Now(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("failed to read broadcast: %v", err)
	}

	var ev DeliveryEvent
	if err := json.Unmarshal(message, &ev); err != nil {
		t.Fatalf("broadcast is not valid JSON: %v", err)
	}
	if ev.Type != "delivery_success" || ev.DeliveryID != 77 {
		t.Errorf("unexpected event: %+v", ev)
	}
	if ev.StatusCode == nil || *ev.StatusCode != 200 {
		t.Errorf("status code: got %v, want 200", ev.StatusCode)
	}
	if ev.EventType != "training.completed" || ev.EntityID != 14 {
		t.Errorf("routing metadata not carried: %+v", ev)
	}
}

func TestHub_BroadcastToMultipleClients(t *testing.T) {
	hub, server := testHub(t)

	first := dial(t, server)
	second := dial(t, server)
	waitForClients(t, hub, 2)

	hub.Broadcast(DeliveryEvent{Type: "delivery_retrying", DeliveryID: 5})

	for i, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("client %d failed to read: %v", i, err)
		}
		var ev DeliveryEvent
		if err := json.Unmarshal(message, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.DeliveryID != 5 {
			t.Errorf("client %d got unexpected event: %+v", i, ev)
		}
	}
}
