// Command mock-endpoints runs a webhook receiver with endpoints that
// succeed, fail, respond slowly or flake, for manual end-to-end testing of
// the delivery engine. Set WEBHOOK_SECRET to verify signatures.
package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/rcolomer-cos/E-QMS-sub005/internal/engine"
)

var requestCount atomic.Int64

func main() {
	port := "9090"
	if p := os.Getenv("PORT"); p != "" {
		port = p
	}
	secret := os.Getenv("WEBHOOK_SECRET")

	// Always returns 200
	http.HandleFunc("/webhook/success", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 200, secret)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received"})
	})

	// Delays 3 seconds before responding
	http.HandleFunc("/webhook/slow", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		time.Sleep(3 * time.Second)
		logRequest(r, count, 200, secret)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received (slow)"})
	})

	// Always returns 500
	http.HandleFunc("/webhook/fail", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		logRequest(r, count, 500, secret)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
	})

	// Fails twice, then succeeds — exercises the retry path
	var flakyCount atomic.Int64
	http.HandleFunc("/webhook/flaky", func(w http.ResponseWriter, r *http.Request) {
		count := requestCount.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if flakyCount.Add(1)%3 != 0 {
			logRequest(r, count, 503, secret)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"error": "try again"})
			return
		}
		logRequest(r, count, 200, secret)
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "received (eventually)"})
	})

	// Shows request count
	http.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"total_requests": requestCount.Load()})
	})

	log.Printf("Mock endpoint server starting on :%s", port)
	log.Printf("  POST /webhook/success  -> 200 OK")
	log.Printf("  POST /webhook/slow     -> 200 OK (3s delay)")
	log.Printf("  POST /webhook/fail     -> 500 Internal Server Error")
	log.Printf("  POST /webhook/flaky    -> 503 twice, then 200")
	log.Printf("  GET  /stats            -> request count")

	if err := http.ListenAndServe(":"+port, nil); err != nil {
		log.Fatal(err)
	}
}

func logRequest(r *http.Request, count int64, status int, secret string) {
	sigState := "unverified"
	if secret != "" {
		body, _ := io.ReadAll(r.Body)
		sig := r.Header.Get(engine.HeaderSignature)
		if engine.VerifySignature(body, secret, sig) {
			sigState = "valid"
		} else {
			sigState = "INVALID"
		}
	}

	log.Printf("[%d] %s %s event=%s delivery=%s signature=%s -> %d",
		count, r.Method, r.URL.Path,
		r.Header.Get(engine.HeaderEvent),
		r.Header.Get(engine.HeaderDeliveryID),
		sigState, status,
	)
}
