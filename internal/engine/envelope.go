package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Webhook request headers set on every delivery.
const (
	HeaderSignature  = "X-Webhook-Signature"
	HeaderEvent      = "X-Webhook-Event"
	HeaderDeliveryID = "X-Webhook-Delivery-Id"
)

// Envelope is the signed JSON object actually transmitted to the subscriber,
// wrapping the raw event payload with routing metadata.
type Envelope struct {
	EventType  string          `json:"eventType"`
	EntityType string          `json:"entityType"`
	EntityID   int64           `json:"entityId"`
	DeliveryID int64           `json:"deliveryId"`
	Timestamp  time.Time       `json:"timestamp"`
	Data       json.RawMessage `json:"data"`
}

// BuildEnvelope serializes the envelope for a delivery attempt. Field order
// is fixed by the struct, so the same inputs always produce the same bytes.
func BuildEnvelope(eventType, entityType string, entityID, deliveryID int64, timestamp time.Time, data json.RawMessage) ([]byte, error) {
	if len(data) == 0 {
		data = json.RawMessage(`null`)
	}
	body, err := json.Marshal(Envelope{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		DeliveryID: deliveryID,
		Timestamp:  timestamp.UTC(),
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling envelope: %w", err)
	}
	return body, nil
}

// Sign computes the hex-encoded HMAC-SHA256 signature of the envelope body.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature lets receivers check an incoming webhook in constant time.
func VerifySignature(body []byte, secret, signature string) bool {
	expected := Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// SignedHeaders builds the webhook header set for one attempt. Custom
// headers are merged in but cannot override the computed ones.
func SignedHeaders(body []byte, secret, eventType string, deliveryID int64, custom map[string]string) map[string]string {
	headers := make(map[string]string, len(custom)+4)
	for k, v := range custom {
		headers[k] = v
	}
	headers["Content-Type"] = "application/json"
	headers[HeaderSignature] = Sign(body, secret)
	headers[HeaderEvent] = eventType
	headers[HeaderDeliveryID] = fmt.Sprintf("%d", deliveryID)
	return headers
}
