package printful

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// SignatureHeader carries the vendor's HMAC of the raw request body.
const SignatureHeader = "X-Printful-Signature"

// VerifySignature checks the hex-encoded HMAC-SHA256 of the raw body against
// the header value. Verification has to run on the exact bytes received; a
// re-serialized parse would not round-trip.
func VerifySignature(secret string, rawBody []byte, provided string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(rawBody)
	computed := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(computed), []byte(provided))
}

// WebhookEvent is the normalized form of a vendor callback. The raw payload
// nests the interesting fields differently per event type, so parsing
// flattens them here.
type WebhookEvent struct {
	Type       string
	PodOrderID string
	Tracking   string
	Status     string
}

type rawWebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		ID    json.Number `json:"id"`
		Order struct {
			ID     json.Number `json:"id"`
			Status string      `json:"status"`
		} `json:"order"`
		Status   string `json:"status"`
		Dispatch struct {
			TrackingNumber string `json:"tracking_number"`
		} `json:"dispatch"`
		Shipments []struct {
			TrackingNumber string `json:"tracking_number"`
		} `json:"shipments"`
	} `json:"data"`
}

func ParseWebhookEvent(rawBody []byte) (*WebhookEvent, error) {
	var raw rawWebhookEvent
	if err := json.Unmarshal(rawBody, &raw); err != nil {
		return nil, fmt.Errorf("printful: failed to parse webhook body: %w", err)
	}
	if raw.Type == "" {
		return nil, fmt.Errorf("printful: webhook event has no type")
	}

	event := &WebhookEvent{Type: raw.Type}

	if raw.Data.ID != "" {
		event.PodOrderID = raw.Data.ID.String()
	} else if raw.Data.Order.ID != "" {
		event.PodOrderID = raw.Data.Order.ID.String()
	}

	if raw.Data.Dispatch.TrackingNumber != "" {
		event.Tracking = raw.Data.Dispatch.TrackingNumber
	} else if len(raw.Data.Shipments) > 0 {
		event.Tracking = raw.Data.Shipments[0].TrackingNumber
	}

	if raw.Data.Status != "" {
		event.Status = raw.Data.Status
	} else {
		event.Status = raw.Data.Order.Status
	}

	return event, nil
}
