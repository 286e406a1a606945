package printful_test

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redeemedwear/order-service/internal/printful"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"type":"package_shipped","data":{"id":99887766}}`)

	tests := []struct {
		name     string
		provided string
		body     []byte
		expected bool
	}{
		{name: "valid", provided: sign(secret, body), body: body, expected: true},
		{name: "wrong_secret", provided: sign("other", body), body: body, expected: false},
		{name: "tampered_body", provided: sign(secret, body), body: []byte(`{"type":"package_shipped","data":{"id":1}}`), expected: false},
		{name: "empty_signature", provided: "", body: body, expected: false},
		{name: "garbage_signature", provided: "not-hex", body: body, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, printful.VerifySignature(secret, tt.body, tt.provided))
		})
	}
}

func TestParseWebhookEvent(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		expected printful.WebhookEvent
	}{
		{
			name: "shipped_with_dispatch_tracking",
			body: `{"type":"package_shipped","data":{"id":99887766,"status":"shipped","dispatch":{"tracking_number":"9405511899"}}}`,
			expected: printful.WebhookEvent{
				Type:       "package_shipped",
				PodOrderID: "99887766",
				Tracking:   "9405511899",
				Status:     "shipped",
			},
		},
		{
			name: "order_id_nested_under_order",
			body: `{"type":"order_updated","data":{"order":{"id":"55443322","status":"inprocess"}}}`,
			expected: printful.WebhookEvent{
				Type:       "order_updated",
				PodOrderID: "55443322",
				Status:     "inprocess",
			},
		},
		{
			name: "tracking_from_first_shipment",
			body: `{"type":"package_shipped","data":{"id":12,"shipments":[{"tracking_number":"TRK-A"},{"tracking_number":"TRK-B"}]}}`,
			expected: printful.WebhookEvent{
				Type:       "package_shipped",
				PodOrderID: "12",
				Tracking:   "TRK-A",
			},
		},
		{
			name: "top_level_id_wins_over_nested",
			body: `{"type":"order_updated","data":{"id":1,"order":{"id":2}}}`,
			expected: printful.WebhookEvent{
				Type:       "order_updated",
				PodOrderID: "1",
			},
		},
		{
			name:     "no_identifying_data",
			body:     `{"type":"stock_updated","data":{}}`,
			expected: printful.WebhookEvent{Type: "stock_updated"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := printful.ParseWebhookEvent([]byte(tt.body))
			require.NoError(t, err)
			if diff := cmp.Diff(tt.expected, *event); diff != "" {
				t.Errorf("parsed event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseWebhookEventRejects(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "malformed_json", body: `{"type":`},
		{name: "missing_type", body: `{"data":{"id":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := printful.ParseWebhookEvent([]byte(tt.body))
			assert.Error(t, err)
		})
	}
}
