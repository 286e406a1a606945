package handler_test

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"

	"github.com/redeemedwear/order-service/internal/handler"
	"github.com/redeemedwear/order-service/internal/printful"
)

type mockWebhookProcessor struct {
	applyFunc func(ctx context.Context, podOrderID, status, tracking string) error
}

func (m *mockWebhookProcessor) ApplyVendorWebhook(ctx context.Context, podOrderID, status, tracking string) error {
	return m.applyFunc(ctx, podOrderID, status, tracking)
}

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func postWebhook(t *testing.T, processor handler.WebhookProcessor, secret string, allowUnverified bool, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()

	router := chi.NewRouter()
	handler.NewWebhookHandler(processor, secret, allowUnverified).RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/printful", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set(printful.SignatureHeader, signature)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestPrintfulWebhook(t *testing.T) {
	const secret = "whsec_test"
	shippedBody := []byte(`{"type":"package_shipped","data":{"id":99887766,"status":"shipped","dispatch":{"tracking_number":"9405511899"}}}`)

	t.Run("valid_signature_applies_event", func(t *testing.T) {
		var gotPodOrderID, gotStatus, gotTracking string
		processor := &mockWebhookProcessor{
			applyFunc: func(ctx context.Context, podOrderID, status, tracking string) error {
				gotPodOrderID, gotStatus, gotTracking = podOrderID, status, tracking
				return nil
			},
		}

		rec := postWebhook(t, processor, secret, false, shippedBody, signBody(secret, shippedBody))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
		assert.Equal(t, "99887766", gotPodOrderID)
		assert.Equal(t, "shipped", gotStatus)
		assert.Equal(t, "9405511899", gotTracking)
	})

	t.Run("invalid_signature_rejected_before_processing", func(t *testing.T) {
		processor := &mockWebhookProcessor{
			applyFunc: func(ctx context.Context, podOrderID, status, tracking string) error {
				t.Fatal("unverified events must not be processed")
				return nil
			},
		}

		rec := postWebhook(t, processor, secret, false, shippedBody, signBody("wrong-secret", shippedBody))

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("missing_signature_rejected", func(t *testing.T) {
		processor := &mockWebhookProcessor{
			applyFunc: func(ctx context.Context, podOrderID, status, tracking string) error {
				t.Fatal("unverified events must not be processed")
				return nil
			},
		}

		rec := postWebhook(t, processor, secret, false, shippedBody, "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no_secret_configured_rejects_by_default", func(t *testing.T) {
		processor := &mockWebhookProcessor{
			applyFunc: func(ctx context.Context, podOrderID, status, tracking string) error {
				t.Fatal("events must not be processed without a configured secret")
				return nil
			},
		}

		rec := postWebhook(t, processor, "", false, shippedBody, "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("no_secret_with_explicit_override_processes", func(t *testing.T) {
		applied := false
		processor := &mockWebhookProcessor{
			applyFunc: func(ctx context.Context, podOrderID, status, tracking string) error {
				applied = true
				return nil
			},
		}

		rec := postWebhook(t, processor, "", true, shippedBody, "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.True(t, applied)
	})

	t.Run("unparseable_body_still_returns_ok", func(t *testing.T) {
		processor := &mockWebhookProcessor{
			applyFunc: func(ctx context.Context, podOrderID, status, tracking string) error {
				t.Fatal("unparseable events must be discarded")
				return nil
			},
		}

		body := []byte(`not json at all`)
		rec := postWebhook(t, processor, secret, false, body, signBody(secret, body))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	})

	t.Run("processing_error_still_returns_ok", func(t *testing.T) {
		processor := &mockWebhookProcessor{
			applyFunc: func(ctx context.Context, podOrderID, status, tracking string) error {
				return assert.AnError
			},
		}

		rec := postWebhook(t, processor, secret, false, shippedBody, signBody(secret, shippedBody))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"ok":true}`, rec.Body.String())
	})
}
