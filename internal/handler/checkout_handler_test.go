package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redeemedwear/order-service/internal/checkout"
	"github.com/redeemedwear/order-service/internal/handler"
	"github.com/redeemedwear/order-service/internal/order"
	"github.com/redeemedwear/order-service/internal/paypal"
)

type mockCheckoutService struct {
	createOrderFunc func(ctx context.Context, items []order.Item, returnURL, cancelURL string) (*paypal.OrderDetails, error)
	captureFunc     func(ctx context.Context, in checkout.CaptureInput) (*order.Order, error)
}

func (m *mockCheckoutService) CreateOrder(ctx context.Context, items []order.Item, returnURL, cancelURL string) (*paypal.OrderDetails, error) {
	return m.createOrderFunc(ctx, items, returnURL, cancelURL)
}

func (m *mockCheckoutService) Capture(ctx context.Context, in checkout.CaptureInput) (*order.Order, error) {
	return m.captureFunc(ctx, in)
}

func newCheckoutRouter(service handler.CheckoutService) *chi.Mux {
	router := chi.NewRouter()
	handler.NewCheckoutHandler(service).RegisterRoutes(router)
	return router
}

func TestHandleCreateCheckout(t *testing.T) {
	t.Run("creates_paypal_order", func(t *testing.T) {
		var gotItems []order.Item
		service := &mockCheckoutService{
			createOrderFunc: func(ctx context.Context, items []order.Item, returnURL, cancelURL string) (*paypal.OrderDetails, error) {
				gotItems = items
				return &paypal.OrderDetails{ID: "5O190127TN364715T", Status: "CREATED"}, nil
			},
		}

		body := `{"cart":[{"sku":"RWCT001","name":"Jesus Saves Tee","price":24.99,"qty":2}]}`
		req := httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newCheckoutRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, gotItems, 1)
		assert.Equal(t, order.Item{SKU: "RWCT001", Name: "Jesus Saves Tee", Price: 24.99, Qty: 2}, gotItems[0])

		var got paypal.OrderDetails
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "5O190127TN364715T", got.ID)
	})

	t.Run("provider_failure_maps_to_bad_gateway", func(t *testing.T) {
		service := &mockCheckoutService{
			createOrderFunc: func(ctx context.Context, items []order.Item, returnURL, cancelURL string) (*paypal.OrderDetails, error) {
				return nil, assert.AnError
			},
		}

		body := `{"cart":[{"name":"Tee","price":10,"qty":1}]}`
		req := httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(body))
		rec := httptest.NewRecorder()
		newCheckoutRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})

	invalid := []struct {
		name string
		body string
	}{
		{name: "empty_cart", body: `{"cart":[]}`},
		{name: "missing_cart", body: `{}`},
		{name: "zero_price", body: `{"cart":[{"name":"Tee","price":0,"qty":1}]}`},
		{name: "absurd_price", body: `{"cart":[{"name":"Tee","price":99999,"qty":1}]}`},
		{name: "zero_quantity", body: `{"cart":[{"name":"Tee","price":10,"qty":0}]}`},
		{name: "nameless_item", body: `{"cart":[{"price":10,"qty":1}]}`},
		{name: "unknown_field", body: `{"cart":[{"name":"Tee","price":10,"qty":1}],"coupon":"FREE"}`},
		{name: "bad_return_url", body: `{"cart":[{"name":"Tee","price":10,"qty":1}],"return_url":"not-a-url"}`},
		{name: "malformed_json", body: `{"cart":`},
	}

	for _, tt := range invalid {
		t.Run("rejects_"+tt.name, func(t *testing.T) {
			service := &mockCheckoutService{
				createOrderFunc: func(ctx context.Context, items []order.Item, returnURL, cancelURL string) (*paypal.OrderDetails, error) {
					t.Fatal("invalid payloads must not reach the service")
					return nil, nil
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/checkout/orders", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			newCheckoutRouter(service).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandleCaptureCheckout(t *testing.T) {
	validBody := `{
		"orderId": "5O190127TN364715T",
		"items": [{"sku":"RWCT001","name":"Jesus Saves Tee","price":24.99,"qty":2}],
		"shipping": {"name":"John Believer","address1":"123 Grace St","city":"Austin","state":"TX","country":"US","postal_code":"78701"},
		"payer_email": "payer@example.com"
	}`

	t.Run("captures_and_returns_tracking_code", func(t *testing.T) {
		var gotInput checkout.CaptureInput
		service := &mockCheckoutService{
			captureFunc: func(ctx context.Context, in checkout.CaptureInput) (*order.Order, error) {
				gotInput = in
				return &order.Order{ID: 17, TrackingCode: "RWC-PAYPAL-5O190127TN364715T"}, nil
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/checkout/capture", strings.NewReader(validBody))
		rec := httptest.NewRecorder()
		newCheckoutRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "5O190127TN364715T", gotInput.PayPalOrderID)
		assert.Equal(t, "payer@example.com", gotInput.PayerEmail)
		require.NotNil(t, gotInput.Shipping)
		assert.Equal(t, "John Believer", gotInput.Shipping.Name)

		var got handler.CaptureCheckoutResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Success)
		assert.Equal(t, int64(17), got.OrderID)
		assert.Equal(t, "RWC-PAYPAL-5O190127TN364715T", got.TrackingCode)
	})

	t.Run("unpersisted_capture_still_reports_success", func(t *testing.T) {
		service := &mockCheckoutService{
			captureFunc: func(ctx context.Context, in checkout.CaptureInput) (*order.Order, error) {
				return nil, nil
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/checkout/capture", strings.NewReader(validBody))
		rec := httptest.NewRecorder()
		newCheckoutRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)

		var got handler.CaptureCheckoutResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.True(t, got.Success)
		assert.Zero(t, got.OrderID)
	})

	t.Run("already_captured_maps_to_conflict", func(t *testing.T) {
		service := &mockCheckoutService{
			captureFunc: func(ctx context.Context, in checkout.CaptureInput) (*order.Order, error) {
				return nil, checkout.ErrAlreadyCaptured
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/checkout/capture", strings.NewReader(validBody))
		rec := httptest.NewRecorder()
		newCheckoutRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("capture_failure_maps_to_bad_gateway", func(t *testing.T) {
		service := &mockCheckoutService{
			captureFunc: func(ctx context.Context, in checkout.CaptureInput) (*order.Order, error) {
				return nil, assert.AnError
			},
		}

		req := httptest.NewRequest(http.MethodPost, "/checkout/capture", strings.NewReader(validBody))
		rec := httptest.NewRecorder()
		newCheckoutRouter(service).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadGateway, rec.Code)

		var got map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, "Payment could not be completed", got["error"])
	})

	invalid := []struct {
		name string
		body string
	}{
		{name: "missing_order_id", body: `{"items":[{"name":"Tee","price":10,"qty":1}]}`},
		{name: "order_id_with_shell_characters", body: `{"orderId":"ABC;rm -rf","items":[{"name":"Tee","price":10,"qty":1}]}`},
		{name: "missing_items", body: `{"orderId":"ABC123"}`},
		{name: "bad_payer_email", body: `{"orderId":"ABC123","items":[{"name":"Tee","price":10,"qty":1}],"payer_email":"not-an-email"}`},
		{name: "unknown_field", body: `{"orderId":"ABC123","items":[{"name":"Tee","price":10,"qty":1}],"admin":true}`},
	}

	for _, tt := range invalid {
		t.Run("rejects_"+tt.name, func(t *testing.T) {
			service := &mockCheckoutService{
				captureFunc: func(ctx context.Context, in checkout.CaptureInput) (*order.Order, error) {
					t.Fatal("invalid payloads must not reach the service")
					return nil, nil
				},
			}

			req := httptest.NewRequest(http.MethodPost, "/checkout/capture", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			newCheckoutRouter(service).ServeHTTP(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}
