package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/redeemedwear/order-service/internal/checkout"
	"github.com/redeemedwear/order-service/internal/order"
	"github.com/redeemedwear/order-service/internal/paypal"
)

// PayPal order ids are opaque tokens; anything outside this set is a
// malformed or adversarial payload.
var orderRefPattern = regexp.MustCompile(`^[a-zA-Z0-9\-]+$`)

type CartItem struct {
	SKU   string  `json:"sku" validate:"omitempty,max=64"`
	Name  string  `json:"name" validate:"required,max=200"`
	Price float64 `json:"price" validate:"required,gt=0,lte=10000"`
	Qty   int     `json:"qty" validate:"required,min=1,max=100"`
	Size  string  `json:"size" validate:"omitempty,max=20"`
	Color string  `json:"color" validate:"omitempty,max=50"`
	Image string  `json:"image" validate:"omitempty,max=500"`
}

type ShippingAddressRequest struct {
	Name       string `json:"name" validate:"omitempty,max=100"`
	Address1   string `json:"address1" validate:"omitempty,max=100"`
	City       string `json:"city" validate:"omitempty,max=50"`
	State      string `json:"state" validate:"omitempty,max=20"`
	Country    string `json:"country" validate:"omitempty,max=2"`
	PostalCode string `json:"postal_code" validate:"omitempty,max=20"`
}

type CreateCheckoutRequest struct {
	Cart      []CartItem `json:"cart" validate:"required,min=1,max=50,dive"`
	ReturnURL string     `json:"return_url" validate:"omitempty,url"`
	CancelURL string     `json:"cancel_url" validate:"omitempty,url"`
}

type CaptureCheckoutRequest struct {
	OrderID    string                  `json:"orderId" validate:"required,max=100,orderref"`
	Items      []CartItem              `json:"items" validate:"required,min=1,max=50,dive"`
	Shipping   *ShippingAddressRequest `json:"shipping" validate:"omitempty"`
	PayerEmail string                  `json:"payer_email" validate:"omitempty,email"`
}

type CaptureCheckoutResponse struct {
	Success      bool   `json:"success"`
	OrderID      int64  `json:"order_id,omitempty"`
	TrackingCode string `json:"tracking_code,omitempty"`
}

// CheckoutService is the slice of the checkout service this handler uses.
type CheckoutService interface {
	CreateOrder(ctx context.Context, items []order.Item, returnURL, cancelURL string) (*paypal.OrderDetails, error)
	Capture(ctx context.Context, in checkout.CaptureInput) (*order.Order, error)
}

type CheckoutHandler struct {
	service  CheckoutService
	validate *validator.Validate
}

func NewCheckoutHandler(service CheckoutService) *CheckoutHandler {
	validate := validator.New()
	_ = validate.RegisterValidation("orderref", func(fl validator.FieldLevel) bool {
		return orderRefPattern.MatchString(fl.Field().String())
	})
	return &CheckoutHandler{service: service, validate: validate}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout/orders", h.handleCreateCheckout)
	router.Post("/checkout/capture", h.handleCaptureCheckout)
}

func (h *CheckoutHandler) handleCreateCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CreateCheckoutRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode create checkout request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondValidationError(w, err)
		return
	}

	details, err := h.service.CreateOrder(r.Context(), toItems(requestPayload.Cart), requestPayload.ReturnURL, requestPayload.CancelURL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create checkout via service")
		respondWithError(w, http.StatusBadGateway, "Unable to start checkout")
		return
	}

	respondWithJSON(w, http.StatusOK, details)
}

func (h *CheckoutHandler) handleCaptureCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CaptureCheckoutRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Msg("Failed to decode capture request")
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondValidationError(w, err)
		return
	}

	input := checkout.CaptureInput{
		PayPalOrderID: requestPayload.OrderID,
		Items:         toItems(requestPayload.Items),
		PayerEmail:    requestPayload.PayerEmail,
	}
	if requestPayload.Shipping != nil {
		input.Shipping = &order.ShippingAddress{
			Name:       requestPayload.Shipping.Name,
			Address1:   requestPayload.Shipping.Address1,
			City:       requestPayload.Shipping.City,
			State:      requestPayload.Shipping.State,
			Country:    requestPayload.Shipping.Country,
			PostalCode: requestPayload.Shipping.PostalCode,
		}
	}

	captured, err := h.service.Capture(r.Context(), input)
	if err != nil {
		log.Error().Err(err).Str("paypal_order_id", requestPayload.OrderID).Msg("Failed to capture checkout via service")

		// Provider-level detail stays in the logs; the storefront only
		// needs to know the payment did not go through.
		if errors.Is(err, checkout.ErrAlreadyCaptured) {
			respondWithError(w, http.StatusConflict, "Order has already been processed")
			return
		}
		respondWithError(w, http.StatusBadGateway, "Payment could not be completed")
		return
	}

	responsePayload := CaptureCheckoutResponse{Success: true}
	if captured != nil {
		responsePayload.OrderID = captured.ID
		responsePayload.TrackingCode = captured.TrackingCode
	}

	respondWithJSON(w, http.StatusOK, responsePayload)
}

func toItems(cart []CartItem) []order.Item {
	items := make([]order.Item, 0, len(cart))
	for _, item := range cart {
		items = append(items, order.Item{
			SKU:   item.SKU,
			Name:  item.Name,
			Price: item.Price,
			Qty:   item.Qty,
			Size:  item.Size,
			Color: item.Color,
			Image: item.Image,
		})
	}
	return items
}
