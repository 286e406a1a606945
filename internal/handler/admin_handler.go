package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/redeemedwear/order-service/internal/order"
)

type UpdateStatusRequest struct {
	Status string `json:"status" validate:"required"`
}

type SubmitFulfillmentRequest struct {
	OrderID  string                  `json:"order_id" validate:"required,max=100,orderref"`
	Shipping *ShippingAddressRequest `json:"shipping" validate:"omitempty"`
}

// FulfillmentSubmitter routes a persisted order to the vendor.
type FulfillmentSubmitter interface {
	Submit(ctx context.Context, ref string, shipping *order.ShippingAddress) error
}

// AdminHandler serves the trusted surface: order administration and manual
// fulfillment submission. Every route requires the service token, since the
// fulfillment endpoint can trigger real vendor spend.
type AdminHandler struct {
	service      order.Service
	router       FulfillmentSubmitter
	serviceToken string
	validate     *validator.Validate
}

func NewAdminHandler(service order.Service, router FulfillmentSubmitter, serviceToken string) *AdminHandler {
	validate := validator.New()
	_ = validate.RegisterValidation("orderref", func(fl validator.FieldLevel) bool {
		return orderRefPattern.MatchString(fl.Field().String())
	})
	return &AdminHandler{service: service, router: router, serviceToken: serviceToken, validate: validate}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Group(func(r chi.Router) {
		r.Use(h.requireServiceToken)
		r.Get("/admin/orders", h.handleListOrders)
		r.Patch("/admin/orders/{id}/status", h.handleUpdateStatus)
		r.Post("/internal/fulfillment", h.handleSubmitFulfillment)
	})
}

func (h *AdminHandler) requireServiceToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.serviceToken)) != 1 {
			log.Warn().Str("path", r.URL.Path).Msg("Rejected request with missing or invalid service token")
			respondWithError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	orders, err := h.service.List(r.Context(), limit, offset)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list orders via service")
		respondWithError(w, http.StatusInternalServerError, "Failed to list orders")
		return
	}

	respondWithJSON(w, http.StatusOK, orders)
}

func (h *AdminHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	idParam := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	var requestPayload UpdateStatusRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondValidationError(w, err)
		return
	}

	if err := h.service.UpdateStatus(r.Context(), id, order.Status(requestPayload.Status)); err != nil {
		log.Error().Err(err).Int64("order_id", id).Msg("Failed to update order status via service")
		respondWithError(w, mapErrorToStatusCode(err), statusUpdateMessage(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func statusUpdateMessage(err error) string {
	switch mapErrorToStatusCode(err) {
	case http.StatusNotFound:
		return "Order not found"
	case http.StatusUnprocessableEntity:
		return "Invalid status transition"
	default:
		return "Failed to update order status"
	}
}

func (h *AdminHandler) handleSubmitFulfillment(w http.ResponseWriter, r *http.Request) {
	var requestPayload SubmitFulfillmentRequest

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		respondValidationError(w, err)
		return
	}

	var shipping *order.ShippingAddress
	if requestPayload.Shipping != nil {
		shipping = &order.ShippingAddress{
			Name:       requestPayload.Shipping.Name,
			Address1:   requestPayload.Shipping.Address1,
			City:       requestPayload.Shipping.City,
			State:      requestPayload.Shipping.State,
			Country:    requestPayload.Shipping.Country,
			PostalCode: requestPayload.Shipping.PostalCode,
		}
	}

	if err := h.router.Submit(r.Context(), requestPayload.OrderID, shipping); err != nil {
		log.Error().Err(err).Str("order_ref", requestPayload.OrderID).Msg("Manual fulfillment submission failed")
		respondWithError(w, mapErrorToStatusCode(err), "Fulfillment submission failed")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
