package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/redeemedwear/order-service/internal/order"
)

type TrackResponse struct {
	Order          string `json:"order"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
	Note           string `json:"note"`
}

type ShippingRateRequest struct {
	Country  string  `json:"country" validate:"omitempty,len=2"`
	WeightKg float64 `json:"weightKg" validate:"omitempty,gt=0,lte=100"`
}

type ShippingRateResponse struct {
	Country  string  `json:"country"`
	WeightKg float64 `json:"weightKg"`
	Rate     float64 `json:"rate"`
}

// TrackingHandler serves the public, unauthenticated endpoints: order
// tracking and shipping-rate quotes.
type TrackingHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewTrackingHandler(service order.Service) *TrackingHandler {
	return &TrackingHandler{service: service, validate: validator.New()}
}

func (h *TrackingHandler) RegisterRoutes(router chi.Router) {
	router.Get("/track", h.handleTrack)
	router.Post("/shipping/rate", h.handleShippingRate)
}

func (h *TrackingHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("order")
	if ref == "" {
		respondWithError(w, http.StatusBadRequest, "order param required")
		return
	}
	if len(ref) > 100 || !orderRefPattern.MatchString(ref) {
		respondWithError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	o, err := h.service.GetByTrackingRef(r.Context(), ref)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			respondWithError(w, http.StatusNotFound, "Order not found")
			return
		}
		log.Error().Err(err).Str("ref", ref).Msg("Failed to look up order for tracking")
		respondWithError(w, http.StatusInternalServerError, "Unable to retrieve order status")
		return
	}

	status := o.PodStatus
	if status == "" {
		status = o.Status.String()
	}
	if status == "" {
		status = "Processing"
	}

	// Carrier tracking numbers are not exposed verbatim; customers get an
	// internal reference they can quote to support.
	responsePayload := TrackResponse{
		Order:  o.TrackingCode,
		Status: status,
		Note:   "Shipped from a RedeemedWear fulfillment facility.",
	}
	if o.PodTracking != "" {
		responsePayload.TrackingNumber = fmt.Sprintf("RW-TRACK-%d", o.ID)
	}

	respondWithJSON(w, http.StatusOK, responsePayload)
}

func (h *TrackingHandler) handleShippingRate(w http.ResponseWriter, r *http.Request) {
	var requestPayload ShippingRateRequest

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

	if requestPayload.Country == "" {
		requestPayload.Country = "US"
	}
	if requestPayload.WeightKg == 0 {
		requestPayload.WeightKg = 1
	}

	respondWithJSON(w, http.StatusOK, ShippingRateResponse{
		Country:  requestPayload.Country,
		WeightKg: requestPayload.WeightKg,
		Rate:     shippingRate(requestPayload.Country, requestPayload.WeightKg),
	})
}

// shippingRate is the store's flat-rate table: a base fee plus a per-kg
// charge, with a surcharge for the Philippines.
func shippingRate(country string, weightKg float64) float64 {
	const (
		base  = 5.0
		perKg = 2.5
	)
	rate := base + perKg*weightKg
	if country == "PH" {
		rate += 3
	}
	return rate
}
