package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/redeemedwear/order-service/internal/printful"
)

// WebhookProcessor applies a parsed vendor event to the order it refers to.
type WebhookProcessor interface {
	ApplyVendorWebhook(ctx context.Context, podOrderID, status, tracking string) error
}

type WebhookHandler struct {
	service         WebhookProcessor
	secret          string
	allowUnverified bool
}

func NewWebhookHandler(service WebhookProcessor, secret string, allowUnverified bool) *WebhookHandler {
	return &WebhookHandler{service: service, secret: secret, allowUnverified: allowUnverified}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/printful", h.handlePrintfulWebhook)
}

func (h *WebhookHandler) handlePrintfulWebhook(w http.ResponseWriter, r *http.Request) {
	// Signature verification needs the exact bytes the vendor signed.
	rawBody, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error().Err(err).Msg("Failed to read webhook body")
		respondWithError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	if !h.verifySignature(rawBody, r.Header.Get(printful.SignatureHeader)) {
		respondWithError(w, http.StatusBadRequest, "Invalid signature")
		return
	}

	// Past this point the vendor always gets a 200: returning an error
	// status would only make its retry loop hammer a broken endpoint.
	event, err := printful.ParseWebhookEvent(rawBody)
	if err != nil {
		log.Warn().Err(err).Msg("Discarding unparseable vendor webhook")
		respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if err := h.service.ApplyVendorWebhook(r.Context(), event.PodOrderID, event.Status, event.Tracking); err != nil {
		log.Error().Err(err).Str("pod_order_id", event.PodOrderID).Str("event_type", event.Type).Msg("Failed to apply vendor webhook")
	}

	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *WebhookHandler) verifySignature(rawBody []byte, provided string) bool {
	if h.secret == "" {
		if h.allowUnverified {
			log.Error().Msg("WEBHOOK SIGNATURE NOT VERIFIED: no secret configured and unverified webhooks are explicitly allowed")
			return true
		}
		log.Error().Msg("Rejecting webhook: no webhook secret configured")
		return false
	}

	if provided == "" || !printful.VerifySignature(h.secret, rawBody, provided) {
		log.Warn().Msg("Vendor webhook signature mismatch")
		return false
	}

	return true
}
