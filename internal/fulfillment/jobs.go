package fulfillment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redeemedwear/order-service/internal/outbox"
)

// HandleSubmitJob adapts Submit to the outbox worker's handler signature.
func (r *Router) HandleSubmitJob(ctx context.Context, payload json.RawMessage) error {
	var job outbox.FulfillmentSubmitPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("fulfillment: failed to decode submit job: %w", err)
	}
	if job.PayPalOrderID == "" {
		return fmt.Errorf("fulfillment: submit job has no paypal order id")
	}

	return r.Submit(ctx, job.PayPalOrderID, job.Shipping)
}
