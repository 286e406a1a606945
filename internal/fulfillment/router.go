package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/redeemedwear/order-service/internal/order"
	"github.com/redeemedwear/order-service/internal/printful"
)

// Sentinel pod_status / pod_provider values. Test orders never reach the
// real vendor; error sentinels mark orders whose submission needs operator
// attention (the router is safe to re-invoke for them).
const (
	TestProvider   = "TEST_SKIP"
	TestPodOrderID = "TEST-NO-FULFILLMENT"
	TestPodStatus  = "TEST_COMPLETE"

	StatusErrorVendor   = "ERROR_PRINTFUL"
	StatusErrorUnmapped = "ERROR_UNMAPPED_SKU"
)

var ErrUnmappedSKU = errors.New("cart contains skus with no vendor variant mapping")

type Router struct {
	orders   order.Repository
	variants VariantStore
	vendor   printful.ClientInterface
}

func NewRouter(orders order.Repository, variants VariantStore, vendor printful.ClientInterface) *Router {
	return &Router{orders: orders, variants: variants, vendor: vendor}
}

// Submit routes one persisted order to the print-on-demand vendor. The ref
// may be a PayPal order id or a full tracking code.
func (r *Router) Submit(ctx context.Context, ref string, shipping *order.ShippingAddress) error {
	o, err := r.orders.GetByTrackingRef(ctx, ref)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn().Str("ref", ref).Msg("Fulfillment requested for unknown order")
			return order.ErrOrderNotFound
		}
		return fmt.Errorf("fulfillment: failed to load order %s: %w", ref, err)
	}

	if isTestOrder(o.Items) {
		log.Info().Int64("order_id", o.ID).Msg("Test order detected, skipping vendor fulfillment")
		if err := r.setFulfillment(ctx, o, TestProvider, TestPodOrderID, TestPodStatus); err != nil {
			return err
		}
		return nil
	}

	items, unmapped, err := r.resolveItems(ctx, o.Items)
	if err != nil {
		return err
	}
	if len(unmapped) > 0 {
		log.Error().Int64("order_id", o.ID).Strs("skus", unmapped).Msg("Order has unmapped SKUs, refusing vendor submission")
		if markErr := r.setPodStatus(ctx, o, StatusErrorUnmapped); markErr != nil {
			log.Error().Err(markErr).Int64("order_id", o.ID).Msg("Failed to mark order with unmapped-sku status")
		}
		return fmt.Errorf("%w: %s", ErrUnmappedSKU, strings.Join(unmapped, ", "))
	}

	result, err := r.vendor.CreateOrder(ctx, printful.OrderRequest{
		Recipient:  buildRecipient(shipping),
		Items:      items,
		ExternalID: o.PayPalOrderID,
	})
	if err != nil {
		log.Error().Err(err).Int64("order_id", o.ID).Msg("Vendor order submission failed")
		if markErr := r.setPodStatus(ctx, o, StatusErrorVendor); markErr != nil {
			log.Error().Err(markErr).Int64("order_id", o.ID).Msg("Failed to mark order with vendor-error status")
		}
		return fmt.Errorf("fulfillment: vendor submission for order %d failed: %w", o.ID, err)
	}

	if err := r.setFulfillment(ctx, o, printful.ProviderName, strconv.FormatInt(result.ID, 10), result.Status); err != nil {
		return err
	}

	log.Info().Int64("order_id", o.ID).Int64("pod_order_id", result.ID).Str("pod_status", result.Status).Msg("Order submitted to vendor")
	return nil
}

func (r *Router) resolveItems(ctx context.Context, cart []order.Item) ([]printful.OrderItem, []string, error) {
	items := make([]printful.OrderItem, 0, len(cart))
	var unmapped []string

	for _, item := range cart {
		variantID, err := r.variants.VariantFor(ctx, item.SKU)
		if err != nil {
			if errors.Is(err, ErrVariantNotFound) {
				unmapped = append(unmapped, item.SKU)
				continue
			}
			return nil, nil, err
		}
		items = append(items, printful.OrderItem{VariantID: variantID, Quantity: item.Qty})
	}

	return items, unmapped, nil
}

// setFulfillment retries on version conflicts; a webhook can land while the
// submission round-trip is still in flight.
func (r *Router) setFulfillment(ctx context.Context, o *order.Order, provider, podOrderID, podStatus string) error {
	current := o
	for attempt := 0; attempt < 3; attempt++ {
		err := r.orders.SetFulfillment(ctx, current.ID, current.Version, provider, podOrderID, podStatus)
		if err == nil {
			return nil
		}
		if !errors.Is(err, order.ErrVersionConflict) {
			return err
		}

		refreshed, getErr := r.orders.GetByID(ctx, current.ID)
		if getErr != nil {
			return getErr
		}
		current = refreshed
	}
	return fmt.Errorf("fulfillment: gave up updating order %d after repeated version conflicts", o.ID)
}

func (r *Router) setPodStatus(ctx context.Context, o *order.Order, podStatus string) error {
	current := o
	for attempt := 0; attempt < 3; attempt++ {
		err := r.orders.SetPodProgress(ctx, current.ID, current.Version, podStatus, current.PodTracking)
		if err == nil {
			return nil
		}
		if !errors.Is(err, order.ErrVersionConflict) {
			return err
		}

		refreshed, getErr := r.orders.GetByID(ctx, current.ID)
		if getErr != nil {
			return getErr
		}
		current = refreshed
	}
	return fmt.Errorf("fulfillment: gave up updating order %d after repeated version conflicts", o.ID)
}

// isTestOrder reports whether every line item is a test fixture. Orders from
// non-production checkout runs must never reach the real vendor.
func isTestOrder(items []order.Item) bool {
	if len(items) == 0 {
		return false
	}
	for _, item := range items {
		if !strings.HasPrefix(item.SKU, "TEST") && !strings.Contains(strings.ToLower(item.Name), "test") {
			return false
		}
	}
	return true
}

func buildRecipient(shipping *order.ShippingAddress) printful.Recipient {
	if shipping == nil {
		shipping = &order.ShippingAddress{}
	}

	recipient := printful.Recipient{
		Name:        truncate(shipping.Name, 100),
		Address1:    truncate(shipping.Address1, 100),
		City:        truncate(shipping.City, 50),
		StateCode:   truncate(shipping.State, 20),
		CountryCode: truncate(shipping.Country, 2),
		Zip:         truncate(shipping.PostalCode, 20),
	}
	if recipient.Name == "" {
		recipient.Name = "Customer"
	}
	if recipient.CountryCode == "" {
		recipient.CountryCode = "US"
	}

	return recipient
}

// truncate limits to max runes, never splitting a multi-byte character.
func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
