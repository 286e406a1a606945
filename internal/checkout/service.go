package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/redeemedwear/order-service/internal/events"
	"github.com/redeemedwear/order-service/internal/mailer"
	"github.com/redeemedwear/order-service/internal/order"
	"github.com/redeemedwear/order-service/internal/outbox"
	"github.com/redeemedwear/order-service/internal/paypal"
)

var ErrAlreadyCaptured = errors.New("paypal order is already captured")

// Enqueuer is the slice of the outbox repository the webhook path needs.
type Enqueuer interface {
	EnqueueNow(ctx context.Context, kind string, payload any) error
}

type Service struct {
	orders       order.Repository
	payments     paypal.ClientInterface
	mail         mailer.Sender
	queue        Enqueuer
	publisher    events.PublisherInterface
	supportEmail string
	publicURL    string
}

func NewService(orders order.Repository, payments paypal.ClientInterface, mail mailer.Sender, queue Enqueuer, publisher events.PublisherInterface, supportEmail, publicURL string) *Service {
	return &Service{
		orders:       orders,
		payments:     payments,
		mail:         mail,
		queue:        queue,
		publisher:    publisher,
		supportEmail: supportEmail,
		publicURL:    publicURL,
	}
}

// CreateOrder registers a new PayPal order for the cart. The total sent to
// the provider is computed here, never taken from the client.
func (s *Service) CreateOrder(ctx context.Context, items []order.Item, returnURL, cancelURL string) (*paypal.OrderDetails, error) {
	if returnURL == "" {
		returnURL = s.publicURL + "/cart?success=true"
	}
	if cancelURL == "" {
		cancelURL = s.publicURL + "/cart?canceled=true"
	}

	lineItems := make([]paypal.LineItem, 0, len(items))
	for _, item := range items {
		lineItems = append(lineItems, paypal.LineItem{Name: item.Name, Price: item.Price, Qty: item.Qty})
	}

	details, err := s.payments.CreateOrder(ctx, paypal.CreateOrderRequest{
		Items:     lineItems,
		Total:     order.ComputeTotal(items),
		ReturnURL: returnURL,
		CancelURL: cancelURL,
	})
	if err != nil {
		return nil, fmt.Errorf("checkout: failed to create paypal order: %w", err)
	}

	log.Info().Str("paypal_order_id", details.ID).Msg("PayPal order created")
	return details, nil
}

type CaptureInput struct {
	PayPalOrderID string
	Items         []order.Item
	Shipping      *order.ShippingAddress
	// PayerEmail is the client-supplied fallback destination for the
	// confirmation email. It is held in memory only and never persisted.
	PayerEmail string
}

// Capture finalizes an approved PayPal order and fans out persistence,
// fulfillment and notification. Payment success is authoritative: once the
// provider reports COMPLETED, the customer has been charged, so downstream
// failures are logged and absorbed rather than surfaced as a checkout error.
func (s *Service) Capture(ctx context.Context, in CaptureInput) (*order.Order, error) {
	details, err := s.payments.GetOrder(ctx, in.PayPalOrderID)
	if err != nil {
		return nil, fmt.Errorf("checkout: failed to look up paypal order %s: %w", in.PayPalOrderID, err)
	}
	if details.Status == paypal.StatusCompleted {
		log.Warn().Str("paypal_order_id", in.PayPalOrderID).Msg("Refusing to capture an already-completed PayPal order")
		return nil, ErrAlreadyCaptured
	}

	capture, err := s.payments.CaptureOrder(ctx, in.PayPalOrderID)
	if err != nil {
		return nil, fmt.Errorf("checkout: capture of paypal order %s failed: %w", in.PayPalOrderID, err)
	}

	o := &order.Order{
		PayPalOrderID: in.PayPalOrderID,
		TrackingCode:  order.TrackingCodeFor(in.PayPalOrderID),
		Status:        order.StatusPaid,
		Total:         order.ComputeTotal(in.Items),
		Items:         in.Items,
	}

	jobs := []order.PendingJob{{
		Kind: outbox.KindFulfillmentSubmit,
		Payload: outbox.FulfillmentSubmitPayload{
			PayPalOrderID: in.PayPalOrderID,
			Shipping:      in.Shipping,
		},
	}}

	if err := s.orders.Create(ctx, o, jobs); err != nil {
		// The charge already went through. Reporting failure here would
		// invite the customer to pay twice, so the write failure is logged
		// for operator recovery and the capture is still reported as
		// successful.
		if errors.Is(err, order.ErrDuplicateOrder) {
			log.Warn().Str("paypal_order_id", in.PayPalOrderID).Msg("Order row already exists for captured payment")
		} else {
			log.Error().Err(err).Str("paypal_order_id", in.PayPalOrderID).Msg("Failed to persist order after successful capture")
		}
		o = nil
	} else {
		log.Info().Int64("order_id", o.ID).Str("paypal_order_id", in.PayPalOrderID).Float64("total", o.Total).Msg("Order captured and persisted")
	}

	to := capture.PayerEmail
	if to == "" {
		to = in.PayerEmail
	}
	if to != "" && o != nil {
		go s.sendConfirmation(o, to)
	}

	if o != nil {
		go s.publishPaid(o)
	}

	return o, nil
}

// sendConfirmation runs detached from the request. The destination address
// exists only in this goroutine's memory; delivery is best-effort.
func (s *Service) sendConfirmation(o *order.Order, to string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.mail.Send(ctx, mailer.OrderConfirmation(to, o)); err != nil {
		log.Warn().Err(err).Int64("order_id", o.ID).Msg("Failed to send order confirmation email")
	}
}

func (s *Service) publishPaid(o *order.Order) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := events.OrderPaidEvent{
		OrderID:       o.ID,
		PayPalOrderID: o.PayPalOrderID,
		TrackingCode:  o.TrackingCode,
		Total:         o.Total,
		CreatedAt:     o.CreatedAt,
	}
	if err := s.publisher.Publish(ctx, events.RouteOrderPaid, event); err != nil {
		log.Warn().Err(err).Int64("order_id", o.ID).Msg("Failed to publish order.paid event")
	}
}

// ApplyVendorWebhook updates the order a vendor callback refers to and, when
// a tracking number arrives, queues exactly one shipping notification.
func (s *Service) ApplyVendorWebhook(ctx context.Context, podOrderID, status, tracking string) error {
	if podOrderID == "" {
		log.Debug().Msg("Vendor webhook without an order id, ignoring")
		return nil
	}

	o, err := s.orders.GetByPodOrderID(ctx, podOrderID)
	if err != nil {
		if errors.Is(err, order.ErrOrderNotFound) {
			log.Warn().Str("pod_order_id", podOrderID).Msg("Vendor webhook for unknown order")
			return order.ErrOrderNotFound
		}
		return fmt.Errorf("checkout: failed to load order for pod id %s: %w", podOrderID, err)
	}

	if status == "" {
		status = "updated"
	}

	if err := s.applyPodProgress(ctx, o, status, tracking); err != nil {
		return err
	}

	if tracking != "" {
		payload := outbox.ShippingEmailPayload{
			TrackingCode:   o.TrackingCode,
			TrackingNumber: tracking,
		}
		if err := s.queue.EnqueueNow(ctx, outbox.KindShippingEmail, payload); err != nil {
			log.Error().Err(err).Int64("order_id", o.ID).Msg("Failed to enqueue shipping notification")
		}

		go s.publishShipped(o, status, tracking)
	}

	log.Info().Int64("order_id", o.ID).Str("pod_status", status).Str("pod_tracking", tracking).Msg("Applied vendor webhook")
	return nil
}

// applyPodProgress writes the vendor status with a version check. The
// effective tracking value is recomputed from the freshest row each attempt:
// a status-only event that loses the race to a tracking-carrying delivery
// must carry that delivery's tracking forward, not erase it.
func (s *Service) applyPodProgress(ctx context.Context, o *order.Order, status, tracking string) error {
	current := o
	for attempt := 0; attempt < 3; attempt++ {
		newTracking := tracking
		if newTracking == "" {
			newTracking = current.PodTracking
		}
		err := s.orders.SetPodProgress(ctx, current.ID, current.Version, status, newTracking)
		if err == nil {
			return nil
		}
		if !errors.Is(err, order.ErrVersionConflict) {
			return err
		}

		refreshed, getErr := s.orders.GetByID(ctx, current.ID)
		if getErr != nil {
			return getErr
		}
		current = refreshed
	}
	return fmt.Errorf("checkout: gave up applying webhook to order %d after repeated version conflicts", o.ID)
}

func (s *Service) publishShipped(o *order.Order, status, tracking string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	event := events.OrderShippedEvent{
		OrderID:        o.ID,
		TrackingCode:   o.TrackingCode,
		TrackingNumber: tracking,
		PodStatus:      status,
	}
	if err := s.publisher.Publish(ctx, events.RouteOrderShipped, event); err != nil {
		log.Warn().Err(err).Int64("order_id", o.ID).Msg("Failed to publish order.shipped event")
	}
}

// HandleShippingEmailJob sends the shipped notice for an outbox entry. The
// customer address is not retained anywhere, so the notice goes to the
// support inbox, matching how the store operated once it stopped storing
// emails.
func (s *Service) HandleShippingEmailJob(ctx context.Context, payload json.RawMessage) error {
	var job outbox.ShippingEmailPayload
	if err := json.Unmarshal(payload, &job); err != nil {
		return fmt.Errorf("checkout: failed to decode shipping email job: %w", err)
	}

	return s.mail.Send(ctx, mailer.ShippingNotice(s.supportEmail, job.TrackingCode, job.TrackingNumber))
}
