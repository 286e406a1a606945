package mailer

import (
	"fmt"
	"html"
	"strings"

	"github.com/redeemedwear/order-service/internal/order"
)

// OrderConfirmation builds the post-capture confirmation email. The
// destination address lives only in memory during the checkout request; it
// is never read back from storage.
func OrderConfirmation(to string, o *order.Order) Message {
	var items strings.Builder
	for _, item := range o.Items {
		fmt.Fprintf(&items, "<li>%s × %d — $%.2f</li>", html.EscapeString(item.Name), item.Qty, item.Price)
	}

	body := fmt.Sprintf(
		`<p>Thank you for your RedeemedWear order <strong>%s</strong>.</p>
<ul>%s</ul>
<p>Order total: <strong>$%.2f</strong></p>
<p>We'll email again once your order ships.</p>`,
		html.EscapeString(o.TrackingCode), items.String(), o.Total)

	return Message{
		To:      to,
		Subject: fmt.Sprintf("RedeemedWear Order Confirmation — %s", o.TrackingCode),
		HTML:    body,
	}
}

// ShippingNotice builds the shipped notification sent when a vendor webhook
// reports a carrier tracking number.
func ShippingNotice(to, trackingCode, trackingNumber string) Message {
	body := fmt.Sprintf(
		`<p>Your RedeemedWear order <strong>%s</strong> has shipped.</p>
<p>Tracking number: <strong>%s</strong></p>
<p>Thank you for buying from RedeemedWear.</p>`,
		html.EscapeString(trackingCode), html.EscapeString(trackingNumber))

	return Message{
		To:      to,
		Subject: fmt.Sprintf("RedeemedWear Order Shipped — %s", trackingCode),
		HTML:    body,
	}
}
