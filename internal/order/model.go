package order

import (
	"math"
	"time"
)

type Status string

const (
	StatusPaid       Status = "PAID"
	StatusProcessing Status = "PROCESSING"
	StatusShipped    Status = "SHIPPED"
	StatusDelivered  Status = "DELIVERED"
	StatusCancelled  Status = "CANCELLED"
	StatusRefunded   Status = "REFUNDED"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusPaid, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Item is a denormalized line-item snapshot. Orders keep their own copy of
// the catalog data so later catalog edits never rewrite order history.
type Item struct {
	SKU   string  `json:"sku"`
	Name  string  `json:"name"`
	Price float64 `json:"price"`
	Qty   int     `json:"qty"`
	Size  string  `json:"size,omitempty"`
	Color string  `json:"color,omitempty"`
	Image string  `json:"image,omitempty"`
}

type Order struct {
	ID            int64     `json:"id"`
	PayPalOrderID string    `json:"paypal_order_id"`
	TrackingCode  string    `json:"tracking_code"`
	Status        Status    `json:"status"`
	Total         float64   `json:"total"`
	Items         []Item    `json:"items"`
	PodProvider   string    `json:"pod_provider,omitempty"`
	PodOrderID    string    `json:"pod_order_id,omitempty"`
	PodStatus     string    `json:"pod_status,omitempty"`
	PodTracking   string    `json:"pod_tracking,omitempty"`
	UserID        string    `json:"user_id,omitempty"`
	Version       int32     `json:"version"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ShippingAddress is the optional client-submitted destination, forwarded
// to the fulfillment vendor. Unlike the payer email it is not sensitive
// enough to keep out of storage; it rides along in outbox payloads.
type ShippingAddress struct {
	Name       string `json:"name"`
	Address1   string `json:"address1"`
	City       string `json:"city"`
	State      string `json:"state"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
}

const trackingPrefix = "RWC-PAYPAL-"

// TrackingCodeFor derives the human-readable tracking code from the PayPal
// order id, e.g. RWC-PAYPAL-5O190127TN364715T.
func TrackingCodeFor(paypalOrderID string) string {
	return trackingPrefix + paypalOrderID
}

// ComputeTotal sums price*qty over the cart, rounded to cents. The client
// never supplies a total; this is the only place it comes from.
func ComputeTotal(items []Item) float64 {
	total := 0.0
	for _, item := range items {
		total += item.Price * float64(item.Qty)
	}
	return math.Round(total*100) / 100
}
