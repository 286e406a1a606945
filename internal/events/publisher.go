package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/streadway/amqp"
)

const (
	RouteOrderPaid    = "order.paid"
	RouteOrderShipped = "order.shipped"
)

type OrderPaidEvent struct {
	OrderID       int64     `json:"order_id"`
	PayPalOrderID string    `json:"paypal_order_id"`
	TrackingCode  string    `json:"tracking_code"`
	Total         float64   `json:"total"`
	CreatedAt     time.Time `json:"created_at"`
}

type OrderShippedEvent struct {
	OrderID        int64  `json:"order_id"`
	TrackingCode   string `json:"tracking_code"`
	TrackingNumber string `json:"tracking_number"`
	PodStatus      string `json:"pod_status"`
}

type PublisherInterface interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close()
}

// Publisher emits order lifecycle events on a topic exchange. It is an
// optional integration point; a nil *Publisher is a no-op.
type Publisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

var _ PublisherInterface = (*Publisher)(nil)

func NewPublisher(amqpURL, exchange string) (*Publisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("events: failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: failed to open channel: %w", err)
	}

	err = channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("events: failed to declare exchange: %w", err)
	}

	return &Publisher{conn: conn, channel: channel, exchange: exchange}, nil
}

func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	if p == nil {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("events: failed to marshal %s event: %w", routingKey, err)
	}

	err = p.channel.Publish(p.exchange, routingKey, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("events: failed to publish %s event: %w", routingKey, err)
	}

	log.Debug().Str("routing_key", routingKey).Msg("Published order event")
	return nil
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
