// Package amqp publishes order status changes to a RabbitMQ topic exchange.
package amqp

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/notify"
)

const exchangeKind = "topic"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ order.Notifier = (*Notifier)(nil)

// Notifier publishes each change with routing key "order.<status>", so
// consumers can bind to the statuses they care about.
type Notifier struct {
	conn     *amqp.Connection
	ch       channel
	exchange string
}

// Dial connects to url, retrying while the broker starts, and declares a
// durable topic exchange.
func Dial(ctx context.Context, url, exchange string, lg *zap.Logger) (*Notifier, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		if conn, err = amqp.Dial(url); err == nil {
			break
		}
		lg.Warn("Connect to AMQP broker", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to amqp broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("opening amqp channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, exchangeKind, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declaring exchange %q: %w", exchange, err)
	}
	return &Notifier{conn: conn, ch: ch, exchange: exchange}, nil
}

// RoutingKey returns the routing key a change is published under.
func RoutingKey(c order.StatusChange) string {
	return "order." + string(c.To)
}

// Notify implements order.Notifier.
func (n *Notifier) Notify(ctx context.Context, c order.StatusChange) error {
	err := n.ch.PublishWithContext(ctx, n.exchange, RoutingKey(c), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    c.OrderID + ":" + string(c.To),
		Timestamp:    c.At,
		Body:         notify.Encode(c),
	})
	if err != nil {
		return fmt.Errorf("publishing status change for order %s: %w", c.OrderID, err)
	}
	return nil
}

// Close closes the channel and the connection.
func (n *Notifier) Close() error {
	if err := n.ch.Close(); err != nil {
		return err
	}
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
