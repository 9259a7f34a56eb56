// Package kafka publishes order status changes to a Kafka topic.
package kafka

import (
	"context"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/notify"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

var _ order.Notifier = (*Notifier)(nil)

// Notifier writes one message per status change, keyed by order id so every
// change of an order lands on the same partition in commit order.
type Notifier struct {
	w messageWriter
}

// New creates a Notifier with a writer for topic on brokers.
func New(brokers []string, topic string) *Notifier {
	return &Notifier{w: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}}
}

// Notify implements order.Notifier.
func (n *Notifier) Notify(ctx context.Context, c order.StatusChange) error {
	err := n.w.WriteMessages(ctx, kafkago.Message{
		Key:   []byte(c.OrderID),
		Value: notify.Encode(c),
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(c.To)},
		},
	})
	if err != nil {
		return fmt.Errorf("publishing status change for order %s: %w", c.OrderID, err)
	}
	return nil
}

// Close flushes pending messages and closes the writer.
func (n *Notifier) Close() error {
	return n.w.Close()
}
