package amqp

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

type published struct {
	exchange, key string
	msg           amqp.Publishing
}

type fakeChannel struct {
	sent   []published
	closed bool
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	c.sent = append(c.sent, published{exchange: exchange, key: key, msg: msg})
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

func TestRoutingKey(t *testing.T) {
	for _, tt := range []struct {
		to   order.Status
		want string
	}{
		{order.StatusPaymentReceived, "order.payment_received"},
		{order.StatusCancelled, "order.cancelled"},
		{order.StatusOnHold, "order.on_hold"},
	} {
		t.Run(string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, RoutingKey(order.StatusChange{To: tt.to}))
		})
	}
}

func TestNotifier(t *testing.T) {
	ch := &fakeChannel{}
	n := &Notifier{ch: ch, exchange: "orders"}
	at := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, n.Notify(context.Background(), order.StatusChange{
		OrderID: "o1",
		StoreID: "s1",
		From:    order.StatusPaymentReceived,
		To:      order.StatusShipped,
		At:      at,
	}))

	require.Len(t, ch.sent, 1)
	got := ch.sent[0]
	assert.Equal(t, "orders", got.exchange)
	assert.Equal(t, "order.shipped", got.key)
	assert.Equal(t, "application/json", got.msg.ContentType)
	assert.Equal(t, amqp.Persistent, got.msg.DeliveryMode)
	assert.Equal(t, "o1:shipped", got.msg.MessageId)
	assert.Equal(t, at, got.msg.Timestamp)

	require.NoError(t, n.Close())
	assert.True(t, ch.closed)
}
