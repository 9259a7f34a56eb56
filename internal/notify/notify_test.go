package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

var change = order.StatusChange{
	OrderID: "o1",
	StoreID: "s1",
	From:    order.StatusPaymentPending,
	To:      order.StatusCancelled,
	Note:    "payment window expired",
	At:      time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
}

func TestEncode(t *testing.T) {
	t.Run("with note", func(t *testing.T) {
		assert.JSONEq(t, `{
			"orderId": "o1",
			"storeId": "s1",
			"from": "payment_pending",
			"to": "cancelled",
			"note": "payment window expired",
			"at": "2026-06-01T12:00:00Z"
		}`, string(Encode(change)))
	})
	t.Run("without note", func(t *testing.T) {
		c := change
		c.Note = ""
		assert.NotContains(t, string(Encode(c)), "note")
	})
}

func TestLog(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	require.NoError(t, NewLog(zap.New(core)).Notify(context.Background(), change))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "o1", fields["order_id"])
	assert.Equal(t, "cancelled", fields["to"])
}
