// Package notify delivers committed order status changes to external
// consumers.
package notify

import (
	"context"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

// Encode renders a status change as the JSON message body shared by all
// transports.
func Encode(c order.StatusChange) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("orderId", func(e *jx.Encoder) { e.Str(c.OrderID) })
		e.Field("storeId", func(e *jx.Encoder) { e.Str(c.StoreID) })
		e.Field("from", func(e *jx.Encoder) { e.Str(string(c.From)) })
		e.Field("to", func(e *jx.Encoder) { e.Str(string(c.To)) })
		if c.Note != "" {
			e.Field("note", func(e *jx.Encoder) { e.Str(c.Note) })
		}
		e.Field("at", func(e *jx.Encoder) { e.Str(c.At.UTC().Format(time.RFC3339Nano)) })
	})
	return append([]byte(nil), e.Bytes()...)
}

var _ order.Notifier = (*Log)(nil)

// Log writes status changes to a zap logger. It is the default driver when no
// broker is configured.
type Log struct {
	lg *zap.Logger
}

// NewLog creates a Log notifier.
func NewLog(lg *zap.Logger) *Log {
	return &Log{lg: lg}
}

// Notify implements order.Notifier.
func (l *Log) Notify(_ context.Context, c order.StatusChange) error {
	l.lg.Info("Order status changed",
		zap.String("order_id", c.OrderID),
		zap.String("store_id", c.StoreID),
		zap.String("from", string(c.From)),
		zap.String("to", string(c.To)),
		zap.String("note", c.Note),
		zap.Time("at", c.At),
	)
	return nil
}
