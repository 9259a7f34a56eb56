// Package handler exposes the storefront HTTP API: the payment webhook and
// the merchant order endpoints.
package handler

import (
	"context"
	"net/http"

	"github.com/xenking/storefront-fulfillment/internal/domain/discount"
	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/payment"
)

// Pricer quotes carts.
type Pricer interface {
	Quote(ctx context.Context, storeID string, lines []discount.Line, codes []string) (*discount.Quote, error)
}

// Checkout places orders.
type Checkout interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
}

// Orders drives order status changes requested by merchants.
type Orders interface {
	Lookup(ctx context.Context, orderID string) (*order.Order, []order.HistoryEntry, error)
	ApplyStatusUpdate(ctx context.Context, orderID string, to order.Status, note string) (*order.Order, error)
	BeginPayment(ctx context.Context, orderID, paymentRef string) (*order.Order, error)
}

// WebhookVerifier authenticates and parses webhook deliveries.
type WebhookVerifier interface {
	Acknowledge(body []byte, signature string) (*payment.Event, error)
}

// EventSubmitter applies acknowledged events in the background.
type EventSubmitter interface {
	Submit(ctx context.Context, ev *payment.Event)
}

// Handler serves the API routes.
type Handler struct {
	pricer   Pricer
	checkout Checkout
	orders   Orders
	verifier WebhookVerifier
	events   EventSubmitter
}

// New creates a Handler.
func New(pricer Pricer, checkout Checkout, orders Orders, verifier WebhookVerifier, events EventSubmitter) *Handler {
	return &Handler{
		pricer:   pricer,
		checkout: checkout,
		orders:   orders,
		verifier: verifier,
		events:   events,
	}
}

// Register mounts the routes on mux. Merchant routes go through auth; the
// webhook authenticates by signature instead.
func (h *Handler) Register(mux *http.ServeMux, auth func(http.Handler) http.Handler) {
	mux.HandleFunc("POST /webhooks/payments", h.PaymentWebhook)

	mux.Handle("POST /api/stores/{storeID}/pricing", auth(http.HandlerFunc(h.Price)))
	mux.Handle("POST /api/stores/{storeID}/orders", auth(http.HandlerFunc(h.PlaceOrder)))
	mux.Handle("GET /api/orders/{id}", auth(http.HandlerFunc(h.GetOrder)))
	mux.Handle("POST /api/orders/{id}/status", auth(http.HandlerFunc(h.UpdateStatus)))
	mux.Handle("POST /api/orders/{id}/payment", auth(http.HandlerFunc(h.BeginPayment)))
}
