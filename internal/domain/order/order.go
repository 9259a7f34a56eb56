// Package order holds the order ledger contracts, the fulfillment state
// machine and the checkout flow that creates orders.
package order

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-fulfillment/internal/domain/product"
)

var (
	// ErrNotFound is returned when no order matches an id or payment reference.
	ErrNotFound = errors.New("order not found")
	// ErrPaymentRefConflict is returned when a payment reference is already
	// bound to a different order, or the order already has another reference.
	ErrPaymentRefConflict = errors.New("payment reference conflict")
	// ErrStoreMismatch is returned when an event names a store other than the
	// order's own.
	ErrStoreMismatch = errors.New("store does not match order")
	// ErrInvalidRequest is returned for checkout input that cannot be priced.
	ErrInvalidRequest = errors.New("invalid order request")
)

// TransitionError reports a status change that the transition table forbids.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: transition %s -> %s not allowed", e.OrderID, e.From, e.To)
}

// Order is a placed order and the price it was fixed at.
type Order struct {
	ID              string
	StoreID         string
	CustomerID      string
	Status          Status
	StatusUpdatedAt time.Time
	Subtotal        decimal.Decimal
	Discount        decimal.Decimal
	Total           decimal.Decimal
	// PaymentRef is the provider-side order id. Empty until payment begins.
	PaymentRef string
	OfferCodes []string
	Items      []LineItem
	Offers     []AppliedOffer
	CreatedAt  time.Time
}

// LineItem is a priced order line. Quantity is what ships and what was
// reserved; BillableQuantity excludes free units.
type LineItem struct {
	ProductID        string
	Quantity         int
	UnitPrice        decimal.Decimal
	FinalUnitPrice   decimal.Decimal
	BillableQuantity int
	Discount         decimal.Decimal
}

// AppliedOffer is an offer that contributed to the order price.
type AppliedOffer struct {
	OfferID string
	Name    string
	Type    string
	Amount  decimal.Decimal
}

// HistoryEntry is one row of the append-only status log.
type HistoryEntry struct {
	OrderID string
	Status  Status
	Note    string
	At      time.Time
}

type reservation struct {
	productID string
	qty       int
}

// reservations aggregates line quantities per product, sorted by product id
// so concurrent flows touch rows in the same order.
func (o *Order) reservations() []reservation {
	qty := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		qty[it.ProductID] += it.Quantity
	}
	out := make([]reservation, 0, len(qty))
	for id, q := range qty {
		out = append(out, reservation{productID: id, qty: q})
	}
	slices.SortFunc(out, func(a, b reservation) int {
		return cmp.Compare(a.productID, b.productID)
	})
	return out
}

// StatusChange is published after a transition commits.
type StatusChange struct {
	OrderID string
	StoreID string
	From    Status
	To      Status
	Note    string
	At      time.Time
}

// Ledger persists orders and their status history. Lock methods must hold a
// row lock on the order until the surrounding transaction ends.
type Ledger interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	LockByID(ctx context.Context, id string) (*Order, error)
	LockByPaymentRef(ctx context.Context, ref string) (*Order, error)
	// ClaimAbandoned locks up to limit orders awaiting payment whose status
	// has not changed since cutoff, skipping rows locked by others.
	ClaimAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	SetPaymentRef(ctx context.Context, id, ref string) error
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	History(ctx context.Context, orderID string) ([]HistoryEntry, error)
}

// Unit is the set of repositories bound to one transaction.
type Unit struct {
	Orders    Ledger
	Inventory product.Inventory
}

// Transactor runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, u Unit) error) error
}

// Notifier is informed of committed status changes.
type Notifier interface {
	Notify(ctx context.Context, change StatusChange) error
}
