package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/storefront-fulfillment/internal/domain/discount"
)

// Pricer quotes a cart for a store.
type Pricer interface {
	Quote(ctx context.Context, storeID string, lines []discount.Line, codes []string) (*discount.Quote, error)
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	StoreID    string
	CustomerID string
	Items      []discount.Line
	OfferCodes []string
}

// Checkout prices a cart, persists the order at that price and reserves its
// stock in one transaction.
type Checkout struct {
	pricer   Pricer
	tx       Transactor
	notifier Notifier
	now      func() time.Time
	newID    func() string
}

// NewCheckout creates a Checkout service.
func NewCheckout(pricer Pricer, tx Transactor, notifier Notifier) *Checkout {
	return &Checkout{
		pricer:   pricer,
		tx:       tx,
		notifier: notifier,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
	}
}

// PlaceOrder creates an order in status Created. Nothing is persisted when
// any product lacks stock.
func (c *Checkout) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if req.StoreID == "" || req.CustomerID == "" {
		return nil, errors.Wrap(ErrInvalidRequest, "store and customer are required")
	}
	q, err := c.pricer.Quote(ctx, req.StoreID, req.Items, req.OfferCodes)
	if err != nil {
		return nil, errors.Wrap(err, "price cart")
	}

	now := c.now().UTC()
	o := &Order{
		ID:              c.newID(),
		StoreID:         req.StoreID,
		CustomerID:      req.CustomerID,
		Status:          StatusCreated,
		StatusUpdatedAt: now,
		Subtotal:        q.Subtotal,
		Discount:        q.TotalDiscount,
		Total:           q.Total,
		OfferCodes:      req.OfferCodes,
		CreatedAt:       now,
	}
	for _, fi := range q.Items {
		o.Items = append(o.Items, LineItem{
			ProductID:        fi.ProductID,
			Quantity:         fi.Quantity,
			UnitPrice:        fi.UnitPrice,
			FinalUnitPrice:   fi.FinalUnitPrice,
			BillableQuantity: fi.BillableQuantity,
			Discount:         fi.Discount,
		})
	}
	for _, a := range q.Applied {
		o.Offers = append(o.Offers, AppliedOffer{
			OfferID: a.OfferID,
			Name:    a.Name,
			Type:    string(a.Type),
			Amount:  a.Amount,
		})
	}

	err = c.tx.InTx(ctx, func(ctx context.Context, u Unit) error {
		if err := u.Orders.Create(ctx, o); err != nil {
			return errors.Wrap(err, "create order")
		}
		if err := u.Orders.AppendHistory(ctx, HistoryEntry{OrderID: o.ID, Status: StatusCreated, At: now}); err != nil {
			return errors.Wrap(err, "append history")
		}
		for _, r := range o.reservations() {
			if err := u.Inventory.Reserve(ctx, r.productID, r.qty); err != nil {
				return errors.Wrapf(err, "reserve %s", r.productID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, c.notifier, []StatusChange{{
		OrderID: o.ID,
		StoreID: o.StoreID,
		To:      StatusCreated,
		At:      now,
	}})
	return o, nil
}
