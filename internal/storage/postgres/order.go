package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
)

const (
	orderColumns = `id, store_id, customer_id, status, status_updated_at, subtotal, discount, total,
	COALESCE(payment_ref, ''), offer_codes, created_at`

	insertOrderSQL = `INSERT INTO orders
	(id, store_id, customer_id, status, status_updated_at, subtotal, discount, total, payment_ref, offer_codes, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), $10, $11)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	lockOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	lockOrderByPaymentRefSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_ref = $1 FOR UPDATE`

	claimAbandonedSQL = `SELECT id FROM orders
	WHERE status IN ('created', 'payment_pending') AND status_updated_at < $1
	ORDER BY status_updated_at
	LIMIT $2
	FOR UPDATE SKIP LOCKED`

	updateOrderStatusSQL = `UPDATE orders SET status = $2, status_updated_at = $3 WHERE id = $1`

	setPaymentRefSQL = `UPDATE orders SET payment_ref = $2 WHERE id = $1`

	listOrderItemsSQL = `SELECT product_id, quantity, unit_price, final_unit_price, billable_quantity, discount
	FROM order_items WHERE order_id = $1 ORDER BY line_no`

	listAppliedOffersSQL = `SELECT offer_id, offer_name, offer_type, amount
	FROM order_applied_offers WHERE order_id = $1 ORDER BY position`

	appendHistorySQL = `INSERT INTO order_status_history (order_id, status, note, created_at) VALUES ($1, $2, $3, $4)`

	listHistorySQL = `SELECT order_id, status, note, created_at
	FROM order_status_history WHERE order_id = $1 ORDER BY id`

	paymentRefConstraint = "orders_payment_ref_key"
)

var _ order.Ledger = (*OrderLedger)(nil)

// OrderLedger implements order.Ledger backed by PostgreSQL. Lock methods
// only hold their row lock when the ledger is bound to a transaction.
type OrderLedger struct {
	db querier
}

// NewOrderLedger returns an OrderLedger bound to the given pool or
// transaction.
func NewOrderLedger(db querier) *OrderLedger {
	return &OrderLedger{db: db}
}

// Create persists the order with its line items and applied offers.
func (l *OrderLedger) Create(ctx context.Context, o *order.Order) error {
	_, err := l.db.Exec(ctx, insertOrderSQL,
		o.ID, o.StoreID, o.CustomerID, string(o.Status), o.StatusUpdatedAt,
		o.Subtotal, o.Discount, o.Total, o.PaymentRef, nonNil(o.OfferCodes), o.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, paymentRefConstraint) {
			return order.ErrPaymentRefConflict
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	_, err = l.db.CopyFrom(ctx,
		pgx.Identifier{"order_items"},
		[]string{"order_id", "line_no", "product_id", "quantity", "unit_price", "final_unit_price", "billable_quantity", "discount"},
		pgx.CopyFromSlice(len(o.Items), func(i int) ([]any, error) {
			it := o.Items[i]
			return []any{o.ID, i, it.ProductID, it.Quantity, it.UnitPrice, it.FinalUnitPrice, it.BillableQuantity, it.Discount}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating items of order %q: %w", o.ID, err)
	}

	if len(o.Offers) == 0 {
		return nil
	}
	_, err = l.db.CopyFrom(ctx,
		pgx.Identifier{"order_applied_offers"},
		[]string{"order_id", "position", "offer_id", "offer_name", "offer_type", "amount"},
		pgx.CopyFromSlice(len(o.Offers), func(i int) ([]any, error) {
			a := o.Offers[i]
			return []any{o.ID, i, a.OfferID, a.Name, a.Type, a.Amount}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("creating applied offers of order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order without locking it.
func (l *OrderLedger) Get(ctx context.Context, id string) (*order.Order, error) {
	return l.load(ctx, getOrderSQL, id)
}

// LockByID returns the order and holds its row lock.
func (l *OrderLedger) LockByID(ctx context.Context, id string) (*order.Order, error) {
	return l.load(ctx, lockOrderSQL, id)
}

// LockByPaymentRef returns the order bound to ref and holds its row lock.
func (l *OrderLedger) LockByPaymentRef(ctx context.Context, ref string) (*order.Order, error) {
	return l.load(ctx, lockOrderByPaymentRefSQL, ref)
}

// ClaimAbandoned locks up to limit stale orders awaiting payment, oldest
// first. Rows locked by concurrent transactions are skipped.
func (l *OrderLedger) ClaimAbandoned(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	rows, err := l.db.Query(ctx, claimAbandonedSQL, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("claiming abandoned orders: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("claiming abandoned orders: %w", err)
	}
	return ids, nil
}

// UpdateStatus sets the status and its timestamp.
func (l *OrderLedger) UpdateStatus(ctx context.Context, id string, status order.Status, at time.Time) error {
	tag, err := l.db.Exec(ctx, updateOrderStatusSQL, id, string(status), at)
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// SetPaymentRef binds the provider reference to the order.
func (l *OrderLedger) SetPaymentRef(ctx context.Context, id, ref string) error {
	tag, err := l.db.Exec(ctx, setPaymentRefSQL, id, ref)
	if err != nil {
		if isUniqueViolation(err, paymentRefConstraint) {
			return errors.Wrapf(order.ErrPaymentRefConflict, "reference %s", ref)
		}
		return fmt.Errorf("setting payment reference of order %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrNotFound
	}
	return nil
}

// AppendHistory inserts one status history row.
func (l *OrderLedger) AppendHistory(ctx context.Context, e order.HistoryEntry) error {
	if _, err := l.db.Exec(ctx, appendHistorySQL, e.OrderID, string(e.Status), e.Note, e.At); err != nil {
		return fmt.Errorf("appending history of order %q: %w", e.OrderID, err)
	}
	return nil
}

// History returns the status history of an order, oldest first.
func (l *OrderLedger) History(ctx context.Context, orderID string) ([]order.HistoryEntry, error) {
	rows, err := l.db.Query(ctx, listHistorySQL, orderID)
	if err != nil {
		return nil, fmt.Errorf("listing history of order %q: %w", orderID, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.HistoryEntry, error) {
		var (
			e      order.HistoryEntry
			status string
		)
		err := row.Scan(&e.OrderID, &status, &e.Note, &e.At)
		e.Status = order.Status(status)
		return e, err
	})
}

func (l *OrderLedger) load(ctx context.Context, sql, key string) (*order.Order, error) {
	rows, err := l.db.Query(ctx, sql, key)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", key, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", key, err)
	}

	rows, err = l.db.Query(ctx, listOrderItemsSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", o.ID, err)
	}
	if o.Items, err = pgx.CollectRows(rows, scanLineItem); err != nil {
		return nil, fmt.Errorf("getting items of order %q: %w", o.ID, err)
	}

	rows, err = l.db.Query(ctx, listAppliedOffersSQL, o.ID)
	if err != nil {
		return nil, fmt.Errorf("getting offers of order %q: %w", o.ID, err)
	}
	if o.Offers, err = pgx.CollectRows(rows, pgx.RowToStructByPos[order.AppliedOffer]); err != nil {
		return nil, fmt.Errorf("getting offers of order %q: %w", o.ID, err)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o      order.Order
		status string
	)
	err := row.Scan(
		&o.ID, &o.StoreID, &o.CustomerID, &status, &o.StatusUpdatedAt,
		&o.Subtotal, &o.Discount, &o.Total, &o.PaymentRef, &o.OfferCodes, &o.CreatedAt,
	)
	o.Status = order.Status(status)
	return o, err
}

func scanLineItem(row pgx.CollectableRow) (order.LineItem, error) {
	var it order.LineItem
	err := row.Scan(&it.ProductID, &it.Quantity, &it.UnitPrice, &it.FinalUnitPrice, &it.BillableQuantity, &it.Discount)
	return it, err
}
