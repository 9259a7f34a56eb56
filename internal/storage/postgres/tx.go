package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/subscription"
)

var (
	_ order.Transactor        = (*OrderTransactor)(nil)
	_ subscription.Transactor = (*SubscriptionTransactor)(nil)
)

// OrderTransactor runs order units of work in a pgx transaction.
type OrderTransactor struct {
	pool *pgxpool.Pool
}

// NewOrderTransactor returns an OrderTransactor using pool.
func NewOrderTransactor(pool *pgxpool.Pool) *OrderTransactor {
	return &OrderTransactor{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (t *OrderTransactor) InTx(ctx context.Context, fn func(ctx context.Context, u order.Unit) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, order.Unit{
			Orders:    NewOrderLedger(tx),
			Inventory: NewInventory(tx),
		})
	})
}

// SubscriptionTransactor runs subscription units of work in a pgx
// transaction.
type SubscriptionTransactor struct {
	pool *pgxpool.Pool
}

// NewSubscriptionTransactor returns a SubscriptionTransactor using pool.
func NewSubscriptionTransactor(pool *pgxpool.Pool) *SubscriptionTransactor {
	return &SubscriptionTransactor{pool: pool}
}

// InTx commits when fn returns nil and rolls back otherwise.
func (t *SubscriptionTransactor) InTx(ctx context.Context, fn func(ctx context.Context, repo subscription.Repository) error) error {
	return pgx.BeginTxFunc(ctx, t.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(ctx, NewSubscriptionRepository(tx))
	})
}
