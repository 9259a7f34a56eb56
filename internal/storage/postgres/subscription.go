package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/storefront-fulfillment/internal/domain/subscription"
)

const (
	lockSubscriptionSQL = `SELECT id, provider_id, store_id, status, status_updated_at, paid_cycles, last_payment_id
	FROM subscriptions WHERE provider_id = $1 FOR UPDATE`

	updateSubscriptionStatusSQL = `UPDATE subscriptions SET status = $2, status_updated_at = $3 WHERE id = $1`

	recordChargeSQL = `UPDATE subscriptions
	SET status = 'active', status_updated_at = $3, paid_cycles = paid_cycles + 1, last_payment_id = $2
	WHERE id = $1`

	insertSubscriptionSQL = `INSERT INTO subscriptions (id, provider_id, store_id, status, status_updated_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (provider_id) DO NOTHING`
)

var _ subscription.Repository = (*SubscriptionRepository)(nil)

// SubscriptionRepository implements subscription.Repository backed by
// PostgreSQL.
type SubscriptionRepository struct {
	db querier
}

// NewSubscriptionRepository returns a SubscriptionRepository bound to the
// given pool or transaction.
func NewSubscriptionRepository(db querier) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

// LockByProviderID returns the subscription and holds its row lock.
func (r *SubscriptionRepository) LockByProviderID(ctx context.Context, providerID string) (*subscription.Subscription, error) {
	rows, err := r.db.Query(ctx, lockSubscriptionSQL, providerID)
	if err != nil {
		return nil, fmt.Errorf("locking subscription %q: %w", providerID, err)
	}
	s, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (subscription.Subscription, error) {
		var (
			s      subscription.Subscription
			status string
		)
		err := row.Scan(&s.ID, &s.ProviderID, &s.StoreID, &status, &s.StatusUpdatedAt, &s.PaidCycles, &s.LastPaymentID)
		s.Status = subscription.Status(status)
		return s, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, subscription.ErrNotFound
		}
		return nil, fmt.Errorf("locking subscription %q: %w", providerID, err)
	}
	return &s, nil
}

// UpdateStatus sets the status and its timestamp.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id string, status subscription.Status, at time.Time) error {
	return r.exec(ctx, updateSubscriptionStatusSQL, id, string(status), at)
}

// RecordCharge stores a paid cycle.
func (r *SubscriptionRepository) RecordCharge(ctx context.Context, id, paymentID string, at time.Time) error {
	return r.exec(ctx, recordChargeSQL, id, paymentID, at)
}

// Create inserts a subscription unless its provider id already exists.
func (r *SubscriptionRepository) Create(ctx context.Context, s subscription.Subscription) error {
	_, err := r.db.Exec(ctx, insertSubscriptionSQL, s.ID, s.ProviderID, s.StoreID, string(s.Status), s.StatusUpdatedAt)
	if err != nil {
		return fmt.Errorf("creating subscription %q: %w", s.ProviderID, err)
	}
	return nil
}

func (r *SubscriptionRepository) exec(ctx context.Context, sql, id string, args ...any) error {
	tag, err := r.db.Exec(ctx, sql, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("updating subscription %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return subscription.ErrNotFound
	}
	return nil
}
