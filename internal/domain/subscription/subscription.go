// Package subscription applies provider subscription events to stored
// subscriptions using the same lock-then-check discipline as orders.
package subscription

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when no subscription has the provider id.
	ErrNotFound = errors.New("subscription not found")
	// ErrStoreMismatch is returned when an event names another store.
	ErrStoreMismatch = errors.New("store does not match subscription")
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	StatusCreated       Status = "created"
	StatusAuthenticated Status = "authenticated"
	StatusActive        Status = "active"
	StatusEnded         Status = "ended"
)

// Subscription is a store's recurring plan with the payment provider.
type Subscription struct {
	ID              string
	ProviderID      string
	StoreID         string
	Status          Status
	StatusUpdatedAt time.Time
	PaidCycles      int
	// LastPaymentID is the provider payment id of the most recent charge.
	LastPaymentID string
}

// Repository persists subscriptions. LockByProviderID must hold a row lock
// until the surrounding transaction ends.
type Repository interface {
	LockByProviderID(ctx context.Context, providerID string) (*Subscription, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	// RecordCharge marks the subscription active, increments its paid cycles
	// and stores paymentID as the last charge.
	RecordCharge(ctx context.Context, id, paymentID string, at time.Time) error
}

// Transactor runs fn inside one database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error
}
