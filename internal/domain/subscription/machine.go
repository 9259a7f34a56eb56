package subscription

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// Event is a provider notification about one subscription.
type Event struct {
	ProviderID string
	// StoreID, when set, must match the subscription's store.
	StoreID   string
	PaymentID string
}

// Outcome describes what an event did to a subscription.
type Outcome struct {
	SubscriptionID string
	StoreID        string
	From           Status
	To             Status
	Applied        bool
}

// Machine applies subscription events.
type Machine struct {
	tx  Transactor
	now func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(tx Transactor) *Machine {
	return &Machine{tx: tx, now: time.Now}
}

// Authenticate moves a created subscription to authenticated.
func (m *Machine) Authenticate(ctx context.Context, ev Event) (Outcome, error) {
	return m.apply(ctx, ev, func(ctx context.Context, repo Repository, s *Subscription, at time.Time) (Status, bool, error) {
		if s.Status != StatusCreated {
			return s.Status, false, nil
		}
		if err := repo.UpdateStatus(ctx, s.ID, StatusAuthenticated, at); err != nil {
			return "", false, errors.Wrap(err, "update status")
		}
		return StatusAuthenticated, true, nil
	})
}

// Charge records a paid cycle. A charge whose payment id was already
// recorded, or any charge on an ended subscription, is a no-op.
func (m *Machine) Charge(ctx context.Context, ev Event) (Outcome, error) {
	if ev.PaymentID == "" {
		return Outcome{}, errors.New("charge without payment id")
	}
	return m.apply(ctx, ev, func(ctx context.Context, repo Repository, s *Subscription, at time.Time) (Status, bool, error) {
		if s.Status == StatusEnded || s.LastPaymentID == ev.PaymentID {
			return s.Status, false, nil
		}
		if err := repo.RecordCharge(ctx, s.ID, ev.PaymentID, at); err != nil {
			return "", false, errors.Wrap(err, "record charge")
		}
		return StatusActive, true, nil
	})
}

// End terminates the subscription.
func (m *Machine) End(ctx context.Context, ev Event) (Outcome, error) {
	return m.apply(ctx, ev, func(ctx context.Context, repo Repository, s *Subscription, at time.Time) (Status, bool, error) {
		if s.Status == StatusEnded {
			return s.Status, false, nil
		}
		if err := repo.UpdateStatus(ctx, s.ID, StatusEnded, at); err != nil {
			return "", false, errors.Wrap(err, "update status")
		}
		return StatusEnded, true, nil
	})
}

// step mutates a locked subscription and reports the resulting status and
// whether anything was written.
type step func(ctx context.Context, repo Repository, s *Subscription, at time.Time) (Status, bool, error)

// apply locks the subscription and runs fn under the lock.
func (m *Machine) apply(ctx context.Context, ev Event, fn step) (Outcome, error) {
	if ev.ProviderID == "" {
		return Outcome{}, errors.Wrap(ErrNotFound, "empty provider id")
	}
	var out Outcome
	err := m.tx.InTx(ctx, func(ctx context.Context, repo Repository) error {
		s, err := repo.LockByProviderID(ctx, ev.ProviderID)
		if err != nil {
			return err
		}
		if ev.StoreID != "" && ev.StoreID != s.StoreID {
			return errors.Wrapf(ErrStoreMismatch, "subscription %s belongs to %s", s.ID, s.StoreID)
		}
		to, applied, err := fn(ctx, repo, s, m.now().UTC())
		if err != nil {
			return err
		}
		out = Outcome{
			SubscriptionID: s.ID,
			StoreID:        s.StoreID,
			From:           s.Status,
			To:             to,
			Applied:        applied,
		}
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	return out, nil
}
