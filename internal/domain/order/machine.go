package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Inconsistency classes reported on outcomes that need manual follow-up.
const (
	// InconsistencyCapturedAfterRelease marks money captured for an order
	// whose reservation was already released.
	InconsistencyCapturedAfterRelease = "captured_after_release"
	// InconsistencyAmountMismatch marks a capture whose amount differs from
	// the order total.
	InconsistencyAmountMismatch = "amount_mismatch"
)

const abandonedNote = "payment window expired"

// Settlement is a payment outcome reported by the provider.
type Settlement struct {
	// PaymentRef is the provider-side order id the order was bound to.
	PaymentRef string
	PaymentID  string
	// StoreID, when set, must match the order's store.
	StoreID string
	// Amount is the captured amount in major units. Zero skips the check.
	Amount decimal.Decimal
	Reason string
}

// Outcome describes what an event did to an order.
type Outcome struct {
	OrderID string
	From    Status
	To      Status
	// Applied is false for idempotent no-ops.
	Applied       bool
	Inconsistency string
}

// Machine applies order status transitions. Every operation runs in one
// transaction that holds the order's row lock, and re-checks its guard under
// that lock.
type Machine struct {
	tx       Transactor
	notifier Notifier
	now      func() time.Time
}

// NewMachine creates a Machine.
func NewMachine(tx Transactor, notifier Notifier) *Machine {
	return &Machine{
		tx:       tx,
		notifier: notifier,
		now:      time.Now,
	}
}

// ApplySuccess records a captured payment and converts the order's
// reservations into sales. Orders already past payment are left untouched.
func (m *Machine) ApplySuccess(ctx context.Context, s Settlement) (Outcome, error) {
	var (
		out     Outcome
		changes []StatusChange
	)
	err := m.tx.InTx(ctx, func(ctx context.Context, u Unit) error {
		o, err := lockForSettlement(ctx, u, s)
		if err != nil {
			return err
		}
		out = Outcome{OrderID: o.ID, From: o.Status, To: o.Status}

		if o.Status.PostPayment() || o.Status.Terminal() {
			if o.Status == StatusFailed || o.Status == StatusCancelled {
				out.Inconsistency = InconsistencyCapturedAfterRelease
			}
			return nil
		}
		if !s.Amount.IsZero() && !s.Amount.Equal(o.Total) {
			out.Inconsistency = InconsistencyAmountMismatch
		}

		change, err := m.transition(ctx, u, o, StatusPaymentReceived, "payment captured "+s.PaymentID)
		if err != nil {
			return err
		}
		for _, r := range o.reservations() {
			if err := u.Inventory.CommitReservation(ctx, r.productID, r.qty); err != nil {
				return errors.Wrapf(err, "commit reservation of %s", r.productID)
			}
		}
		changes = []StatusChange{change}
		out.To, out.Applied = o.Status, true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	publish(ctx, m.notifier, changes)
	return out, nil
}

// ApplyFailure marks the order failed and returns its reservations to stock.
// Orders that are terminal or already past payment are left untouched.
func (m *Machine) ApplyFailure(ctx context.Context, s Settlement) (Outcome, error) {
	var (
		out     Outcome
		changes []StatusChange
	)
	err := m.tx.InTx(ctx, func(ctx context.Context, u Unit) error {
		o, err := lockForSettlement(ctx, u, s)
		if err != nil {
			return err
		}
		out = Outcome{OrderID: o.ID, From: o.Status, To: o.Status}

		if o.Status.Terminal() || o.Status.PostPayment() {
			return nil
		}

		change, err := m.transition(ctx, u, o, StatusFailed, s.Reason)
		if err != nil {
			return err
		}
		if err := release(ctx, u, o); err != nil {
			return err
		}
		changes = []StatusChange{change}
		out.To, out.Applied = o.Status, true
		return nil
	})
	if err != nil {
		return Outcome{}, err
	}
	publish(ctx, m.notifier, changes)
	return out, nil
}

// ApplyStatusUpdate performs a merchant-driven transition. Repeating the
// current status is a no-op.
func (m *Machine) ApplyStatusUpdate(ctx context.Context, orderID string, to Status, note string) (*Order, error) {
	var (
		result  *Order
		changes []StatusChange
	)
	err := m.tx.InTx(ctx, func(ctx context.Context, u Unit) error {
		o, err := u.Orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		result = o
		if o.Status == to {
			return nil
		}
		if !canTransition(o.Status, to) {
			return &TransitionError{OrderID: o.ID, From: o.Status, To: to}
		}
		if o.Status == StatusOnHold && to.rank() >= 0 {
			history, err := u.Orders.History(ctx, o.ID)
			if err != nil {
				return errors.Wrap(err, "load history")
			}
			if held := heldAt(history); to.rank() < held.rank() {
				return &TransitionError{OrderID: o.ID, From: o.Status, To: to}
			}
		}

		wasAwaiting := o.Status.AwaitingPayment()
		change, err := m.transition(ctx, u, o, to, note)
		if err != nil {
			return err
		}
		if to == StatusCancelled && wasAwaiting {
			if err := release(ctx, u, o); err != nil {
				return err
			}
		}
		changes = []StatusChange{change}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, m.notifier, changes)
	return result, nil
}

// BeginPayment binds the provider reference to the order and moves it to
// PaymentPending. Binding the same reference again is a no-op.
func (m *Machine) BeginPayment(ctx context.Context, orderID, paymentRef string) (*Order, error) {
	if paymentRef == "" {
		return nil, errors.Wrap(ErrPaymentRefConflict, "empty payment reference")
	}
	var (
		result  *Order
		changes []StatusChange
	)
	err := m.tx.InTx(ctx, func(ctx context.Context, u Unit) error {
		o, err := u.Orders.LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		result = o

		switch {
		case o.Status == StatusPaymentPending && o.PaymentRef == paymentRef:
			return nil
		case o.Status == StatusPaymentPending:
			return errors.Wrapf(ErrPaymentRefConflict, "order %s already pending on %s", o.ID, o.PaymentRef)
		case o.Status != StatusCreated:
			return &TransitionError{OrderID: o.ID, From: o.Status, To: StatusPaymentPending}
		}

		if err := u.Orders.SetPaymentRef(ctx, o.ID, paymentRef); err != nil {
			return err
		}
		o.PaymentRef = paymentRef
		change, err := m.transition(ctx, u, o, StatusPaymentPending, "payment started")
		if err != nil {
			return err
		}
		changes = []StatusChange{change}
		return nil
	})
	if err != nil {
		return nil, err
	}
	publish(ctx, m.notifier, changes)
	return result, nil
}

// SweepAbandoned cancels up to limit orders that have been awaiting payment
// since before cutoff and releases their reservations. Orders locked by a
// concurrent settlement are skipped and picked up by a later sweep.
func (m *Machine) SweepAbandoned(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	var changes []StatusChange
	err := m.tx.InTx(ctx, func(ctx context.Context, u Unit) error {
		ids, err := u.Orders.ClaimAbandoned(ctx, cutoff, limit)
		if err != nil {
			return errors.Wrap(err, "claim abandoned orders")
		}
		for _, id := range ids {
			o, err := u.Orders.LockByID(ctx, id)
			if err != nil {
				return errors.Wrapf(err, "lock order %s", id)
			}
			if !o.Status.AwaitingPayment() || !o.StatusUpdatedAt.Before(cutoff) {
				continue
			}
			change, err := m.transition(ctx, u, o, StatusCancelled, abandonedNote)
			if err != nil {
				return err
			}
			if err := release(ctx, u, o); err != nil {
				return err
			}
			changes = append(changes, change)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	publish(ctx, m.notifier, changes)
	return len(changes), nil
}

// Lookup returns an order with its status history.
func (m *Machine) Lookup(ctx context.Context, orderID string) (*Order, []HistoryEntry, error) {
	var (
		o       *Order
		history []HistoryEntry
	)
	err := m.tx.InTx(ctx, func(ctx context.Context, u Unit) error {
		var err error
		if o, err = u.Orders.Get(ctx, orderID); err != nil {
			return err
		}
		history, err = u.Orders.History(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return o, history, nil
}

func lockForSettlement(ctx context.Context, u Unit, s Settlement) (*Order, error) {
	if s.PaymentRef == "" {
		return nil, errors.Wrap(ErrNotFound, "empty payment reference")
	}
	o, err := u.Orders.LockByPaymentRef(ctx, s.PaymentRef)
	if err != nil {
		return nil, err
	}
	if s.StoreID != "" && s.StoreID != o.StoreID {
		return nil, errors.Wrapf(ErrStoreMismatch, "order %s belongs to %s, event names %s", o.ID, o.StoreID, s.StoreID)
	}
	return o, nil
}

func (m *Machine) transition(ctx context.Context, u Unit, o *Order, to Status, note string) (StatusChange, error) {
	at := m.now().UTC()
	if err := u.Orders.UpdateStatus(ctx, o.ID, to, at); err != nil {
		return StatusChange{}, errors.Wrap(err, "update status")
	}
	if err := u.Orders.AppendHistory(ctx, HistoryEntry{OrderID: o.ID, Status: to, Note: note, At: at}); err != nil {
		return StatusChange{}, errors.Wrap(err, "append history")
	}
	change := StatusChange{
		OrderID: o.ID,
		StoreID: o.StoreID,
		From:    o.Status,
		To:      to,
		Note:    note,
		At:      at,
	}
	o.Status, o.StatusUpdatedAt = to, at
	return change, nil
}

func release(ctx context.Context, u Unit, o *Order) error {
	for _, r := range o.reservations() {
		if err := u.Inventory.ReleaseReservation(ctx, r.productID, r.qty); err != nil {
			return errors.Wrapf(err, "release reservation of %s", r.productID)
		}
	}
	return nil
}

// heldAt returns the last forward-chain status before the order went on hold.
func heldAt(history []HistoryEntry) Status {
	for _, h := range slices.Backward(history) {
		if h.Status.rank() >= 0 {
			return h.Status
		}
	}
	return StatusCreated
}

func publish(ctx context.Context, n Notifier, changes []StatusChange) {
	for _, c := range changes {
		if err := n.Notify(ctx, c); err != nil {
			zctx.From(ctx).Warn("Notify status change",
				zap.String("order_id", c.OrderID),
				zap.String("status", string(c.To)),
				zap.Error(err),
			)
		}
	}
}
