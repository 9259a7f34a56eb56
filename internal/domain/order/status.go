package order

import (
	"slices"

	"github.com/go-faster/errors"
)

// Status is the fulfillment state of an order.
type Status string

const (
	StatusCreated         Status = "created"
	StatusPaymentPending  Status = "payment_pending"
	StatusPaymentReceived Status = "payment_received"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusFailed          Status = "failed"
	StatusOnHold          Status = "on_hold"
	StatusRefunded        Status = "refunded"
	StatusReturned        Status = "returned"
)

// forwardChain is the happy path. Side states are not part of it.
var forwardChain = []Status{
	StatusCreated,
	StatusPaymentPending,
	StatusPaymentReceived,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
}

var (
	terminalStatuses = []Status{
		StatusDelivered, StatusCancelled, StatusFailed, StatusRefunded, StatusReturned,
	}
	postPaymentStatuses = []Status{
		StatusPaymentReceived, StatusProcessing, StatusShipped, StatusDelivered,
		StatusOnHold, StatusRefunded, StatusReturned,
	}
	awaitingPayment = []Status{StatusCreated, StatusPaymentPending}
)

// manualTransitions lists the edges a merchant may take. Payment outcomes are
// only reachable through provider events.
var manualTransitions = map[Status][]Status{
	StatusCreated:         {StatusCancelled},
	StatusPaymentPending:  {StatusCancelled},
	StatusPaymentReceived: {StatusProcessing, StatusOnHold, StatusCancelled, StatusRefunded},
	StatusProcessing:      {StatusShipped, StatusOnHold, StatusCancelled, StatusRefunded},
	StatusShipped:         {StatusDelivered, StatusOnHold, StatusReturned},
	StatusDelivered:       {StatusReturned, StatusRefunded},
	StatusOnHold:          {StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded},
}

// ParseStatus validates a status name.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if slices.Contains(forwardChain, st) || slices.Contains(terminalStatuses, st) || st == StatusOnHold {
		return st, nil
	}
	return "", errors.Errorf("unknown order status %q", s)
}

// Terminal reports whether no automatic transition may leave s.
func (s Status) Terminal() bool { return slices.Contains(terminalStatuses, s) }

// PostPayment reports whether s is at or beyond payment processing.
func (s Status) PostPayment() bool { return slices.Contains(postPaymentStatuses, s) }

// AwaitingPayment reports whether s still holds a stock reservation.
func (s Status) AwaitingPayment() bool { return slices.Contains(awaitingPayment, s) }

// rank is the position in the forward chain, or -1 for side states.
func (s Status) rank() int { return slices.Index(forwardChain, s) }

func canTransition(from, to Status) bool {
	return slices.Contains(manualTransitions[from], to)
}
