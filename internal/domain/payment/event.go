package payment

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ErrMalformedEvent is returned when a webhook body is not a valid event
// envelope.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Event types handled by the processor.
const (
	EventPaymentCaptured           = "payment.captured"
	EventPaymentFailed             = "payment.failed"
	EventSubscriptionAuthenticated = "subscription.authenticated"
	EventSubscriptionCharged       = "subscription.charged"
	EventSubscriptionEnded         = "subscription.ended"
)

// Event is a parsed provider notification. Entities absent from the payload
// are nil.
type Event struct {
	Type         string
	Payment      *PaymentEntity
	Subscription *SubscriptionEntity
}

// PaymentEntity is the payment object of an event.
type PaymentEntity struct {
	ID string
	// OrderID is the provider order id, bound to an order as its payment
	// reference.
	OrderID string
	Status  string
	// Amount is in minor currency units.
	Amount           int64
	Currency         string
	StoreID          string
	ErrorDescription string
}

// MajorAmount converts Amount to major currency units.
func (p *PaymentEntity) MajorAmount() decimal.Decimal {
	return decimal.New(p.Amount, -2)
}

// SubscriptionEntity is the subscription object of an event.
type SubscriptionEntity struct {
	ID         string
	Status     string
	PlanID     string
	CustomerID string
	StoreID    string
	PaidCount  int
}

// ParseEvent decodes the envelope
//
//	{"event": "...", "payload": {"payment": {"entity": {...}}, "subscription": {"entity": {...}}}}
//
// Unknown keys are skipped.
func ParseEvent(body []byte) (*Event, error) {
	ev := &Event{}
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "event":
			v, err := d.Str()
			ev.Type = v
			return err
		case "payload":
			return decodePayload(d, ev)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(ErrMalformedEvent, err.Error())
	}
	if ev.Type == "" {
		return nil, errors.Wrap(ErrMalformedEvent, "missing event type")
	}
	return ev, nil
}

func decodePayload(d *jx.Decoder, ev *Event) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "payment":
			p := &PaymentEntity{}
			if err := decodeEntity(d, func(d *jx.Decoder, key string) error {
				return decodePaymentField(d, key, p)
			}); err != nil {
				return errors.Wrap(err, "payment")
			}
			ev.Payment = p
		case "subscription":
			s := &SubscriptionEntity{}
			if err := decodeEntity(d, func(d *jx.Decoder, key string) error {
				return decodeSubscriptionField(d, key, s)
			}); err != nil {
				return errors.Wrap(err, "subscription")
			}
			ev.Subscription = s
		default:
			return d.Skip()
		}
		return nil
	})
}

// decodeEntity unwraps {"entity": {...}} and feeds each field to fn.
func decodeEntity(d *jx.Decoder, fn func(d *jx.Decoder, key string) error) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "entity" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if d.Next() == jx.Null {
				return d.Null()
			}
			return fn(d, string(key))
		})
	})
}

func decodePaymentField(d *jx.Decoder, key string, p *PaymentEntity) error {
	var err error
	switch key {
	case "id":
		p.ID, err = d.Str()
	case "order_id":
		p.OrderID, err = d.Str()
	case "status":
		p.Status, err = d.Str()
	case "amount":
		p.Amount, err = d.Int64()
	case "currency":
		p.Currency, err = d.Str()
	case "error_description":
		p.ErrorDescription, err = d.Str()
	case "notes":
		p.StoreID, err = decodeStoreNote(d)
	default:
		err = d.Skip()
	}
	return err
}

func decodeSubscriptionField(d *jx.Decoder, key string, s *SubscriptionEntity) error {
	var err error
	switch key {
	case "id":
		s.ID, err = d.Str()
	case "status":
		s.Status, err = d.Str()
	case "plan_id":
		s.PlanID, err = d.Str()
	case "customer_id":
		s.CustomerID, err = d.Str()
	case "paid_count":
		s.PaidCount, err = d.Int()
	case "notes":
		s.StoreID, err = decodeStoreNote(d)
	default:
		err = d.Skip()
	}
	return err
}

// decodeStoreNote extracts notes.store_id. Providers send an empty array
// instead of an object when there are no notes.
func decodeStoreNote(d *jx.Decoder) (string, error) {
	if d.Next() != jx.Object {
		return "", d.Skip()
	}
	var storeID string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "store_id" || d.Next() != jx.String {
			return d.Skip()
		}
		v, err := d.Str()
		storeID = v
		return err
	})
	return storeID, err
}
