// Package payment verifies provider webhooks and applies the events they
// carry to orders and subscriptions.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/domain/order"
	"github.com/xenking/storefront-fulfillment/internal/domain/subscription"
)

// ErrValidation is returned for events that are well-formed JSON but lack
// the fields their type requires.
var ErrValidation = errors.New("invalid event")

const (
	// InconsistencyLinkedAccount marks an authenticated subscription whose
	// linked payout account could not be created.
	InconsistencyLinkedAccount = "linked_account_missing"
	// InconsistencyApplyDropped marks an acknowledged event that never ran
	// because no apply slot freed up before its deadline.
	InconsistencyApplyDropped = "apply_dropped"
)

// OrderMachine applies payment outcomes to orders.
type OrderMachine interface {
	ApplySuccess(ctx context.Context, s order.Settlement) (order.Outcome, error)
	ApplyFailure(ctx context.Context, s order.Settlement) (order.Outcome, error)
}

// SubscriptionMachine applies subscription events.
type SubscriptionMachine interface {
	Authenticate(ctx context.Context, ev subscription.Event) (subscription.Outcome, error)
	Charge(ctx context.Context, ev subscription.Event) (subscription.Outcome, error)
	End(ctx context.Context, ev subscription.Event) (subscription.Outcome, error)
}

// AccountCreator provisions the provider-side payout account of a store.
type AccountCreator interface {
	CreateLinkedAccount(ctx context.Context, storeID string) error
}

// Config holds processor settings.
type Config struct {
	Secret []byte
	// EffectTimeout bounds each secondary effect run after commit.
	EffectTimeout time.Duration
}

// Processor is the two-phase webhook handler: Acknowledge authenticates and
// parses, Apply mutates.
type Processor struct {
	secret        []byte
	effectTimeout time.Duration

	orders   OrderMachine
	subs     SubscriptionMachine
	accounts AccountCreator

	events          metric.Int64Counter
	inconsistencies metric.Int64Counter
}

// NewProcessor creates a Processor.
func NewProcessor(
	cfg Config,
	orders OrderMachine,
	subs SubscriptionMachine,
	accounts AccountCreator,
	mp metric.MeterProvider,
) (*Processor, error) {
	if len(cfg.Secret) == 0 {
		return nil, errors.New("webhook secret is required")
	}
	if cfg.EffectTimeout <= 0 {
		cfg.EffectTimeout = 10 * time.Second
	}
	meter := mp.Meter("storefront/payment")
	events, err := meter.Int64Counter("webhook.events",
		metric.WithDescription("Webhook events by type and result"))
	if err != nil {
		return nil, errors.Wrap(err, "create events counter")
	}
	inconsistencies, err := meter.Int64Counter("webhook.inconsistencies",
		metric.WithDescription("Flagged inconsistencies requiring manual follow-up"))
	if err != nil {
		return nil, errors.Wrap(err, "create inconsistencies counter")
	}
	return &Processor{
		secret:          cfg.Secret,
		effectTimeout:   cfg.EffectTimeout,
		orders:          orders,
		subs:            subs,
		accounts:        accounts,
		events:          events,
		inconsistencies: inconsistencies,
	}, nil
}

// Acknowledge verifies the signature of body and parses it. It has no side
// effects.
func (p *Processor) Acknowledge(body []byte, signature string) (*Event, error) {
	if err := Verify(body, signature, p.secret); err != nil {
		return nil, err
	}
	return ParseEvent(body)
}

// Apply runs the state transition for ev in its own transaction. Unknown
// event types are ignored.
func (p *Processor) Apply(ctx context.Context, ev *Event) error {
	ctx = zctx.With(ctx, zap.String("event", ev.Type))
	lg := zctx.From(ctx)

	var err error
	switch ev.Type {
	case EventPaymentCaptured, EventPaymentFailed:
		err = p.applyPayment(ctx, ev)
	case EventSubscriptionAuthenticated, EventSubscriptionCharged, EventSubscriptionEnded:
		err = p.applySubscription(ctx, ev)
	default:
		lg.Info("Ignoring unhandled event type")
		p.count(ctx, ev.Type, "ignored")
		return nil
	}

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrValidation), errors.Is(err, order.ErrStoreMismatch), errors.Is(err, subscription.ErrStoreMismatch):
		lg.Warn("Dropping invalid event", zap.Error(err))
		p.count(ctx, ev.Type, "rejected")
	case errors.Is(err, order.ErrNotFound), errors.Is(err, subscription.ErrNotFound):
		lg.Error("Event references unknown entity", zap.Error(err))
		p.count(ctx, ev.Type, "not_found")
	default:
		p.count(ctx, ev.Type, "error")
	}
	return err
}

func (p *Processor) applyPayment(ctx context.Context, ev *Event) error {
	pe := ev.Payment
	if pe == nil || pe.ID == "" || pe.OrderID == "" {
		return errors.Wrap(ErrValidation, "payment entity requires id and order_id")
	}
	s := order.Settlement{
		PaymentRef: pe.OrderID,
		PaymentID:  pe.ID,
		StoreID:    pe.StoreID,
		Amount:     pe.MajorAmount(),
	}

	var (
		out order.Outcome
		err error
	)
	if ev.Type == EventPaymentCaptured {
		out, err = p.orders.ApplySuccess(ctx, s)
	} else {
		s.Reason = pe.ErrorDescription
		if s.Reason == "" {
			s.Reason = "payment failed"
		}
		out, err = p.orders.ApplyFailure(ctx, s)
	}
	if err != nil {
		return err
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", out.OrderID),
		zap.String("payment_id", pe.ID),
		zap.String("from", string(out.From)),
		zap.String("to", string(out.To)),
	)
	if out.Inconsistency != "" {
		lg.Warn("Payment event needs manual follow-up", zap.String("inconsistency", out.Inconsistency))
		p.Flag(ctx, out.Inconsistency)
	}
	if !out.Applied {
		lg.Info("Payment event already reflected")
		p.count(ctx, ev.Type, "noop")
		return nil
	}
	lg.Info("Payment event applied")
	p.count(ctx, ev.Type, "applied")
	return nil
}

func (p *Processor) applySubscription(ctx context.Context, ev *Event) error {
	se := ev.Subscription
	if se == nil || se.ID == "" {
		return errors.Wrap(ErrValidation, "subscription entity requires id")
	}
	sev := subscription.Event{ProviderID: se.ID, StoreID: se.StoreID}

	var (
		out subscription.Outcome
		err error
	)
	switch ev.Type {
	case EventSubscriptionAuthenticated:
		out, err = p.subs.Authenticate(ctx, sev)
	case EventSubscriptionCharged:
		if ev.Payment == nil || ev.Payment.ID == "" {
			return errors.Wrap(ErrValidation, "charge requires payment entity")
		}
		sev.PaymentID = ev.Payment.ID
		out, err = p.subs.Charge(ctx, sev)
	case EventSubscriptionEnded:
		out, err = p.subs.End(ctx, sev)
	}
	if err != nil {
		return err
	}

	lg := zctx.From(ctx).With(
		zap.String("subscription_id", out.SubscriptionID),
		zap.String("from", string(out.From)),
		zap.String("to", string(out.To)),
	)
	if !out.Applied {
		lg.Info("Subscription event already reflected")
		p.count(ctx, ev.Type, "noop")
		return nil
	}
	lg.Info("Subscription event applied")
	p.count(ctx, ev.Type, "applied")

	if ev.Type == EventSubscriptionAuthenticated && p.accounts != nil {
		p.createLinkedAccount(ctx, out.StoreID)
	}
	return nil
}

// createLinkedAccount runs after the subscription commit. A failure is
// flagged and never undoes the commit.
func (p *Processor) createLinkedAccount(ctx context.Context, storeID string) {
	ctx, cancel := context.WithTimeout(ctx, p.effectTimeout)
	defer cancel()

	if err := p.accounts.CreateLinkedAccount(ctx, storeID); err != nil {
		zctx.From(ctx).Warn("Create linked account",
			zap.String("store_id", storeID),
			zap.String("inconsistency", InconsistencyLinkedAccount),
			zap.Error(err),
		)
		p.Flag(ctx, InconsistencyLinkedAccount)
	}
}

func (p *Processor) count(ctx context.Context, eventType, result string) {
	p.events.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event", eventType),
		attribute.String("result", result),
	))
}

// Flag counts an inconsistency of class that needs manual follow-up.
func (p *Processor) Flag(ctx context.Context, class string) {
	p.inconsistencies.Add(ctx, 1, metric.WithAttributes(attribute.String("class", class)))
}
