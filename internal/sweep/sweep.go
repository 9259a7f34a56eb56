// Package sweep cancels orders whose payment window has expired and returns
// their reserved stock.
package sweep

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/storefront-fulfillment/internal/lease"
)

// Canceller cancels abandoned orders. It is implemented by order.Machine.
type Canceller interface {
	SweepAbandoned(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Config controls the sweep cadence.
type Config struct {
	Interval      time.Duration
	PaymentWindow time.Duration
	BatchSize     int
}

// Sweeper periodically cancels orders that stayed unpaid longer than the
// payment window. Only the replica holding the lease sweeps on a given tick.
type Sweeper struct {
	orders Canceller
	lease  lease.Lease
	cfg    Config
	lg     *zap.Logger
	now    func() time.Time

	released metric.Int64Counter
}

// New creates a Sweeper.
func New(cfg Config, orders Canceller, l lease.Lease, lg *zap.Logger, mp metric.MeterProvider) (*Sweeper, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	released, err := mp.Meter("storefront/sweep").Int64Counter("sweep.released_orders",
		metric.WithDescription("Abandoned orders cancelled by the sweep"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create counter")
	}
	return &Sweeper{
		orders:   orders,
		lease:    l,
		cfg:      cfg,
		lg:       lg,
		now:      time.Now,
		released: released,
	}, nil
}

// Run sweeps on every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.lg.Error("Sweep abandoned orders", zap.Error(err))
			}
		}
	}
}

// Sweep runs a single pass. It drains full batches until a short one comes
// back, and returns how many orders were cancelled. Without the lease it does
// nothing.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	ok, err := s.lease.TryAcquire(ctx)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.lg.Debug("Sweep lease held elsewhere")
		return 0, nil
	}
	defer func() {
		if err := s.lease.Release(context.WithoutCancel(ctx)); err != nil {
			s.lg.Warn("Release sweep lease", zap.Error(err))
		}
	}()

	cutoff := s.now().Add(-s.cfg.PaymentWindow)
	var total int
	for {
		n, err := s.orders.SweepAbandoned(ctx, cutoff, s.cfg.BatchSize)
		total += n
		if n > 0 {
			s.released.Add(ctx, int64(n))
		}
		if err != nil {
			return total, errors.Wrap(err, "sweep batch")
		}
		if n < s.cfg.BatchSize {
			break
		}
	}
	if total > 0 {
		s.lg.Info("Cancelled abandoned orders",
			zap.Int("count", total),
			zap.Time("cutoff", cutoff),
		)
	}
	return total, nil
}
