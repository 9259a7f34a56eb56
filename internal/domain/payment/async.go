package payment

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// EventApplier applies a verified event.
type EventApplier interface {
	Apply(ctx context.Context, ev *Event) error
	// Flag records an inconsistency that needs manual follow-up.
	Flag(ctx context.Context, class string)
}

// Applier runs Apply in the background after the HTTP acknowledgement has
// been written. Each run gets a context detached from the request with its
// own deadline, and at most a fixed number run concurrently.
type Applier struct {
	next    EventApplier
	timeout time.Duration
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
}

// NewApplier creates an Applier running at most concurrency events at once.
func NewApplier(next EventApplier, timeout time.Duration, concurrency int64) *Applier {
	if concurrency <= 0 {
		concurrency = 16
	}
	return &Applier{
		next:    next,
		timeout: timeout,
		sem:     semaphore.NewWeighted(concurrency),
	}
}

// Submit schedules ev. It returns immediately.
func (a *Applier) Submit(ctx context.Context, ev *Event) {
	ctx = context.WithoutCancel(ctx)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()

		lg := zctx.From(ctx)
		if err := a.sem.Acquire(ctx, 1); err != nil {
			lg.Warn("Webhook event dropped before apply",
				zap.String("event", ev.Type),
				zap.String("inconsistency", InconsistencyApplyDropped),
				zap.Error(err),
			)
			a.next.Flag(ctx, InconsistencyApplyDropped)
			return
		}
		defer a.sem.Release(1)

		if err := a.next.Apply(ctx, ev); err != nil {
			lg.Error("Apply webhook event", zap.String("event", ev.Type), zap.Error(err))
		}
	}()
}

// Wait blocks until every submitted event has finished or ctx is done.
func (a *Applier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
