package order

import (
	"cmp"
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-fulfillment/internal/domain/product"
)

// memStore is an in-memory Transactor. InTx serializes transactions with a
// single mutex, which stands in for row locks, and restores a snapshot when
// fn fails.
type memStore struct {
	mu       sync.Mutex
	orders   map[string]*Order
	history  []HistoryEntry
	products map[string]*product.Product
	txCount  int
}

func newMemStore(products ...product.Product) *memStore {
	s := &memStore{
		orders:   make(map[string]*Order),
		products: make(map[string]*product.Product),
	}
	for _, p := range products {
		s.products[p.ID] = &p
	}
	return s
}

type memSnapshot struct {
	orders   map[string]*Order
	history  []HistoryEntry
	products map[string]product.Product
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		orders:   make(map[string]*Order, len(s.orders)),
		history:  slices.Clone(s.history),
		products: make(map[string]product.Product, len(s.products)),
	}
	for id, o := range s.orders {
		snap.orders[id] = cloneOrder(o)
	}
	for id, p := range s.products {
		snap.products[id] = *p
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.orders = snap.orders
	s.history = snap.history
	s.products = make(map[string]*product.Product, len(snap.products))
	for id, p := range snap.products {
		s.products[id] = &p
	}
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, u Unit) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txCount++
	snap := s.snapshot()
	tx := &memTx{s: s}
	if err := fn(ctx, Unit{Orders: tx, Inventory: tx}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = cloneOrder(o)
}

func (s *memStore) order(id string) *Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneOrder(s.orders[id])
}

func (s *memStore) product(id string) product.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.products[id]
}

func (s *memStore) historyOf(orderID string) []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []HistoryEntry
	for _, h := range s.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out
}

func cloneOrder(o *Order) *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = slices.Clone(o.Items)
	c.Offers = slices.Clone(o.Offers)
	c.OfferCodes = slices.Clone(o.OfferCodes)
	return &c
}

// memTx implements Ledger and product.Inventory. Callers hold s.mu.
type memTx struct {
	s *memStore
}

func (t *memTx) Create(_ context.Context, o *Order) error {
	if _, ok := t.s.orders[o.ID]; ok {
		return errors.Errorf("order %s exists", o.ID)
	}
	t.s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (t *memTx) Get(_ context.Context, id string) (*Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) LockByID(ctx context.Context, id string) (*Order, error) {
	return t.Get(ctx, id)
}

func (t *memTx) LockByPaymentRef(_ context.Context, ref string) (*Order, error) {
	for _, o := range t.s.orders {
		if o.PaymentRef == ref {
			return cloneOrder(o), nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ClaimAbandoned(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	var claimed []*Order
	for _, id := range slices.Sorted(maps.Keys(t.s.orders)) {
		o := t.s.orders[id]
		if o.Status.AwaitingPayment() && o.StatusUpdatedAt.Before(cutoff) {
			claimed = append(claimed, o)
		}
	}
	slices.SortStableFunc(claimed, func(a, b *Order) int {
		return cmp.Compare(a.StatusUpdatedAt.UnixNano(), b.StatusUpdatedAt.UnixNano())
	})
	var ids []string
	for _, o := range claimed {
		if len(ids) == limit {
			break
		}
		ids = append(ids, o.ID)
	}
	return ids, nil
}

func (t *memTx) UpdateStatus(_ context.Context, id string, status Status, at time.Time) error {
	o, ok := t.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status, o.StatusUpdatedAt = status, at
	return nil
}

func (t *memTx) SetPaymentRef(_ context.Context, id, ref string) error {
	for _, o := range t.s.orders {
		if o.PaymentRef == ref && o.ID != id {
			return ErrPaymentRefConflict
		}
	}
	o, ok := t.s.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.PaymentRef = ref
	return nil
}

func (t *memTx) AppendHistory(_ context.Context, entry HistoryEntry) error {
	t.s.history = append(t.s.history, entry)
	return nil
}

func (t *memTx) History(_ context.Context, orderID string) ([]HistoryEntry, error) {
	var out []HistoryEntry
	for _, h := range t.s.history {
		if h.OrderID == orderID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (t *memTx) Reserve(_ context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	return p.Reserve(qty)
}

func (t *memTx) CommitReservation(_ context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	return p.CommitReservation(qty)
}

func (t *memTx) ReleaseReservation(_ context.Context, productID string, qty int) error {
	p, ok := t.s.products[productID]
	if !ok {
		return product.ErrNotFound
	}
	return p.ReleaseReservation(qty)
}

type recordingNotifier struct {
	mu      sync.Mutex
	changes []StatusChange
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, c StatusChange) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (n *recordingNotifier) published() []StatusChange {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.changes)
}
