package orders

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/storefront/internal/catalog"
	"github.com/joao-fontenele/storefront/internal/domain"
)

// memStore is an in-memory Store. Transactions are serialized and a failed
// transaction restores the snapshot taken when it began.
type memStore struct {
	mu          sync.Mutex
	products    map[string]domain.Product
	orders      map[string]domain.Order
	events      []domain.OrderEvent
	idempotency map[string]string

	// failEnqueue makes Enqueue fail, to exercise rollback.
	failEnqueue bool
}

func newMemStore(products ...domain.Product) *memStore {
	s := &memStore{
		products:    map[string]domain.Product{},
		orders:      map[string]domain.Order{},
		idempotency: map[string]string{},
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

type memSnapshot struct {
	products    map[string]domain.Product
	orders      map[string]domain.Order
	events      []domain.OrderEvent
	idempotency map[string]string
}

func (s *memStore) snapshot() memSnapshot {
	snap := memSnapshot{
		products:    make(map[string]domain.Product, len(s.products)),
		orders:      make(map[string]domain.Order, len(s.orders)),
		events:      append([]domain.OrderEvent(nil), s.events...),
		idempotency: make(map[string]string, len(s.idempotency)),
	}
	for k, v := range s.products {
		snap.products[k] = v
	}
	for k, v := range s.orders {
		snap.orders[k] = cloneOrder(v)
	}
	for k, v := range s.idempotency {
		snap.idempotency[k] = v
	}
	return snap
}

func (s *memStore) restore(snap memSnapshot) {
	s.products = snap.products
	s.orders = snap.orders
	s.events = snap.events
	s.idempotency = snap.idempotency
}

func cloneOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.OrderItem(nil), o.Items...)
	o.Timeline = append([]domain.TimelineEntry(nil), o.Timeline...)
	if o.Tracking != nil {
		t := *o.Tracking
		o.Tracking = &t
	}
	if o.Cancellation != nil {
		c := *o.Cancellation
		o.Cancellation = &c
	}
	return o
}

func (s *memStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, nil
	}
	c := cloneOrder(o)
	return &c, nil
}

func (s *memStore) filtered(f domain.OrderFilter) []domain.Order {
	var out []domain.Order
	for _, o := range s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *memStore) List(_ context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.filtered(f)
	start := (f.Page - 1) * f.Limit
	if start >= len(all) {
		return []domain.Order{}, nil
	}
	end := start + f.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], nil
}

func (s *memStore) Count(_ context.Context, f domain.OrderFilter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.filtered(f)), nil
}

func (s *memStore) FindByIdempotencyKey(_ context.Context, userID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idempotency[userID+"/"+key], nil
}

func (s *memStore) FindByIntent(_ context.Context, intentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if intentID != "" && o.Payment.IntentID == intentID {
			return o.ID, nil
		}
	}
	return "", nil
}

func (s *memStore) stock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id].Stock.Quantity
}

func (s *memStore) setPrice(id, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.Price = decimal.RequireFromString(price)
	s.products[id] = p
}

func (s *memStore) eventTypes() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make([]domain.EventType, len(s.events))
	for i, e := range s.events {
		types[i] = e.Type
	}
	return types
}

// memTx runs with memStore.mu held.
type memTx struct {
	s *memStore
}

func (t *memTx) Product(_ context.Context, id string) (*domain.Product, error) {
	p, ok := t.s.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (t *memTx) AdjustStock(_ context.Context, productID string, delta int) (int, error) {
	p, ok := t.s.products[productID]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	if !p.Stock.TrackInventory {
		return p.Stock.Quantity, nil
	}
	if p.Stock.Quantity+delta < 0 {
		return 0, catalog.ErrInsufficientStock
	}
	p.Stock.Quantity += delta
	t.s.products[productID] = p
	return p.Stock.Quantity, nil
}

func (t *memTx) InsertOrder(_ context.Context, o *domain.Order) error {
	if _, ok := t.s.orders[o.ID]; ok {
		return errors.New("duplicate order id")
	}
	t.s.orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id string) (*domain.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return nil, nil
	}
	c := cloneOrder(o)
	return &c, nil
}

func (t *memTx) UpdateOrder(_ context.Context, o *domain.Order) error {
	stored, ok := t.s.orders[o.ID]
	if !ok || stored.Version != o.Version {
		return ErrVersionConflict
	}
	o.Version++
	updated := cloneOrder(*o)
	updated.Timeline = stored.Timeline
	t.s.orders[o.ID] = updated
	return nil
}

func (t *memTx) AppendTimeline(_ context.Context, orderID string, e domain.TimelineEntry) error {
	o := t.s.orders[orderID]
	o.Timeline = append(o.Timeline, e)
	t.s.orders[orderID] = o
	return nil
}

func (t *memTx) Enqueue(_ context.Context, e domain.OrderEvent) error {
	if t.s.failEnqueue {
		return errors.New("outbox unavailable")
	}
	t.s.events = append(t.s.events, e)
	return nil
}

func (t *memTx) SaveIdempotencyKey(_ context.Context, userID, key, orderID string) error {
	k := userID + "/" + key
	if _, ok := t.s.idempotency[k]; ok {
		return ErrDuplicateIdempotencyKey
	}
	t.s.idempotency[k] = orderID
	return nil
}
