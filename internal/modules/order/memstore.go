// README: In-memory order repository used by tests, the bench and DB-less local runs.
package order

import (
	"context"
	"sort"
	"sync"
	"time"

	"dispatch/internal/types"
)

type MemoryStore struct {
	mu     sync.Mutex
	orders map[types.ID]*Order
	events []Event
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[types.ID]*Order)}
}

func (m *MemoryStore) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.ID]; ok {
		return ErrConflict
	}
	m.orders[o.ID] = cloneOrder(o)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneOrder(o), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id types.ID, from, to Status, version int, upd StatusUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok || o.Status != from || o.StatusVersion != version {
		return false, nil
	}
	o.Status = to
	o.StatusVersion++
	if upd.Dispatch != nil {
		d := *upd.Dispatch
		o.Dispatch = &d
	}
	if upd.Reason != "" {
		r := upd.Reason
		o.UnassignableReason = &r
	}
	if to == StatusDelivered {
		now := time.Now()
		o.DeliveredAt = &now
	}
	return true, nil
}

func (m *MemoryStore) ListPending(_ context.Context, limit int) ([]*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Order
	for _, o := range m.orders {
		if o.Status == StatusPending {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev := *e
	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns the recorded transitions for an order in append order.
func (m *MemoryStore) Events(id types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.OrderID == id {
			out = append(out, e)
		}
	}
	return out
}

func cloneOrder(o *Order) *Order {
	cp := *o
	if o.Items != nil {
		cp.Items = make(map[string]int, len(o.Items))
		for k, v := range o.Items {
			cp.Items[k] = v
		}
	}
	if o.Dispatch != nil {
		d := *o.Dispatch
		cp.Dispatch = &d
	}
	return &cp
}
