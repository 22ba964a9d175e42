// README: Rider pool contract and the in-memory implementation (per-rider compare-and-swap).
package rider

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"dispatch/internal/types"
)

// Pool is the shared rider registry read by ranking and mutated only at commit.
type Pool interface {
	// Candidates returns Available riders, nearest first, within radiusKm of near
	// (radiusKm <= 0 disables the radius).
	Candidates(ctx context.Context, near types.Point, radiusKm float64) ([]Rider, error)
	// Reserve moves a rider Available->Busy for orderID if its Version still equals version.
	Reserve(ctx context.Context, riderID types.ID, version int64, orderID types.ID) error
	// Release drops the rider's hold on orderID; a Busy rider becomes Available,
	// an Offline one stays Offline.
	Release(ctx context.Context, riderID, orderID types.ID) error
	// SetAvailability applies a rider event. Going Offline keeps the order hold, and
	// coming back Available while holding an order lands in Busy.
	SetAvailability(ctx context.Context, riderID types.ID, to Availability) error
	UpdatePosition(ctx context.Context, riderID types.ID, pos types.Point) error
	Register(ctx context.Context, r Rider) error
	Get(ctx context.Context, riderID types.ID) (Rider, error)
}

// MemoryPool keeps each rider behind its own atomic pointer. Commits swap the
// pointer with CompareAndSwap, so reservations of different riders never contend.
type MemoryPool struct {
	mu     sync.RWMutex // guards the map itself, not rider state
	riders map[types.ID]*atomic.Pointer[Rider]
	now    func() time.Time
}

func NewMemoryPool() *MemoryPool {
	return &MemoryPool{riders: make(map[types.ID]*atomic.Pointer[Rider]), now: time.Now}
}

func (p *MemoryPool) slot(id types.ID) (*atomic.Pointer[Rider], bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.riders[id]
	return s, ok
}

func (p *MemoryPool) Register(_ context.Context, r Rider) error {
	if r.Availability == "" {
		r.Availability = Offline
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = p.now()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.riders[r.ID]; ok {
		return ErrExists
	}
	s := &atomic.Pointer[Rider]{}
	cp := r
	s.Store(&cp)
	p.riders[r.ID] = s
	return nil
}

func (p *MemoryPool) Get(_ context.Context, id types.ID) (Rider, error) {
	s, ok := p.slot(id)
	if !ok {
		return Rider{}, ErrNotFound
	}
	return *s.Load(), nil
}

func (p *MemoryPool) Candidates(ctx context.Context, near types.Point, radiusKm float64) ([]Rider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.RLock()
	snap := make([]Rider, 0, len(p.riders))
	for _, s := range p.riders {
		snap = append(snap, *s.Load())
	}
	p.mu.RUnlock()

	type withDist struct {
		r  Rider
		km float64
	}
	out := make([]withDist, 0, len(snap))
	for _, r := range snap {
		if r.Availability != Available {
			continue
		}
		km := types.HaversineKm(r.Position, near)
		if radiusKm > 0 && km > radiusKm {
			continue
		}
		out = append(out, withDist{r: r, km: km})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].km != out[j].km {
			return out[i].km < out[j].km
		}
		return out[i].r.ID < out[j].r.ID
	})
	riders := make([]Rider, len(out))
	for i := range out {
		riders[i] = out[i].r
	}
	return riders, nil
}

func (p *MemoryPool) Reserve(_ context.Context, riderID types.ID, version int64, orderID types.ID) error {
	s, ok := p.slot(riderID)
	if !ok {
		return ErrNotFound
	}
	cur := s.Load()
	if cur.Availability != Available || cur.Version != version {
		return ErrAlreadyReserved
	}
	next := *cur
	next.Availability = Busy
	oid := orderID
	next.OrderID = &oid
	next.Version++
	next.UpdatedAt = p.now()
	if !s.CompareAndSwap(cur, &next) {
		return ErrAlreadyReserved
	}
	return nil
}

func (p *MemoryPool) Release(_ context.Context, riderID, orderID types.ID) error {
	return p.update(riderID, func(cur Rider) (Rider, error) {
		if cur.OrderID == nil || *cur.OrderID != orderID {
			return cur, ErrNotHeldByOrder
		}
		// An offline rider finishing delivery stays offline.
		if cur.Availability == Busy {
			cur.Availability = Available
		}
		cur.OrderID = nil
		cur.Version++
		return cur, nil
	})
}

func (p *MemoryPool) SetAvailability(_ context.Context, riderID types.ID, to Availability) error {
	return p.update(riderID, func(cur Rider) (Rider, error) {
		if cur.Availability == to {
			return cur, nil
		}
		// Busy is entered through Reserve and left through Release or Offline.
		if to == Busy || cur.Availability == Busy && to == Available || !CanTransition(cur.Availability, to) {
			return cur, ErrInvalidTransition
		}
		cur.Availability = to
		// A rider coming back online still holds its order until Release.
		if to == Available && cur.OrderID != nil {
			cur.Availability = Busy
		}
		cur.Version++
		return cur, nil
	})
}

// UpdatePosition does not bump Version: moving does not invalidate a ranking snapshot.
func (p *MemoryPool) UpdatePosition(_ context.Context, riderID types.ID, pos types.Point) error {
	return p.update(riderID, func(cur Rider) (Rider, error) {
		cur.Position = pos
		return cur, nil
	})
}

// update applies fn with a CAS retry loop; fn must be side-effect free.
func (p *MemoryPool) update(riderID types.ID, fn func(Rider) (Rider, error)) error {
	s, ok := p.slot(riderID)
	if !ok {
		return ErrNotFound
	}
	for {
		cur := s.Load()
		next, err := fn(*cur)
		if err != nil {
			return err
		}
		next.UpdatedAt = p.now()
		if s.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}
