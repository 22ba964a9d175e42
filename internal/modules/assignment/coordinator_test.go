package assignment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dispatch/internal/modules/order"
	"dispatch/internal/modules/rider"
	"dispatch/internal/types"
)

type captureSink struct {
	mu   sync.Mutex
	recs []Record
	err  error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Record(_ context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return s.err
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type coordFixture struct {
	*fixture
	orders *order.Service
	sink   *captureSink
	coord  *Coordinator
}

func newCoordFixture(t *testing.T) *coordFixture {
	t.Helper()
	f := newFixture(t)
	orders := order.NewService(order.NewMemoryStore(), f.zones)
	sink := &captureSink{}
	failing := &captureSink{err: errors.New("broker down")}
	coord := NewCoordinator(orders, f.engine(nil), f.pool, NewFanOut(nil, failing, sink), nil)
	return &coordFixture{fixture: f, orders: orders, sink: sink, coord: coord}
}

func (c *coordFixture) createOrder(t *testing.T, dropoff types.Point, items map[string]int) *order.Order {
	t.Helper()
	o, err := c.orders.Create(context.Background(), order.CreateCommand{
		CustomerID: "c1",
		Pickup:     pickup,
		Dropoff:    dropoff,
		Items:      items,
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

func TestAssignOrder_IdempotentForAssignedOrder(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.addRider(t, "R2", posR2)
	c.geo.on(posR1, ok(4*time.Minute)).on(posR2, ok(6*time.Minute))
	o := c.createOrder(t, dropoff, map[string]int{"fries": 1})

	first, err := c.coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("first assign: %v", err)
	}
	if !first.IsAssigned() || first.Assigned.RiderID != "R1" {
		t.Fatalf("expected R1, got %+v", first)
	}
	r1 := riderState(t, c.pool, "R1")
	r2 := riderState(t, c.pool, "R2")

	second, err := c.coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("second assign: %v", err)
	}
	if !second.Replayed || second.Assigned == nil || second.Assigned.RiderID != "R1" {
		t.Fatalf("expected replayed R1, got %+v", second)
	}
	if second.Assigned.PickupETA != first.Assigned.PickupETA {
		t.Fatalf("stored result changed: %s vs %s", second.Assigned.PickupETA, first.Assigned.PickupETA)
	}
	if got := riderState(t, c.pool, "R1"); got.Version != r1.Version {
		t.Fatalf("R1 mutated on replay: %+v", got)
	}
	if got := riderState(t, c.pool, "R2"); got.Version != r2.Version || got.Availability != rider.Available {
		t.Fatalf("R2 mutated on replay: %+v", got)
	}
	if c.sink.count() != 1 {
		t.Fatalf("expected one sink record, got %d", c.sink.count())
	}
	stored, _ := c.orders.Get(context.Background(), o.ID)
	if stored.Status != order.StatusAssigned || stored.Dispatch.RiderID != "R1" {
		t.Fatalf("unexpected stored order: %+v", stored)
	}
}

func TestAssignOrder_ConcurrentCallsShareOneAttempt(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.addRider(t, "R2", posR2)
	c.geo.on(posR1, ok(4*time.Minute)).on(posR2, ok(6*time.Minute))
	o := c.createOrder(t, dropoff, nil)

	var wg sync.WaitGroup
	outs := make([]Outcome, 8)
	for i := range outs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := c.coord.AssignOrder(context.Background(), o.ID)
			if err != nil {
				t.Errorf("assign: %v", err)
			}
			outs[i] = out
		}(i)
	}
	wg.Wait()

	for _, out := range outs {
		if !out.IsAssigned() || out.Assigned.RiderID != "R1" {
			t.Fatalf("expected every caller to see R1, got %+v", out)
		}
	}
	if r := riderState(t, c.pool, "R2"); r.Availability != rider.Available {
		t.Fatalf("second rider reserved for the same order: %+v", r)
	}
}

// gatedEngine holds every attempt until release is closed (or its context ends).
type gatedEngine struct {
	inner   Assigner
	started chan struct{}
	release chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newGatedEngine(inner Assigner) *gatedEngine {
	return &gatedEngine{inner: inner, started: make(chan struct{}), release: make(chan struct{}), done: make(chan struct{})}
}

func (g *gatedEngine) Assign(ctx context.Context, o *order.Order) (Outcome, error) {
	g.once.Do(func() { close(g.started) })
	defer func() {
		select {
		case <-g.done:
		default:
			close(g.done)
		}
	}()
	select {
	case <-g.release:
	case <-ctx.Done():
	}
	return g.inner.Assign(ctx, o)
}

func (c *Coordinator) waitersFor(id types.ID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f, ok := c.flights[id]; ok {
		return f.waiters
	}
	return 0
}

func TestAssignOrder_CallerCancelDoesNotCancelSharedAttempt(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.geo.on(posR1, ok(4*time.Minute))
	o := c.createOrder(t, dropoff, nil)
	gate := newGatedEngine(c.engine(nil))
	coord := NewCoordinator(c.orders, gate, c.pool, nil, nil)

	ctx1, cancel1 := context.WithCancel(context.Background())
	first := make(chan Outcome, 1)
	go func() {
		out, _ := coord.AssignOrder(ctx1, o.ID)
		first <- out
	}()
	<-gate.started
	second := make(chan Outcome, 1)
	go func() {
		out, _ := coord.AssignOrder(context.Background(), o.ID)
		second <- out
	}()
	deadline := time.Now().Add(2 * time.Second)
	for coord.waitersFor(o.ID) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("second caller never joined the attempt")
		}
		time.Sleep(time.Millisecond)
	}

	cancel1()
	if out := <-first; out.Reason != ReasonCancelled {
		t.Fatalf("cancelled caller: expected cancelled, got %+v", out)
	}
	close(gate.release)
	out := <-second
	if !out.IsAssigned() || out.Assigned.RiderID != "R1" {
		t.Fatalf("live caller should see the assignment, got %+v", out)
	}
	assertOrderStatus(t, c.orders, o.ID, order.StatusAssigned)
}

func TestAssignOrder_AllCallersCancelledLeavesOrderPending(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.geo.on(posR1, ok(4*time.Minute))
	o := c.createOrder(t, dropoff, nil)
	gate := newGatedEngine(c.engine(nil))
	coord := NewCoordinator(c.orders, gate, c.pool, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	res := make(chan Outcome, 1)
	go func() {
		out, _ := coord.AssignOrder(ctx, o.ID)
		res <- out
	}()
	<-gate.started
	cancel()
	if out := <-res; out.Reason != ReasonCancelled {
		t.Fatalf("expected cancelled, got %+v", out)
	}
	<-gate.done

	if r := riderState(t, c.pool, "R1"); r.Availability != rider.Available {
		t.Fatalf("abandoned attempt reserved a rider: %+v", r)
	}
	assertOrderStatus(t, c.orders, o.ID, order.StatusPending)
}

func assertOrderStatus(t *testing.T, orders *order.Service, id types.ID, want order.Status) {
	t.Helper()
	got, err := orders.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if got.Status != want {
		t.Fatalf("expected order %s, got %s", want, got.Status)
	}
}

func TestAssignOrder_OutOfZoneIsTerminal(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	o := c.createOrder(t, types.Point{Lat: 3, Lng: 3}, nil)

	out, err := c.coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if out.Reason != ReasonOutOfZone || !out.Replayed {
		t.Fatalf("expected stored out_of_zone, got %+v", out)
	}
}

func TestAssignOrder_UnzonedOrderMarkedUnassignable(t *testing.T) {
	c := newCoordFixture(t)
	store := order.NewMemoryStore()
	orders := order.NewService(store, nil)
	coord := NewCoordinator(orders, c.engine(nil), c.pool, nil, nil)
	o, err := orders.Create(context.Background(), order.CreateCommand{CustomerID: "c1", Pickup: pickup, Dropoff: types.Point{Lat: 3, Lng: 3}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if out.Reason != ReasonOutOfZone || out.Replayed {
		t.Fatalf("expected fresh out_of_zone, got %+v", out)
	}
	stored, _ := orders.Get(context.Background(), o.ID)
	if stored.Status != order.StatusUnassignable {
		t.Fatalf("expected unassignable, got %s", stored.Status)
	}
}

func TestAssignOrder_NoRidersKeepsOrderPending(t *testing.T) {
	c := newCoordFixture(t)
	o := c.createOrder(t, dropoff, nil)

	out, err := c.coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if out.Reason != ReasonNoRidersAvailable {
		t.Fatalf("expected no_riders_available, got %+v", out)
	}
	stored, _ := c.orders.Get(context.Background(), o.ID)
	if stored.Status != order.StatusPending {
		t.Fatalf("expected pending for retry, got %s", stored.Status)
	}

	// a rider comes online and the next attempt succeeds
	c.addRider(t, "R1", posR1)
	c.geo.on(posR1, ok(3*time.Minute))
	out, err = c.coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if !out.IsAssigned() {
		t.Fatalf("expected assignment on retry, got %+v", out)
	}
}

func TestAssignOrder_NotFound(t *testing.T) {
	c := newCoordFixture(t)
	if _, err := c.coord.AssignOrder(context.Background(), "missing"); !errors.Is(err, order.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// conflictingOrders simulates another writer committing the order first.
type conflictingOrders struct {
	*order.Service
	store *order.MemoryStore
}

func (c conflictingOrders) MarkAssigned(ctx context.Context, cmd order.AssignCommand) error {
	_, _ = c.store.UpdateStatus(ctx, cmd.Order.ID, order.StatusPending, order.StatusAssigned, cmd.Order.StatusVersion,
		order.StatusUpdate{Dispatch: &order.Dispatch{RiderID: "other", AssignedAt: time.Now()}})
	return c.Service.MarkAssigned(ctx, cmd)
}

func TestAssignOrder_CommitConflictReleasesRider(t *testing.T) {
	f := newFixture(t)
	f.addRider(t, "R1", posR1)
	f.geo.on(posR1, ok(3*time.Minute))
	store := order.NewMemoryStore()
	svc := order.NewService(store, f.zones)
	coord := NewCoordinator(conflictingOrders{Service: svc, store: store}, f.engine(nil), f.pool, nil, nil)
	o, err := svc.Create(context.Background(), order.CreateCommand{CustomerID: "c1", Pickup: pickup, Dropoff: dropoff})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	out, err := coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !out.Replayed || out.Assigned == nil || out.Assigned.RiderID != "other" {
		t.Fatalf("expected the stored winner, got %+v", out)
	}
	if r := riderState(t, f.pool, "R1"); r.Availability != rider.Available {
		t.Fatalf("R1 should be released after losing the commit: %+v", r)
	}
}

func TestRelease(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.geo.on(posR1, ok(3*time.Minute))
	o := c.createOrder(t, dropoff, nil)
	if _, err := c.coord.AssignOrder(context.Background(), o.ID); err != nil {
		t.Fatalf("assign: %v", err)
	}

	prev, err := c.coord.Release(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if prev.Dispatch.RiderID != "R1" {
		t.Fatalf("unexpected previous dispatch: %+v", prev.Dispatch)
	}
	if r := riderState(t, c.pool, "R1"); r.Availability != rider.Available || r.OrderID != nil {
		t.Fatalf("R1 not released: %+v", r)
	}
	if _, err := c.coord.Release(context.Background(), o.ID); !errors.Is(err, order.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState on second release, got %v", err)
	}
}

// TestRelease_RiderOfflineMidDelivery: the hold survives going offline, so a
// second order cannot take the rider and delivery still frees it.
func TestRelease_RiderOfflineMidDelivery(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.geo.on(posR1, ok(4*time.Minute))
	ctx := context.Background()
	o1 := c.createOrder(t, dropoff, nil)
	if out, err := c.coord.AssignOrder(ctx, o1.ID); err != nil || !out.IsAssigned() {
		t.Fatalf("assign o1: %+v %v", out, err)
	}
	if err := c.pool.SetAvailability(ctx, "R1", rider.Offline); err != nil {
		t.Fatalf("offline: %v", err)
	}
	if err := c.pool.SetAvailability(ctx, "R1", rider.Available); err != nil {
		t.Fatalf("online: %v", err)
	}

	o2 := c.createOrder(t, dropoff, nil)
	out, err := c.coord.AssignOrder(ctx, o2.ID)
	if err != nil {
		t.Fatalf("assign o2: %v", err)
	}
	if out.IsAssigned() {
		t.Fatalf("rider holding o1 was given o2: %+v", out)
	}
	if _, err := c.coord.Release(ctx, o1.ID); err != nil {
		t.Fatalf("release o1: %v", err)
	}
	if r := riderState(t, c.pool, "R1"); r.Availability != rider.Available || r.OrderID != nil {
		t.Fatalf("unexpected rider after delivery: %+v", r)
	}
}

func TestSweep(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.geo.on(posR1, ok(3*time.Minute))
	c.createOrder(t, dropoff, nil)
	c.createOrder(t, dropoff, nil)
	c.createOrder(t, types.Point{Lat: 9, Lng: 9}, nil)

	res, err := c.coord.Sweep(context.Background(), 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.Assigned != 1 || res.NotAssigned != 1 || len(res.Details) != 2 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}
	if res.Details[1].Reason != ReasonNoRidersAvailable {
		t.Fatalf("expected second order to wait for riders, got %+v", res.Details[1])
	}
}

func TestFanOutSinkFailureDoesNotChangeOutcome(t *testing.T) {
	c := newCoordFixture(t)
	c.addRider(t, "R1", posR1)
	c.geo.on(posR1, ok(3*time.Minute))
	o := c.createOrder(t, dropoff, nil)

	out, err := c.coord.AssignOrder(context.Background(), o.ID)
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if !out.IsAssigned() {
		t.Fatalf("expected assignment despite failing sink, got %+v", out)
	}
	if c.sink.count() != 1 {
		t.Fatalf("healthy sink should still receive the record")
	}
	rec := c.sink.recs[0]
	if rec.ID == "" || rec.Order.Status != order.StatusAssigned {
		t.Fatalf("unexpected record: %+v", rec)
	}
}
