// README: Coordinator is the host boundary: idempotent assignment, order commit, release and sweep.
package assignment

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"dispatch/internal/metrics"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/rider"
	"dispatch/internal/types"
)

type Assigner interface {
	Assign(ctx context.Context, o *order.Order) (Outcome, error)
}

// Orders is the slice of the order service the coordinator drives.
type Orders interface {
	Get(ctx context.Context, id types.ID) (*order.Order, error)
	ListPending(ctx context.Context, limit int) ([]*order.Order, error)
	MarkAssigned(ctx context.Context, cmd order.AssignCommand) error
	MarkUnassignable(ctx context.Context, cmd order.RejectCommand) error
	MarkDelivered(ctx context.Context, id types.ID) (*order.Order, error)
}

type Coordinator struct {
	orders Orders
	engine Assigner
	pool   rider.Pool
	sinks  *FanOut
	group  singleflight.Group
	now    func() time.Time
	logger *slog.Logger

	mu      sync.Mutex
	flights map[types.ID]*flight
}

// flight is the context of one shared attempt. It is cancelled only when every
// caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func NewCoordinator(orders Orders, engine Assigner, pool rider.Pool, sinks *FanOut, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if sinks == nil {
		sinks = NewFanOut(logger)
	}
	return &Coordinator{
		orders: orders,
		engine: engine,
		pool:   pool,
		sinks:  sinks,
		now:     time.Now,
		logger:  logger.With("component", "assignment_coordinator"),
		flights: make(map[types.ID]*flight),
	}
}

// AssignOrder runs one assignment attempt for orderID. Orders that already left
// Pending return their stored outcome without touching the pool, and concurrent
// calls for the same order share one attempt. A caller that gives up gets a
// cancelled outcome; the attempt itself keeps running while other callers wait.
func (c *Coordinator) AssignOrder(ctx context.Context, orderID types.ID) (Outcome, error) {
	for attempt := 0; ; attempt++ {
		f := c.join(ctx, orderID)
		ch := c.group.DoChan(string(orderID), func() (any, error) {
			return c.assign(f.ctx, orderID)
		})
		select {
		case res := <-ch:
			c.leave(orderID, f)
			if res.Err != nil {
				return Outcome{}, res.Err
			}
			out := res.Val.(Outcome)
			// Joined an attempt every earlier caller abandoned; start a fresh one.
			if out.Reason == ReasonCancelled && ctx.Err() == nil && attempt < 2 {
				continue
			}
			return out, nil
		case <-ctx.Done():
			c.leave(orderID, f)
			return unassignable(orderID, ReasonCancelled, ctx.Err().Error(), nil), nil
		}
	}
}

func (c *Coordinator) join(ctx context.Context, orderID types.ID) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[orderID]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[orderID] = f
	}
	f.waiters++
	return f
}

func (c *Coordinator) leave(orderID types.ID, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if c.flights[orderID] == f {
		delete(c.flights, orderID)
	}
}

func (c *Coordinator) assign(ctx context.Context, orderID types.ID) (Outcome, error) {
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return Outcome{}, err
	}
	if o.Terminal() {
		return FromOrder(o), nil
	}

	start := c.now()
	out, err := c.engine.Assign(ctx, o)
	metrics.AssignmentDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.logger.Error("assignment configuration error", "order_id", o.ID, "error", err)
		return Outcome{}, err
	}
	for _, d := range out.Drops {
		metrics.CandidateDrops.WithLabelValues(string(d.Reason)).Inc()
	}

	switch {
	case out.IsAssigned():
		return c.commitAssigned(ctx, o, out)
	case out.Reason.Terminal():
		err := c.orders.MarkUnassignable(ctx, order.RejectCommand{Order: o, Reason: string(out.Reason)})
		if errors.Is(err, order.ErrConflict) || errors.Is(err, order.ErrInvalidState) {
			return c.stored(ctx, orderID)
		}
		if err != nil {
			return Outcome{}, err
		}
		o.Status = order.StatusUnassignable
	}

	c.observe(out)
	c.logger.Info("order not assigned", "order_id", o.ID, "reason", out.Reason, "detail", out.Detail, "dropped", len(out.Drops))
	c.record(ctx, o, out)
	return out, nil
}

func (c *Coordinator) commitAssigned(ctx context.Context, o *order.Order, out Outcome) (Outcome, error) {
	a := out.Assigned
	d := order.Dispatch{
		RiderID:     a.RiderID,
		Ready:       a.Ready,
		Travel:      a.Travel,
		PickupETA:   a.PickupETA,
		DeliveryETA: a.DeliveryETA,
		AssignedAt:  c.now(),
	}
	err := c.orders.MarkAssigned(ctx, order.AssignCommand{Order: o, Dispatch: d})
	if err != nil {
		// The order moved under us; give the rider back before reporting.
		if rerr := c.pool.Release(context.WithoutCancel(ctx), a.RiderID, o.ID); rerr != nil {
			c.logger.Error("release after failed commit", "order_id", o.ID, "rider_id", a.RiderID, "error", rerr)
		}
		if errors.Is(err, order.ErrConflict) || errors.Is(err, order.ErrInvalidState) {
			return c.stored(ctx, o.ID)
		}
		return Outcome{}, err
	}
	o.Status = order.StatusAssigned
	o.Dispatch = &d

	c.observe(out)
	c.logger.Info("order assigned",
		"order_id", o.ID,
		"rider_id", a.RiderID,
		"ready", a.Ready,
		"travel", a.Travel,
		"pickup_eta", a.PickupETA,
		"rank", a.Rank,
		"candidates", a.Candidates,
	)
	c.record(ctx, o, out)
	return out, nil
}

func (c *Coordinator) stored(ctx context.Context, orderID types.ID) (Outcome, error) {
	o, err := c.orders.Get(context.WithoutCancel(ctx), orderID)
	if err != nil {
		return Outcome{}, err
	}
	if !o.Terminal() {
		return Outcome{OrderID: orderID, Reason: ReasonContention, Detail: "order changed during assignment"}, nil
	}
	return FromOrder(o), nil
}

func (c *Coordinator) observe(out Outcome) {
	if out.IsAssigned() {
		metrics.AssignmentOutcomes.WithLabelValues("assigned", "").Inc()
		return
	}
	metrics.AssignmentOutcomes.WithLabelValues("unassignable", string(out.Reason)).Inc()
}

func (c *Coordinator) record(ctx context.Context, o *order.Order, out Outcome) {
	c.sinks.Record(ctx, Record{ID: uuid.NewString(), Order: o, Outcome: out, At: c.now()})
}

// Release completes delivery of orderID and returns its rider to the pool.
func (c *Coordinator) Release(ctx context.Context, orderID types.ID) (*order.Order, error) {
	prev, err := c.orders.MarkDelivered(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if prev.Dispatch == nil {
		return prev, nil
	}
	if err := c.pool.Release(ctx, prev.Dispatch.RiderID, orderID); err != nil {
		if !errors.Is(err, rider.ErrNotHeldByOrder) {
			return nil, err
		}
		c.logger.Warn("rider did not hold delivered order", "order_id", orderID, "rider_id", prev.Dispatch.RiderID)
		return prev, nil
	}
	c.logger.Info("rider released", "order_id", orderID, "rider_id", prev.Dispatch.RiderID)
	return prev, nil
}

type SweepResult struct {
	Assigned    int       `json:"assigned"`
	NotAssigned int       `json:"not_assigned"`
	Details     []Outcome `json:"-"`
}

// Sweep attempts every pending order, oldest first, up to limit.
func (c *Coordinator) Sweep(ctx context.Context, limit int) (SweepResult, error) {
	pending, err := c.orders.ListPending(ctx, limit)
	if err != nil {
		return SweepResult{}, err
	}
	var res SweepResult
	for _, o := range pending {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		out, err := c.AssignOrder(ctx, o.ID)
		if err != nil {
			return res, err
		}
		if out.IsAssigned() {
			res.Assigned++
		} else {
			res.NotAssigned++
		}
		res.Details = append(res.Details, out)
	}
	return res, nil
}
