// README: Assignment engine: zone gate, prep estimate, concurrent ranking and reservation.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"dispatch/internal/config"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/geo"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/preptime"
	"dispatch/internal/modules/rider"
	"dispatch/internal/modules/zone"
	"dispatch/internal/types"
)

// Zones resolves service zones; *zone.Registry implements it.
type Zones interface {
	Locate(p types.Point) (*zone.Zone, error)
	Get(id string) (*zone.Zone, bool)
}

// PrepEstimator returns how long the kitchen needs for a basket; *preptime.Lookup implements it.
type PrepEstimator interface {
	EstimateReadyDuration(items map[string]int) (time.Duration, error)
}

// RouteFilter narrows candidates to the riders routed to a zone; *rider.Routes implements it.
type RouteFilter interface {
	Filter(zoneID string, riders []rider.Rider) []rider.Rider
}

type EngineOption func(*Engine)

func WithRoutes(r RouteFilter) EngineOption {
	return func(e *Engine) { e.routes = r }
}

type Engine struct {
	zones  Zones
	prep   PrepEstimator
	geo    geo.Estimator
	pool   rider.Pool
	routes RouteFilter
	cfg    config.AssignmentConfig
	logger *slog.Logger
}

// NewEngine wraps est with bounded retries taken from cfg.
func NewEngine(zones Zones, prep PrepEstimator, est geo.Estimator, pool rider.Pool, cfg config.AssignmentConfig, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "assignment_engine")
	policy := geo.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.GeoMaxAttempts
	if cfg.GeoBaseDelay > 0 {
		policy.BaseDelay = cfg.GeoBaseDelay
	}
	retrying := geo.NewRetrying(est, policy)
	retrying.OnRetry = func(attempt int, err error) {
		metrics.GeoRetries.Inc()
		logger.Debug("retrying travel estimate", "attempt", attempt, "error", err)
	}
	if cfg.GeoConcurrency < 1 {
		cfg.GeoConcurrency = 1
	}
	e := &Engine{zones: zones, prep: prep, geo: retrying, pool: pool, cfg: cfg, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Assign picks a rider for o and reserves it in the pool. Every business
// condition is reported through Outcome; the error is reserved for broken
// reference data (zone rings, prep table).
func (e *Engine) Assign(ctx context.Context, o *order.Order) (Outcome, error) {
	z, err := e.zoneFor(o)
	if err != nil {
		return Outcome{}, err
	}
	if z == nil {
		return unassignable(o.ID, ReasonOutOfZone, "", nil), nil
	}

	ready, err := e.prep.EstimateReadyDuration(o.Items)
	if err != nil {
		var unknown *preptime.UnknownItemError
		if errors.As(err, &unknown) {
			return unassignable(o.ID, ReasonUnknownItem, unknown.Item, nil), nil
		}
		return Outcome{}, err
	}

	if ctx.Err() != nil {
		return unassignable(o.ID, ReasonCancelled, ctx.Err().Error(), nil), nil
	}
	candidates, err := e.pool.Candidates(ctx, o.Pickup, e.cfg.RadiusKm)
	if err != nil {
		if ctx.Err() != nil {
			return unassignable(o.ID, ReasonCancelled, ctx.Err().Error(), nil), nil
		}
		e.logger.Warn("rider pool unavailable", "order_id", o.ID, "error", err)
		return unassignable(o.ID, ReasonNoRidersAvailable, "rider pool unavailable", nil), nil
	}
	if len(candidates) == 0 {
		return unassignable(o.ID, ReasonNoRidersAvailable, "", nil), nil
	}
	if e.routes != nil {
		candidates = e.routes.Filter(z.ID, candidates)
	}

	scores, leg, drops := e.score(ctx, o, z, ready, candidates)
	if ctx.Err() != nil {
		return unassignable(o.ID, ReasonCancelled, ctx.Err().Error(), drops), nil
	}
	if len(scores) == 0 {
		return unassignable(o.ID, ReasonNoRidersAvailable, "all candidates dropped", drops), nil
	}
	rank(scores)

	for i, c := range scores {
		// Past this point a reservation would outlive a cancelled caller.
		if ctx.Err() != nil {
			return unassignable(o.ID, ReasonCancelled, ctx.Err().Error(), drops), nil
		}
		err := e.pool.Reserve(ctx, c.RiderID, c.Version, o.ID)
		switch {
		case err == nil:
		case errors.Is(err, rider.ErrAlreadyReserved):
			drops = append(drops, Drop{RiderID: c.RiderID, Reason: DropReserveConflict, Detail: err.Error()})
			continue
		case errors.Is(err, rider.ErrNotFound):
			drops = append(drops, Drop{RiderID: c.RiderID, Reason: DropRiderGone, Detail: err.Error()})
			continue
		default:
			e.logger.Warn("rider pool unavailable", "order_id", o.ID, "rider_id", c.RiderID, "error", err)
			return unassignable(o.ID, ReasonNoRidersAvailable, "rider pool unavailable", drops), nil
		}
		a := &Assignment{
			RiderID:       c.RiderID,
			RiderPosition: c.Position,
			Ready:         c.Ready,
			Travel:        c.Travel,
			PickupETA:     c.Key,
			Rank:          i,
			Candidates:    len(candidates),
		}
		if leg != nil {
			a.DeliveryETA = a.PickupETA + leg.Duration
		}
		return assigned(o.ID, a, scores, drops), nil
	}
	return unassignable(o.ID, ReasonContention, fmt.Sprintf("%d candidates taken", len(scores)), drops), nil
}

// zoneFor trusts the zone recorded at intake and only validates the drop-off
// for orders that never went through intake.
func (e *Engine) zoneFor(o *order.Order) (*zone.Zone, error) {
	if o.ZoneID != nil {
		if z, ok := e.zones.Get(*o.ZoneID); ok {
			return z, nil
		}
		// Zone retired after intake; membership stands, the travel window does not.
		return &zone.Zone{ID: *o.ZoneID}, nil
	}
	return e.zones.Locate(o.Dropoff)
}

type estimate struct {
	travel geo.Travel
	err    error
}

// score estimates travel for every candidate concurrently under RankTimeout.
// The pickup to drop-off leg is estimated alongside and is best effort.
func (e *Engine) score(ctx context.Context, o *order.Order, z *zone.Zone, ready time.Duration, candidates []rider.Rider) ([]CandidateScore, *geo.Travel, []Drop) {
	rankCtx, cancel := context.WithTimeout(ctx, e.cfg.RankTimeout)
	defer cancel()

	results := make([]estimate, len(candidates))
	var g errgroup.Group
	g.SetLimit(e.cfg.GeoConcurrency)

	var leg *geo.Travel
	legDone := make(chan struct{})
	go func() {
		defer close(legDone)
		t, err := e.geo.EstimateTravel(rankCtx, o.Pickup, o.Dropoff)
		if err != nil {
			e.logger.Debug("delivery leg unavailable", "order_id", o.ID, "error", err)
			return
		}
		leg = &t
	}()

	for i := range candidates {
		g.Go(func() error {
			if rankCtx.Err() != nil {
				results[i] = estimate{err: rankCtx.Err()}
				return nil
			}
			t, err := e.geo.EstimateTravel(rankCtx, candidates[i].Position, o.Pickup)
			results[i] = estimate{travel: t, err: err}
			return nil
		})
	}
	_ = g.Wait()
	timedOut := rankCtx.Err() != nil && ctx.Err() == nil
	<-legDone

	scores := make([]CandidateScore, 0, len(candidates))
	var drops []Drop
	for i, c := range candidates {
		r := results[i]
		if r.err != nil {
			drops = append(drops, Drop{RiderID: c.ID, Reason: dropReason(r.err, timedOut), Detail: r.err.Error()})
			continue
		}
		if z.MaxTravel > 0 && r.travel.Duration > z.MaxTravel {
			drops = append(drops, Drop{RiderID: c.ID, Reason: DropOutOfWindow,
				Detail: fmt.Sprintf("travel %s exceeds %s", r.travel.Duration, z.MaxTravel)})
			continue
		}
		scores = append(scores, CandidateScore{
			RiderID:        c.ID,
			Position:       c.Position,
			Version:        c.Version,
			DistanceMeters: r.travel.DistanceMeters,
			Travel:         r.travel.Duration,
			Ready:          ready,
			Key:            maxDuration(ready, r.travel.Duration),
		})
	}
	for _, d := range drops {
		e.logger.Warn("candidate dropped", "order_id", o.ID, "rider_id", d.RiderID, "reason", d.Reason, "detail", d.Detail)
	}
	return scores, leg, drops
}

func dropReason(err error, timedOut bool) DropReason {
	switch {
	case geo.IsPermanent(err):
		return DropPermanentError
	case timedOut && errors.Is(err, context.DeadlineExceeded):
		return DropTimeout
	default:
		return DropTransientExhausted
	}
}
