// README: Order service implements intake, state transitions and persistence.
package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"dispatch/internal/modules/geo"
	"dispatch/internal/modules/zone"
	"dispatch/internal/types"
)

// ZoneLocator decides service-zone membership at intake.
type ZoneLocator interface {
	Locate(p types.Point) (*zone.Zone, error)
}

type Service struct {
	store    Repository
	zones    ZoneLocator
	geocoder geo.Geocoder
	fallback *types.Point
	now      func() time.Time
}

type Option func(*Service)

// WithGeocoder lets intake accept addresses in place of coordinates.
func WithGeocoder(g geo.Geocoder) Option {
	return func(s *Service) { s.geocoder = g }
}

// WithGeocodeFallback substitutes p for addresses the geocoder cannot find.
func WithGeocodeFallback(p types.Point) Option {
	return func(s *Service) { s.fallback = &p }
}

func NewService(store Repository, zones ZoneLocator, opts ...Option) *Service {
	s := &Service{store: store, zones: zones, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var (
	ErrInvalidState = errors.New("invalid state transition")
	ErrNotFound     = errors.New("order not found")
	ErrConflict     = errors.New("order state conflict")
	ErrBadRequest   = errors.New("bad request")
)

// CreateCommand carries intake input. A non-empty address wins over the
// matching point and is geocoded before validation.
type CreateCommand struct {
	CustomerID     types.ID
	Pickup         types.Point
	Dropoff        types.Point
	PickupAddress  string
	DropoffAddress string
	Items          map[string]int
}

type AssignCommand struct {
	Order    *Order
	Dispatch Dispatch
}

type RejectCommand struct {
	Order  *Order
	Reason string
}

// Create stores a new order. Zone membership is decided here and never again:
// a drop-off outside every zone is stored directly as unassignable.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	var err error
	if cmd.Pickup, err = s.resolve(ctx, cmd.PickupAddress, cmd.Pickup); err != nil {
		return nil, err
	}
	if cmd.Dropoff, err = s.resolve(ctx, cmd.DropoffAddress, cmd.Dropoff); err != nil {
		return nil, err
	}
	if cmd.CustomerID == "" || !cmd.Pickup.Valid() || !cmd.Dropoff.Valid() {
		return nil, ErrBadRequest
	}
	for item, qty := range cmd.Items {
		if item == "" || qty <= 0 {
			return nil, ErrBadRequest
		}
	}

	o := &Order{
		ID:            types.ID(uuid.NewString()),
		CustomerID:    cmd.CustomerID,
		Pickup:        cmd.Pickup,
		Dropoff:       cmd.Dropoff,
		Items:         cmd.Items,
		Status:        StatusPending,
		StatusVersion: 0,
		CreatedAt:     s.now(),
	}
	if s.zones != nil {
		z, err := s.zones.Locate(cmd.Dropoff)
		if err != nil {
			return nil, err
		}
		if z == nil {
			reason := ReasonOutOfZone
			o.Status = StatusUnassignable
			o.UnassignableReason = &reason
		} else {
			id := z.ID
			o.ZoneID = &id
		}
	}
	if err := s.store.Create(ctx, o); err != nil {
		return nil, err
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: StatusNone,
		ToStatus:   o.Status,
		ActorType:  "customer",
		ActorID:    &cmd.CustomerID,
		CreatedAt:  o.CreatedAt,
	})
	return o, nil
}

func (s *Service) resolve(ctx context.Context, address string, p types.Point) (types.Point, error) {
	address = strings.Join(strings.Fields(address), " ")
	if address == "" {
		return p, nil
	}
	if s.geocoder == nil {
		return types.Point{}, fmt.Errorf("%w: addresses are not accepted", ErrBadRequest)
	}
	got, err := s.geocoder.Geocode(ctx, address)
	switch {
	case err == nil:
		return got, nil
	case errors.Is(err, geo.ErrAddressNotFound) && s.fallback != nil:
		return *s.fallback, nil
	case errors.Is(err, geo.ErrAddressNotFound):
		return types.Point{}, fmt.Errorf("%w: address %q not found", ErrBadRequest, address)
	default:
		return types.Point{}, err
	}
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]*Order, error) {
	return s.store.ListPending(ctx, limit)
}

// MarkAssigned commits Pending->Assigned against the version the caller read.
func (s *Service) MarkAssigned(ctx context.Context, cmd AssignCommand) error {
	o := cmd.Order
	if !CanTransition(o.Status, StatusAssigned) {
		return ErrInvalidState
	}
	d := cmd.Dispatch
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusAssigned, o.StatusVersion, StatusUpdate{Dispatch: &d})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusAssigned,
		ActorType:  "system",
		ActorID:    &d.RiderID,
		CreatedAt:  s.now(),
	})
	return nil
}

// MarkUnassignable commits Pending->Unassignable; used for terminal reasons only.
func (s *Service) MarkUnassignable(ctx context.Context, cmd RejectCommand) error {
	o := cmd.Order
	if !CanTransition(o.Status, StatusUnassignable) {
		return ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusUnassignable, o.StatusVersion, StatusUpdate{Reason: cmd.Reason})
	if err != nil {
		return err
	}
	if !ok {
		return ErrConflict
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusUnassignable,
		ActorType:  "system",
		CreatedAt:  s.now(),
	})
	return nil
}

// MarkDelivered moves Assigned->Delivered and returns the order as it was before the change.
func (s *Service) MarkDelivered(ctx context.Context, id types.ID) (*Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(o.Status, StatusDelivered) {
		return nil, ErrInvalidState
	}
	ok, err := s.store.UpdateStatus(ctx, o.ID, o.Status, StatusDelivered, o.StatusVersion, StatusUpdate{})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	var actor *types.ID
	if o.Dispatch != nil {
		actor = &o.Dispatch.RiderID
	}
	_ = s.store.AppendEvent(ctx, &Event{
		OrderID:    o.ID,
		FromStatus: o.Status,
		ToStatus:   StatusDelivered,
		ActorType:  "rider",
		ActorID:    actor,
		CreatedAt:  s.now(),
	})
	return o, nil
}
