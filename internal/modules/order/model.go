// README: Order aggregate and status definitions.
package order

import (
	"time"

	"dispatch/internal/types"
)

type Status string

const (
	StatusNone         Status = "none"
	StatusPending      Status = "pending"
	StatusAssigned     Status = "assigned"
	StatusUnassignable Status = "unassignable"
	StatusDelivered    Status = "delivered"
)

// ReasonOutOfZone is recorded at intake when the drop-off lies outside every service zone.
const ReasonOutOfZone = "out_of_zone"

type Order struct {
	ID            types.ID
	CustomerID    types.ID
	Pickup        types.Point
	Dropoff       types.Point
	Items         map[string]int
	Status        Status
	StatusVersion int
	// ZoneID is decided once at intake; nil means the drop-off was not checked yet.
	ZoneID             *string
	Dispatch           *Dispatch
	UnassignableReason *string
	CreatedAt          time.Time
	DeliveredAt        *time.Time
}

// Dispatch is the committed assignment stored with the order.
type Dispatch struct {
	RiderID     types.ID
	Ready       time.Duration
	Travel      time.Duration
	PickupETA   time.Duration
	DeliveryETA time.Duration
	AssignedAt  time.Time
}

type Event struct {
	ID         int64
	OrderID    types.ID
	FromStatus Status
	ToStatus   Status
	ActorType  string
	ActorID    *types.ID
	CreatedAt  time.Time
}

// StatusUpdate carries the fields written together with a status change.
type StatusUpdate struct {
	Dispatch *Dispatch
	Reason   string
}

// AllowedTransitions represents the order state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:  {StatusAssigned, StatusUnassignable},
	StatusAssigned: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further assignment attempt can change the order.
func (o *Order) Terminal() bool {
	return o.Status != StatusPending
}
