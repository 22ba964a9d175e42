// README: Rider aggregate, availability state machine and pool errors.
package rider

import (
	"errors"
	"time"

	"dispatch/internal/types"
)

type Availability string

const (
	Available Availability = "available"
	Busy      Availability = "busy"
	Offline   Availability = "offline"
)

var (
	ErrNotFound          = errors.New("rider not found")
	ErrAlreadyReserved   = errors.New("rider already reserved")
	ErrInvalidTransition = errors.New("invalid rider state transition")
	ErrNotHeldByOrder    = errors.New("rider is not held by this order")
	ErrExists            = errors.New("rider already registered")
)

type Rider struct {
	ID           types.ID
	Name         string
	Position     types.Point
	Availability Availability
	OrderID      *types.ID
	// Version increments on every availability change; Reserve compares against it.
	Version   int64
	UpdatedAt time.Time
}

// AllowedTransitions lists availability moves. Available<->Busy belongs to the
// assignment flow; the rest are rider-driven events.
var AllowedTransitions = map[Availability][]Availability{
	Available: {Busy, Offline},
	Busy:      {Available, Offline},
	Offline:   {Available},
}

func CanTransition(from, to Availability) bool {
	for _, s := range AllowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ParseAvailability(s string) (Availability, bool) {
	switch a := Availability(s); a {
	case Available, Busy, Offline:
		return a, true
	}
	return "", false
}
