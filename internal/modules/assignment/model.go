// README: Assignment outcomes, candidate scores and drop reasons.
package assignment

import (
	"time"

	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

// Reason explains why an order could not be assigned.
type Reason string

const (
	ReasonOutOfZone         Reason = order.ReasonOutOfZone
	ReasonUnknownItem       Reason = "unknown_item"
	ReasonNoRidersAvailable Reason = "no_riders_available"
	ReasonContention        Reason = "contention"
	ReasonCancelled         Reason = "cancelled"
)

// Terminal reports whether the order should leave Pending for good.
// Only zone membership cannot change on a later attempt.
func (r Reason) Terminal() bool {
	return r == ReasonOutOfZone
}

// DropReason explains why a single rider left the ranking.
type DropReason string

const (
	DropPermanentError     DropReason = "permanent_error"
	DropTransientExhausted DropReason = "transient_exhausted"
	DropTimeout            DropReason = "timeout"
	DropOutOfWindow        DropReason = "eta_out_of_window"
	DropReserveConflict    DropReason = "reserve_conflict"
	DropRiderGone          DropReason = "rider_gone"
)

type Drop struct {
	RiderID types.ID   `json:"riderId"`
	Reason  DropReason `json:"reason"`
	Detail  string     `json:"detail,omitempty"`
}

// CandidateScore is the per-rider ranking input; it lives for one attempt only.
type CandidateScore struct {
	RiderID        types.ID
	Position       types.Point
	Version        int64
	DistanceMeters int
	Travel         time.Duration
	Ready          time.Duration
	// Key is max(Ready, Travel): the earliest moment rider and food are both at the pickup.
	Key time.Duration
}

type Assignment struct {
	RiderID       types.ID
	RiderPosition types.Point
	Ready         time.Duration
	Travel        time.Duration
	PickupETA     time.Duration
	// DeliveryETA is zero when the pickup to drop-off leg could not be estimated.
	DeliveryETA time.Duration
	// Rank is the 0-based position of the chosen rider in the ranking.
	Rank       int
	Candidates int
}

type Outcome struct {
	OrderID  types.ID
	Assigned *Assignment
	Reason   Reason
	Detail   string
	Ranked   []CandidateScore
	Drops    []Drop
	// Replayed is set when the result was read back from the stored order.
	Replayed bool
}

func (o Outcome) IsAssigned() bool { return o.Assigned != nil }

func assigned(orderID types.ID, a *Assignment, ranked []CandidateScore, drops []Drop) Outcome {
	return Outcome{OrderID: orderID, Assigned: a, Ranked: ranked, Drops: drops}
}

func unassignable(orderID types.ID, reason Reason, detail string, drops []Drop) Outcome {
	return Outcome{OrderID: orderID, Reason: reason, Detail: detail, Drops: drops}
}

// FromOrder rebuilds the outcome of an order that already left Pending.
func FromOrder(o *order.Order) Outcome {
	out := Outcome{OrderID: o.ID, Replayed: true}
	if d := o.Dispatch; d != nil {
		out.Assigned = &Assignment{
			RiderID:     d.RiderID,
			Ready:       d.Ready,
			Travel:      d.Travel,
			PickupETA:   d.PickupETA,
			DeliveryETA: d.DeliveryETA,
		}
		return out
	}
	if o.UnassignableReason != nil {
		out.Reason = Reason(*o.UnassignableReason)
	}
	return out
}
