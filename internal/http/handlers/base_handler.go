// README: Base handler utilities (JSON helpers, error mapping, outcome rendering).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/geo"
	"dispatch/internal/modules/order"
	"dispatch/internal/modules/preptime"
	"dispatch/internal/modules/rider"
	"dispatch/internal/modules/zone"
)

type errorResponse struct {
	Error string `json:"error"`
}

// isValidID accepts uuids and short opaque ids made of letters, digits, '-' and '_'.
func isValidID(v string) bool {
	if v == "" || len(v) > 64 {
		return false
	}
	for _, c := range v {
		if (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '-' || c == '_' {
			continue
		}
		return false
	}
	return true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeOrderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrBadRequest):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrInvalidState), errors.Is(err, order.ErrConflict):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, zone.ErrConfiguration), errors.Is(err, preptime.ErrConfiguration):
		writeError(c, http.StatusInternalServerError, "configuration error: "+err.Error())
	case errors.Is(err, geo.ErrTransient):
		writeError(c, http.StatusServiceUnavailable, "geocoding unavailable")
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

func writeRiderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, rider.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, rider.ErrExists), errors.Is(err, rider.ErrInvalidTransition),
		errors.Is(err, rider.ErrAlreadyReserved), errors.Is(err, rider.ErrNotHeldByOrder):
		writeError(c, http.StatusConflict, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

type dropResponse struct {
	RiderID string `json:"rider_id"`
	Reason  string `json:"reason"`
	Detail  string `json:"detail,omitempty"`
}

type outcomeResponse struct {
	OrderID            string         `json:"order_id"`
	Status             order.Status   `json:"status"`
	RiderID            string         `json:"rider_id,omitempty"`
	Reason             string         `json:"reason,omitempty"`
	Detail             string         `json:"detail,omitempty"`
	ReadySeconds       int64          `json:"ready_seconds,omitempty"`
	TravelSeconds      int64          `json:"travel_seconds,omitempty"`
	PickupETASeconds   int64          `json:"pickup_eta_seconds,omitempty"`
	DeliveryETASeconds int64          `json:"delivery_eta_seconds,omitempty"`
	Replayed           bool           `json:"replayed,omitempty"`
	Dropped            []dropResponse `json:"dropped,omitempty"`
}

// newOutcomeResponse reports non-terminal reasons as pending: the sweep will retry them.
func newOutcomeResponse(out assignment.Outcome) outcomeResponse {
	resp := outcomeResponse{OrderID: string(out.OrderID), Replayed: out.Replayed}
	for _, d := range out.Drops {
		resp.Dropped = append(resp.Dropped, dropResponse{RiderID: string(d.RiderID), Reason: string(d.Reason), Detail: d.Detail})
	}
	if a := out.Assigned; a != nil {
		resp.Status = order.StatusAssigned
		resp.RiderID = string(a.RiderID)
		resp.ReadySeconds = int64(a.Ready.Seconds())
		resp.TravelSeconds = int64(a.Travel.Seconds())
		resp.PickupETASeconds = int64(a.PickupETA.Seconds())
		resp.DeliveryETASeconds = int64(a.DeliveryETA.Seconds())
		return resp
	}
	resp.Reason = string(out.Reason)
	resp.Detail = out.Detail
	resp.Status = order.StatusPending
	if out.Reason.Terminal() {
		resp.Status = order.StatusUnassignable
	}
	return resp
}
