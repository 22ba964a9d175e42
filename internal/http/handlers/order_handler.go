// README: Order handlers: intake, status, assignment trigger and delivery release.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/assignment"
	"dispatch/internal/modules/order"
	"dispatch/internal/types"
)

type OrderHandler struct {
	order       *order.Service
	coordinator *assignment.Coordinator
}

func NewOrderHandler(svc *order.Service, coordinator *assignment.Coordinator) *OrderHandler {
	return &OrderHandler{order: svc, coordinator: coordinator}
}

type pointReq struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p *pointReq) point() types.Point {
	if p == nil {
		return types.Point{}
	}
	return types.Point{Lat: p.Lat, Lng: p.Lng}
}

type createOrderReq struct {
	CustomerID     string         `json:"customer_id"`
	Pickup         *pointReq      `json:"pickup"`
	Dropoff        *pointReq      `json:"dropoff"`
	PickupAddress  string         `json:"pickup_address"`
	DropoffAddress string         `json:"dropoff_address"`
	Items          map[string]int `json:"items"`
	// AssignNow runs an assignment attempt right after intake.
	AssignNow bool `json:"assign_now"`
}

func (h *OrderHandler) Create(c *gin.Context) {
	var req createOrderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if !isValidID(req.CustomerID) {
		writeError(c, http.StatusBadRequest, "invalid customer_id")
		return
	}
	// Customers may only order for themselves.
	if middleware.CallerRole(c) != middleware.RoleOperator && middleware.CallerUID(c) != req.CustomerID {
		writeError(c, http.StatusForbidden, "forbidden: customer_id does not match authenticated user")
		return
	}
	if (req.Pickup == nil && req.PickupAddress == "") || (req.Dropoff == nil && req.DropoffAddress == "") {
		writeError(c, http.StatusBadRequest, "pickup and dropoff require coordinates or an address")
		return
	}
	o, err := h.order.Create(c.Request.Context(), order.CreateCommand{
		CustomerID:     types.ID(req.CustomerID),
		Pickup:         req.Pickup.point(),
		Dropoff:        req.Dropoff.point(),
		PickupAddress:  req.PickupAddress,
		DropoffAddress: req.DropoffAddress,
		Items:          req.Items,
	})
	if err != nil {
		writeOrderError(c, err)
		return
	}
	resp := gin.H{"order_id": o.ID, "status": o.Status}
	if o.ZoneID != nil {
		resp["zone_id"] = *o.ZoneID
	}
	if o.UnassignableReason != nil {
		resp["reason"] = *o.UnassignableReason
	}
	if req.AssignNow && o.Status == order.StatusPending {
		out, err := h.coordinator.AssignOrder(c.Request.Context(), o.ID)
		if err != nil {
			writeOrderError(c, err)
			return
		}
		resp["assignment"] = newOutcomeResponse(out)
	}
	writeJSON(c, http.StatusCreated, resp)
}

func (h *OrderHandler) Get(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	o, err := h.order.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	role := middleware.CallerRole(c)
	if role != middleware.RoleOperator && middleware.CallerUID(c) != string(o.CustomerID) &&
		(o.Dispatch == nil || middleware.CallerUID(c) != string(o.Dispatch.RiderID)) {
		writeError(c, http.StatusForbidden, "forbidden")
		return
	}
	resp := gin.H{"order_id": o.ID, "status": o.Status, "created_at": o.CreatedAt}
	if o.ZoneID != nil {
		resp["zone_id"] = *o.ZoneID
	}
	if o.UnassignableReason != nil {
		resp["reason"] = *o.UnassignableReason
	}
	if d := o.Dispatch; d != nil {
		resp["rider_id"] = d.RiderID
		resp["pickup_eta_seconds"] = int64(d.PickupETA.Seconds())
		resp["delivery_eta_seconds"] = int64(d.DeliveryETA.Seconds())
		resp["assigned_at"] = d.AssignedAt
	}
	writeJSON(c, http.StatusOK, resp)
}

// Assign is the thin trigger endpoint: one assignment attempt for one order.
func (h *OrderHandler) Assign(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	out, err := h.coordinator.AssignOrder(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, newOutcomeResponse(out))
}

// Release marks the order delivered and frees its rider.
func (h *OrderHandler) Release(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid order id")
		return
	}
	if middleware.CallerRole(c) == middleware.RoleRider {
		o, err := h.order.Get(c.Request.Context(), types.ID(id))
		if err != nil {
			writeOrderError(c, err)
			return
		}
		if o.Dispatch == nil || string(o.Dispatch.RiderID) != middleware.CallerUID(c) {
			writeError(c, http.StatusForbidden, "forbidden: order is not assigned to caller")
			return
		}
	}
	prev, err := h.coordinator.Release(c.Request.Context(), types.ID(id))
	if err != nil {
		writeOrderError(c, err)
		return
	}
	resp := gin.H{"order_id": id, "status": order.StatusDelivered}
	if prev.Dispatch != nil {
		resp["rider_id"] = prev.Dispatch.RiderID
	}
	writeJSON(c, http.StatusOK, resp)
}
