// README: Rider handlers: registration, live position and availability events.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dispatch/internal/http/middleware"
	"dispatch/internal/modules/rider"
	"dispatch/internal/types"
)

type RiderHandler struct {
	pool rider.Pool
}

func NewRiderHandler(pool rider.Pool) *RiderHandler {
	return &RiderHandler{pool: pool}
}

type registerRiderReq struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Position pointReq `json:"position"`
}

func (h *RiderHandler) Register(c *gin.Context) {
	var req registerRiderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	pos := types.Point{Lat: req.Position.Lat, Lng: req.Position.Lng}
	if !isValidID(req.ID) || !pos.Valid() {
		writeError(c, http.StatusBadRequest, "invalid rider")
		return
	}
	err := h.pool.Register(c.Request.Context(), rider.Rider{
		ID:           types.ID(req.ID),
		Name:         req.Name,
		Position:     pos,
		Availability: rider.Offline,
	})
	if err != nil {
		writeRiderError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, gin.H{"rider_id": req.ID, "availability": rider.Offline})
}

// selfOrOperator allows a rider to act on their own record only.
func selfOrOperator(c *gin.Context, id string) bool {
	if middleware.CallerRole(c) == middleware.RoleOperator {
		return true
	}
	if middleware.CallerRole(c) != middleware.RoleRider || middleware.CallerUID(c) != id {
		writeError(c, http.StatusForbidden, "forbidden: id does not match authenticated rider")
		return false
	}
	return true
}

func (h *RiderHandler) UpdateLocation(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid rider id")
		return
	}
	if !selfOrOperator(c, id) {
		return
	}
	var req pointReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	pos := types.Point{Lat: req.Lat, Lng: req.Lng}
	if !pos.Valid() {
		writeError(c, http.StatusBadRequest, "invalid coordinates")
		return
	}
	if err := h.pool.UpdatePosition(c.Request.Context(), types.ID(id), pos); err != nil {
		writeRiderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

type availabilityReq struct {
	Availability string `json:"availability"`
}

func (h *RiderHandler) SetAvailability(c *gin.Context) {
	id := c.Param("id")
	if !isValidID(id) {
		writeError(c, http.StatusBadRequest, "invalid rider id")
		return
	}
	if !selfOrOperator(c, id) {
		return
	}
	var req availabilityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	to, ok := rider.ParseAvailability(req.Availability)
	if !ok {
		writeError(c, http.StatusBadRequest, "availability must be available, busy or offline")
		return
	}
	if err := h.pool.SetAvailability(c.Request.Context(), types.ID(id), to); err != nil {
		writeRiderError(c, err)
		return
	}
	r, err := h.pool.Get(c.Request.Context(), types.ID(id))
	if err != nil {
		writeRiderError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"rider_id": r.ID, "availability": r.Availability, "version": r.Version})
}
