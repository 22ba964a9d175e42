// README: Batch assignment endpoint over all pending orders.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/modules/assignment"
)

type AssignmentHandler struct {
	coordinator  *assignment.Coordinator
	defaultBatch int
}

func NewAssignmentHandler(coordinator *assignment.Coordinator, defaultBatch int) *AssignmentHandler {
	return &AssignmentHandler{coordinator: coordinator, defaultBatch: defaultBatch}
}

func (h *AssignmentHandler) Sweep(c *gin.Context) {
	limit := h.defaultBatch
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(c, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	res, err := h.coordinator.Sweep(c.Request.Context(), limit)
	if err != nil {
		writeOrderError(c, err)
		return
	}
	details := make([]outcomeResponse, 0, len(res.Details))
	for _, out := range res.Details {
		details = append(details, newOutcomeResponse(out))
	}
	writeJSON(c, http.StatusOK, gin.H{
		"assigned":     res.Assigned,
		"not_assigned": res.NotAssigned,
		"details":      details,
	})
}
