package handlers

import (
	"net/http"
	"strconv"

	"task-lifecycle-api/internal/models"

	"github.com/gin-gonic/gin"
)

func optionalQuery(c *gin.Context, key string) *string {
	if v := c.Query(key); v != "" {
		return &v
	}
	return nil
}

// GetEstimate handles GET /api/estimates?storyPoints=&assignee=&category=
func (h *Handler) GetEstimate(c *gin.Context) {
	points, err := strconv.Atoi(c.Query("storyPoints"))
	if err != nil {
		badRequest(c, "storyPoints must be an integer")
		return
	}
	res, err := h.tasks.Predict(c.Request.Context(), points, optionalQuery(c, "assignee"), models.TaskCategory(c.Query("category")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GetVelocity handles GET /api/estimates/velocity?weeks=&assignee=
func (h *Handler) GetVelocity(c *gin.Context) {
	weeks := h.velocityWeeks
	if raw := c.Query("weeks"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "weeks must be an integer")
			return
		}
		weeks = n
	}
	v, err := h.tasks.Velocity(c.Request.Context(), weeks, optionalQuery(c, "assignee"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// GetHoursPerPoint handles GET /api/estimates/hours-per-point?assignee=
func (h *Handler) GetHoursPerPoint(c *gin.Context) {
	r, err := h.tasks.HoursPerPoint(c.Request.Context(), optionalQuery(c, "assignee"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}
