package handlers

import (
	"net/http"

	"github.com/echolog/echolog-server/internal/dashboard"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves per-user usage statistics.
type DashboardHandler struct {
	service *dashboard.Service
}

// NewDashboardHandler constructs a DashboardHandler.
func NewDashboardHandler(service *dashboard.Service) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Stats returns totals, keyword ranking and storage usage.
func (h *DashboardHandler) Stats(c *gin.Context) {
	stats, errStats := h.service.Stats(c.Request.Context(), getUserID(c))
	if errStats != nil {
		respondError(c, errStats)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// History lists analyses with audio availability.
func (h *DashboardHandler) History(c *gin.Context) {
	limit, skip := parsePaging(c)
	entries, total, errHistory := h.service.History(c.Request.Context(), getUserID(c), limit, skip)
	if errHistory != nil {
		respondError(c, errHistory)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"analyses": entries,
		"total":    total,
		"limit":    limit,
		"skip":     skip,
	})
}
