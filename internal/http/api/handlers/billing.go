package handlers

import (
	"net/http"

	"github.com/echolog/echolog-server/internal/billing"
	"github.com/gin-gonic/gin"
)

// BillingHandler serves the cloud cost report.
type BillingHandler struct {
	reporter *billing.Reporter
}

// NewBillingHandler constructs a BillingHandler. A nil reporter answers with
// the not-configured error.
func NewBillingHandler(reporter *billing.Reporter) *BillingHandler {
	return &BillingHandler{reporter: reporter}
}

// Costs returns the trailing-window cost report.
func (h *BillingHandler) Costs(c *gin.Context) {
	report, errReport := h.reporter.Build(c.Request.Context())
	if errReport != nil {
		respondError(c, errReport)
		return
	}
	c.JSON(http.StatusOK, report)
}
