package http

import (
	"net/http"

	"github.com/echolog/echolog-server/internal/apperr"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// contextUserIDKey is where UserAuthMiddleware stores the caller's id.
const contextUserIDKey = "userID"

// RespondError writes the error envelope with the status derived from err.
func RespondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message, details := apperr.Envelope(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
	}
	body := gin.H{"error": message}
	if details != "" {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}

// UserID returns the authenticated user's id, or 0 outside the auth middleware.
func UserID(c *gin.Context) uint64 {
	if c == nil {
		return 0
	}
	raw, ok := c.Get(contextUserIDKey)
	if !ok {
		return 0
	}
	id, _ := raw.(uint64)
	return id
}
