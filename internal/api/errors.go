package api

import (
	"context"
	"errors"
	"net/http"

	"calmhour/internal/schedule"

	"github.com/gin-gonic/gin"
)

// fail writes the JSON error response matching err's category.
func (s *Server) fail(c *gin.Context, op string, err error) {
	status := http.StatusInternalServerError
	body := gin.H{"error": "internal error", "message": err.Error()}

	switch {
	case errors.Is(err, schedule.ErrInvalidRequest):
		status = http.StatusBadRequest
		body["error"] = "invalid request"
	case errors.Is(err, schedule.ErrAuthExpired):
		status = http.StatusUnauthorized
		body["error"] = "calendar authentication expired"
		body["reconnect"] = true
	case errors.Is(err, schedule.ErrEventNotFound):
		status = http.StatusNotFound
		body["error"] = "event not found"
	case errors.Is(err, schedule.ErrUpstreamUnavailable), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusBadGateway
		body["error"] = "calendar provider unavailable"
		body["retryable"] = true
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error(op+": request failed", "account", c.Param("account"), "status", status, "error", err)
	} else {
		s.logger.Warn(op+": request rejected", "account", c.Param("account"), "status", status, "error", err)
	}
	c.AbortWithStatusJSON(status, body)
}
