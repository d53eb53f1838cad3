package simhttp

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"simdesk/internal/logger"
	"simdesk/internal/market"
	"simdesk/internal/oracle"
	"simdesk/internal/session"
	"simdesk/internal/shared"
	"simdesk/internal/sim"
	"simdesk/internal/store"
)

// statusFor maps domain errors to an HTTP status and whether a retry may help.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, session.ErrInvalidToken),
		errors.Is(err, sim.ErrInvalidAction),
		errors.Is(err, market.ErrInvalidDateRange),
		errors.Is(err, market.ErrUnsupportedInterval),
		errors.Is(err, shared.ErrUnsupportedPair):
		return http.StatusBadRequest, false
	case errors.Is(err, sim.ErrSessionTerminated):
		return http.StatusConflict, false
	case errors.Is(err, store.ErrVersionConflict):
		return http.StatusConflict, true
	case errors.Is(err, market.ErrTransientFetch),
		errors.Is(err, oracle.ErrUnavailable):
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, false
	}
}

func writeError(c *gin.Context, err error) {
	status, retryable := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Errorf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	} else {
		logger.Debugf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	body := gin.H{"message": err.Error()}
	if retryable {
		body["retryable"] = true
	}
	c.AbortWithStatusJSON(status, body)
}

func writeMessage(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"message": msg})
}
