package api

import (
	"errors"
	"net/http"

	"printshop/internal/apperr"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorClass struct {
	err       error
	status    int
	message   string
	retryable bool
	// opaque classes wrap infrastructure errors whose text stays in the log.
	opaque bool
}

var errorClasses = []errorClass{
	{apperr.ErrNotFound, http.StatusNotFound, "Resource not found", false, false},
	{apperr.ErrUnauthorized, http.StatusUnauthorized, "Authentication required", false, false},
	{apperr.ErrForbidden, http.StatusForbidden, "You do not have permission to access this resource", false, false},
	{apperr.ErrAmountMismatch, http.StatusBadRequest, "Amount does not match the order total", false, false},
	{apperr.ErrInvalidSignature, http.StatusBadRequest, "Invalid payment signature", false, false},
	{apperr.ErrConflict, http.StatusConflict, "Request conflicts with the current state", false, false},
	{apperr.ErrAllocationExhausted, http.StatusServiceUnavailable, "Could not allocate a ticket number", true, true},
	{apperr.ErrProviderUnavailable, http.StatusBadGateway, "Payment provider unavailable", true, true},
	{apperr.ErrInvalidInput, http.StatusBadRequest, "Invalid request", false, false},
}

// writeError maps service errors to HTTP responses. Storage failures and
// anything unclassified become an opaque 500.
func (h *Handler) writeError(c *gin.Context, err error) {
	var verr *apperr.ValidationError
	if errors.As(err, &verr) {
		c.JSON(http.StatusBadRequest, gin.H{"errors": verr.Fields})
		return
	}

	for _, class := range errorClasses {
		if !errors.Is(err, class.err) {
			continue
		}
		body := gin.H{"error": class.message}
		if !class.opaque {
			body["details"] = err.Error()
		}
		if class.retryable {
			body["retryable"] = true
		}
		if class.opaque || class.retryable {
			h.logger.Warn("Request failed",
				zap.String("path", c.FullPath()),
				zap.Int("status", class.status),
				zap.Error(err))
		}
		c.JSON(class.status, body)
		return
	}

	h.logger.Error("Request failed",
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

func (h *Handler) badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}
