package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/logging"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/orders"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/payments"
)

// writeError maps service errors onto the {"error","message"} envelope.
func writeError(c *gin.Context, err error) {
	_ = c.Error(err)

	var ve *orders.ValidationError
	var ce *orders.ConflictError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_failed",
			"message": err.Error(),
			"fields":  ve.Fields,
		})
	case errors.As(err, &ce):
		c.JSON(http.StatusConflict, gin.H{
			"error":         "conflict",
			"message":       ce.Reason,
			"orderId":       ce.OrderID,
			"currentStatus": ce.CurrentStatus,
		})
	case errors.Is(err, orders.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_input", "message": err.Error()})
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, payments.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, orders.ErrConflict), errors.Is(err, payments.ErrStatusMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	default:
		logging.From(c).Error("request failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "internal error"})
	}
}
