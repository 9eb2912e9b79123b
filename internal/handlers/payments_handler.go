package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/payments"
)

// PaymentReader is the read side of the payment intent service.
type PaymentReader interface {
	Get(ctx context.Context, paymentID string) (*payments.PaymentIntent, error)
}

// RegisterPaymentsRoutes registers read-only payment intent routes.
func RegisterPaymentsRoutes(r gin.IRouter, svc PaymentReader) {
	r.GET("/payments/:id", func(c *gin.Context) {
		pi, err := svc.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, pi)
	})
}
