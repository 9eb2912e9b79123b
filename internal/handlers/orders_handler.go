package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/idempotency"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/logging"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/orders"
	"github.com/imrishuroy/go-vehicle-orderflow/internal/validation"
)

// IdempotencyKeyHeader optionally makes POST /orders safe to retry.
const IdempotencyKeyHeader = "Idempotency-Key"

// HandlerConfig groups dependencies for the API handlers. Idempotency and
// Validator may be nil.
type HandlerConfig struct {
	Orders      *orders.Service
	Payments    PaymentReader
	Idempotency *idempotency.Store
	Validator   *validatorv10.Validate
}

// RegisterOrdersRoutes registers routes for the order API.
func RegisterOrdersRoutes(r gin.IRouter, cfg HandlerConfig) {
	if cfg.Validator == nil {
		cfg.Validator = validation.New()
	}

	r.GET("/orders", func(c *gin.Context) {
		list, err := cfg.Orders.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		if list == nil {
			list = []orders.Order{}
		}
		c.JSON(http.StatusOK, gin.H{"orders": list})
	})

	r.GET("/orders/:id", func(c *gin.Context) {
		o, err := cfg.Orders.Get(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.POST("/orders", func(c *gin.Context) {
		createOrder(c, cfg)
	})

	r.PATCH("/orders/:id/status", func(c *gin.Context) {
		var req validation.UpdateStatusRequest
		if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
			// BindAndValidate already wrote a 400
			return
		}
		o, err := cfg.Orders.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	r.POST("/orders/:id/cancel", func(c *gin.Context) {
		o, err := cfg.Orders.Cancel(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	})

	if cfg.Payments != nil {
		RegisterPaymentsRoutes(r, cfg.Payments)
	}
}

func createOrder(c *gin.Context, cfg HandlerConfig) {
	ctx := c.Request.Context()
	log := logging.From(c)

	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, cfg.Validator); err != nil {
		return
	}

	idempKey := c.GetHeader(IdempotencyKeyHeader)
	if cfg.Idempotency == nil {
		idempKey = ""
	}

	in := orders.CreateInput{
		UserID:         req.UserID,
		TotalAmount:    req.TotalAmount,
		Currency:       req.Currency,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: idempKey,
		Items:          make([]orders.ItemInput, 0, len(req.Items)),
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, orders.ItemInput{
			SKU:       it.SKU,
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  it.Quantity,
			UnitPrice: it.Price,
		})
	}

	o, err := cfg.Orders.Create(ctx, in)
	if errors.Is(err, orders.ErrDuplicateRequest) {
		replay(c, cfg.Idempotency, idempKey)
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}

	body, err := json.Marshal(o)
	if err != nil {
		writeError(c, err)
		return
	}
	if idempKey != "" {
		// the order is committed; a failed mark only degrades replays to 202
		if err := cfg.Idempotency.MarkDone(ctx, idempKey, string(body), http.StatusCreated); err != nil {
			log.Warn("mark idempotency key done", "idempotency_key", idempKey, "order_id", o.OrderID, "error", err)
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", o.OrderID))
	c.Data(http.StatusCreated, "application/json; charset=utf-8", body)
}

// replay answers a request whose idempotency key was already used.
func replay(c *gin.Context, store *idempotency.Store, key string) {
	rec, err := store.Get(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	if rec == nil {
		// the key expired between the failed write and this read
		c.JSON(http.StatusConflict, gin.H{"error": "idempotency_conflict", "message": "idempotency key was just released, retry"})
		return
	}
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Header("Location", fmt.Sprintf("/orders/%s", rec.OrderID))
			c.Data(rec.ResponseStatus, "application/json; charset=utf-8", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress", "id": rec.OrderID})
	default:
		writeError(c, fmt.Errorf("unknown idempotency status %q", rec.Status))
	}
}
