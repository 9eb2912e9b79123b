package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/imrishuroy/go-vehicle-orderflow/internal/logging"
)

// RequestIDHeader is echoed on every response.
const RequestIDHeader = "X-Request-Id"

// RequestLogger assigns or propagates X-Request-Id, stores a request-scoped
// logger on the context and logs one line per request.
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		reqID := c.GetHeader(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
			c.Request.Header.Set(RequestIDHeader, reqID)
		}
		c.Header(RequestIDHeader, reqID)

		l := base.With(
			"req_id", reqID,
			"method", c.Request.Method,
			"path", c.FullPath(), // empty if no route matched
		)
		logging.With(c, l)

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"status", status,
			"dur_ms", time.Since(start).Milliseconds(),
			"resp_bytes", c.Writer.Size(),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "error", c.Errors.String())
		}
		if status >= http.StatusInternalServerError {
			l.Error("http_request", attrs...)
			return
		}
		l.Info("http_request", attrs...)
	}
}
