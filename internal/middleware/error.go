package middleware

import (
	"log/slog"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

// renderError writes the error envelope. Unexpected errors are logged with
// their cause; the client only sees the generic message.
func renderError(c *gin.Context, rc *reqctx.Context, log *slog.Logger, err error) {
	appErr := apperrors.Wrap(err)

	logFields := []any{
		"request_id", rc.RequestID,
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"code", appErr.Kind,
		"status", appErr.Status,
		"client_ip", rc.ClientIP,
	}
	if appErr.Status >= 500 {
		logFields = append(logFields, "error", err.Error())
		log.ErrorContext(c.Request.Context(), "request failed", logFields...)
	} else {
		log.WarnContext(c.Request.Context(), appErr.Message, logFields...)
	}

	if c.Writer.Written() {
		return
	}
	if appErr.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(appErr.RetryAfter))
	}
	c.AbortWithStatusJSON(appErr.Status, appErr.Envelope())
}
