package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

var securityHeaders = [][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
}

func SecurityHeaders() Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		for _, h := range securityHeaders {
			c.Header(h[0], h[1])
		}
		return next(c, rc)
	}
}
