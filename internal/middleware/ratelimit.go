package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/pkg/metrics"
	"github.com/fluxrelay/fluxgate/internal/ratelimit"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

const (
	HeaderRateLimitLimit     = "X-RateLimit-Limit"
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"
	HeaderRateLimitReset     = "X-RateLimit-Reset"
)

// RateLimit counts the request against the caller's tier budget for the
// matched route. It runs after authentication so users are limited by id
// and anonymous callers by address.
func RateLimit(limiter *ratelimit.Limiter, audit *service.AuditService) Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		identifier, tier := rateIdentity(rc)
		res := limiter.Allow(identifier, routeKey(c), tier)

		c.Header(HeaderRateLimitLimit, strconv.Itoa(res.Limit))
		c.Header(HeaderRateLimitRemaining, strconv.Itoa(res.Remaining))
		c.Header(HeaderRateLimitReset, strconv.FormatInt(res.ResetAt.Unix(), 10))

		if !res.Allowed {
			metrics.RateLimitRejects.WithLabelValues(string(tier)).Inc()
			audit.RateLimitChecked(requestInfo(c, rc), false, res.Limit, res.Remaining, tier)
			return apperrors.RateLimit("Too many requests, please try again later", res.RetryAfterSeconds())
		}
		return next(c, rc)
	}
}

func rateIdentity(rc *reqctx.Context) (string, model.SubscriptionTier) {
	switch p := rc.Principal().(type) {
	case *model.UserPrincipal:
		return p.ID, p.SubscriptionTier.Normalize()
	case *model.AgentPrincipal:
		return p.ID, model.TierFree
	}
	if rc.ClientIP != "" {
		return rc.ClientIP, model.TierAnonymous
	}
	return "anonymous", model.TierAnonymous
}

func routeKey(c *gin.Context) string {
	route := c.FullPath()
	if route == "" {
		route = c.Request.URL.Path
	}
	return c.Request.Method + " " + route
}
