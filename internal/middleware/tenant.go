package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/auth"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

// ResolveTenant attaches the principal's organization. A principal without
// a membership continues with no tenant; handlers that need one decide.
func ResolveTenant(resolver *auth.TenantResolver) Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		p := rc.Principal()
		if p == nil {
			return next(c, rc)
		}
		tenant, err := resolver.Resolve(c.Request.Context(), p)
		if err != nil {
			return err
		}
		if tenant != nil {
			if err := rc.SetTenant(tenant); err != nil {
				return apperrors.Server("attach tenant", err)
			}
		}
		return next(c, rc)
	}
}
