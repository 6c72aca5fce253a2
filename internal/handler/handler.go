// Package handler holds the terminal handlers of the business routes. Each
// one runs at the end of a middleware chain and trusts it: the principal,
// tenant and validated input are read from the request context.
package handler

import (
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

func userOf(rc *reqctx.Context) (*model.UserPrincipal, error) {
	u, ok := rc.User()
	if !ok {
		return nil, apperrors.Authentication("User authentication required")
	}
	return u, nil
}

func agentOf(rc *reqctx.Context) (*model.AgentPrincipal, error) {
	a, ok := rc.Agent()
	if !ok {
		return nil, apperrors.Authentication("Agent authentication required")
	}
	return a, nil
}

// body returns the validated body. A missing value means the route was
// wired without its validator.
func body[T any](rc *reqctx.Context) (T, error) {
	v, ok := reqctx.Body[T](rc)
	if !ok {
		return v, apperrors.Server("Internal server error", errMissingValidation)
	}
	return v, nil
}

func query[T any](rc *reqctx.Context) (T, error) {
	v, ok := reqctx.Query[T](rc)
	if !ok {
		return v, apperrors.Server("Internal server error", errMissingValidation)
	}
	return v, nil
}

func tenantOf(rc *reqctx.Context) *model.Tenant {
	t, _ := rc.Tenant()
	return t
}
