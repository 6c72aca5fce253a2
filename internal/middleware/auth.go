package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/auth"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderAgentToken    = "X-Agent-Token"
	HeaderAgentKey      = "X-Agent-Key"
)

func hasAgentHeaders(c *gin.Context) bool {
	return c.GetHeader(HeaderAgentToken) != "" || c.GetHeader(HeaderAgentKey) != ""
}

// AuthenticateUser requires a bearer token. Agent credentials are refused
// here even when they would be valid on an agent route.
func AuthenticateUser(users *auth.UserAuthenticator, audit *service.AuditService) Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		header := c.GetHeader(HeaderAuthorization)
		if header == "" && hasAgentHeaders(c) {
			audit.AuthenticationFailed(requestInfo(c, rc), "bearer", "agent credentials on user route")
			return apperrors.Authentication("User authentication required")
		}
		if header != "" && hasAgentHeaders(c) {
			audit.AuthenticationFailed(requestInfo(c, rc), "bearer", "multiple credentials")
			return apperrors.Authentication("Multiple credentials supplied")
		}
		return authenticateBearer(c, rc, users, audit, header, next)
	}
}

// OptionalUser attaches a user when a bearer token is present and lets
// anonymous requests through. A token that is present but invalid still
// fails the request.
func OptionalUser(users *auth.UserAuthenticator, audit *service.AuditService) Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		header := c.GetHeader(HeaderAuthorization)
		if header == "" {
			return next(c, rc)
		}
		return authenticateBearer(c, rc, users, audit, header, next)
	}
}

func authenticateBearer(c *gin.Context, rc *reqctx.Context, users *auth.UserAuthenticator, audit *service.AuditService, header string, next Handler) error {
	token, ok := auth.BearerToken(header)
	if !ok {
		reason := "Missing authentication token"
		if header != "" {
			reason = "Malformed authorization header"
		}
		audit.AuthenticationFailed(requestInfo(c, rc), "bearer", reason)
		return apperrors.Authentication(reason)
	}
	user, err := users.Authenticate(c.Request.Context(), token)
	if err != nil {
		audit.AuthenticationFailed(requestInfo(c, rc), "bearer", apperrors.Wrap(err).Message)
		return err
	}
	if err := rc.SetPrincipal(user); err != nil {
		return apperrors.Server("attach principal", err)
	}
	audit.AuthenticationSucceeded(requestInfo(c, rc), "bearer")
	return next(c, rc)
}

// AuthenticateAgent requires the X-Agent-Token and X-Agent-Key pair and
// refuses bearer tokens.
func AuthenticateAgent(agents *auth.AgentAuthenticator, audit *service.AuditService) Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		if c.GetHeader(HeaderAuthorization) != "" {
			reason := "Agent authentication required"
			if hasAgentHeaders(c) {
				reason = "Multiple credentials supplied"
			}
			audit.AuthenticationFailed(requestInfo(c, rc), "agent_key", reason)
			return apperrors.Authentication(reason)
		}
		agent, err := agents.Authenticate(c.Request.Context(), c.GetHeader(HeaderAgentToken), c.GetHeader(HeaderAgentKey))
		if err != nil {
			audit.AuthenticationFailed(requestInfo(c, rc), "agent_key", apperrors.Wrap(err).Message)
			return err
		}
		if err := rc.SetPrincipal(agent); err != nil {
			return apperrors.Server("attach principal", err)
		}
		audit.AuthenticationSucceeded(requestInfo(c, rc), "agent_key")
		return next(c, rc)
	}
}
