// Package auth resolves request credentials into principals. User requests
// carry a bearer access token; agents carry a token and an API key. The two
// are separate authenticators and a route uses exactly one of them.
package auth

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

// UserStore loads the stored profile of a token subject.
type UserStore interface {
	GetUser(ctx context.Context, id string) (*model.User, error)
}

// AgentStore loads agents by their public token.
type AgentStore interface {
	GetAgentByToken(ctx context.Context, token string) (*model.Agent, error)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

type UserAuthenticator struct {
	tokens *TokenService
	users  UserStore
}

func NewUserAuthenticator(tokens *TokenService, users UserStore) *UserAuthenticator {
	return &UserAuthenticator{tokens: tokens, users: users}
}

// Authenticate validates a bearer token and builds the user principal. A
// verified subject with no stored profile is treated as a free-tier user.
func (a *UserAuthenticator) Authenticate(ctx context.Context, bearer string) (*model.UserPrincipal, error) {
	if bearer == "" {
		return nil, apperrors.Authentication("Missing authentication token")
	}
	claims, err := a.tokens.Verify(bearer)
	if err != nil {
		return nil, err
	}

	principal := &model.UserPrincipal{
		ID:               claims.Subject,
		Email:            claims.Email,
		SubscriptionTier: model.TierFree,
		Role:             claims.Role,
	}
	if principal.Role == "" {
		principal.Role = "user"
	}

	user, err := a.users.GetUser(ctx, claims.Subject)
	switch {
	case err == nil:
		principal.SubscriptionTier = user.SubscriptionTier.Normalize()
		if user.Role != "" {
			principal.Role = user.Role
		}
		if user.Email != "" {
			principal.Email = user.Email
		}
	case errors.Is(err, apperrors.ErrNotFound):
	default:
		return nil, apperrors.FromStore(err)
	}
	return principal, nil
}

type AgentAuthenticator struct {
	agents AgentStore
}

func NewAgentAuthenticator(agents AgentStore) *AgentAuthenticator {
	return &AgentAuthenticator{agents: agents}
}

// Authenticate validates an agent token and API key pair.
func (a *AgentAuthenticator) Authenticate(ctx context.Context, token, apiKey string) (*model.AgentPrincipal, error) {
	if token == "" || apiKey == "" {
		return nil, apperrors.Authentication("Missing agent credentials")
	}
	agent, err := a.agents.GetAgentByToken(ctx, token)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Authentication("Invalid agent credentials")
		}
		return nil, apperrors.FromStore(err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(agent.KeyHash), []byte(apiKey)); err != nil {
		return nil, apperrors.Authentication("Invalid agent credentials")
	}
	if agent.Status != model.AgentActive {
		return nil, apperrors.Authentication("Agent is disabled")
	}
	return &model.AgentPrincipal{ID: agent.ID, ProjectID: agent.ProjectID}, nil
}

// HashAPIKey returns the bcrypt hash stored for a new agent key.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
