package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluxrelay/fluxgate/internal/auth"
	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

type CreateAgentRequest struct {
	ProjectID string `json:"project_id" binding:"required"`
	Name      string `json:"name" binding:"required,min=1,max=120"`
}

type AgentQuery struct {
	ProjectID string `form:"project_id" binding:"required"`
}

type AuthenticateAgentRequest struct {
	Token  string `json:"agent_token" binding:"required"`
	APIKey string `json:"api_key" binding:"required"`
}

// AgentCredentials is returned once, at creation. Only the key hash is kept.
type AgentCredentials struct {
	Agent  *model.Agent `json:"agent"`
	Token  string       `json:"agent_token"`
	APIKey string       `json:"api_key"`
}

type AgentService struct {
	store  AgentStore
	authz  *authz.Authorizer
	agents *auth.AgentAuthenticator
	now    func() time.Time
}

func NewAgentService(store AgentStore, az *authz.Authorizer, agents *auth.AgentAuthenticator) *AgentService {
	return &AgentService{store: store, authz: az, agents: agents, now: time.Now}
}

func (s *AgentService) List(ctx context.Context, p model.Principal, projectID string) ([]*model.Agent, error) {
	if err := s.authz.Require(ctx, p, model.ResourceProject, projectID, authz.CapRead); err != nil {
		return nil, err
	}
	agents, err := s.store.ListAgents(ctx, projectID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return agents, nil
}

func (s *AgentService) Create(ctx context.Context, user *model.UserPrincipal, req CreateAgentRequest) (*AgentCredentials, error) {
	if err := s.authz.Require(ctx, user, model.ResourceProject, req.ProjectID, authz.CapManageAgents); err != nil {
		return nil, err
	}
	token, err := randomSecret("agt_", 24)
	if err != nil {
		return nil, apperrors.Server("Failed to generate agent credentials", err)
	}
	key, err := randomSecret("", 32)
	if err != nil {
		return nil, apperrors.Server("Failed to generate agent credentials", err)
	}
	hash, err := auth.HashAPIKey(key)
	if err != nil {
		return nil, apperrors.Server("Failed to generate agent credentials", err)
	}

	agent := &model.Agent{
		ID:        uuid.NewString(),
		ProjectID: req.ProjectID,
		Name:      strings.TrimSpace(req.Name),
		Token:     token,
		KeyHash:   hash,
		Status:    model.AgentActive,
		CreatedBy: user.ID,
		CreatedAt: s.now().UTC(),
	}
	owner := &model.PermissionGrant{
		ResourceType: model.ResourceAgent,
		ResourceID:   agent.ID,
		PrincipalID:  user.ID,
		Role:         model.RoleAdmin,
		Permissions:  map[string]bool{},
	}
	if err := s.store.CreateAgent(ctx, agent, owner); err != nil {
		return nil, apperrors.FromStore(err)
	}
	return &AgentCredentials{Agent: agent, Token: token, APIKey: key}, nil
}

// Authenticate checks a token and key pair without binding it to the
// request; agents use it to verify credentials before streaming telemetry.
func (s *AgentService) Authenticate(ctx context.Context, req AuthenticateAgentRequest) (*model.AgentPrincipal, error) {
	return s.agents.Authenticate(ctx, req.Token, req.APIKey)
}

func randomSecret(prefix string, n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(buf), nil
}
