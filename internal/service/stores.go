package service

import (
	"context"
	"time"

	"github.com/fluxrelay/fluxgate/internal/model"
)

// Store interfaces consumed by the business services. Both
// repository.MemoryStore and repository.PostgresStore satisfy all of them.

type ProjectStore interface {
	CreateProjectWithOwner(ctx context.Context, p *model.Project, owner *model.PermissionGrant) error
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context, ids []string) ([]*model.Project, error)
	UpdateProject(ctx context.Context, p *model.Project) error
	DeleteProject(ctx context.Context, id string) error
	ListGrants(ctx context.Context, rt model.ResourceType, resourceID string) ([]*model.PermissionGrant, error)
	ListGrantsByPrincipal(ctx context.Context, rt model.ResourceType, principalID string) ([]*model.PermissionGrant, error)
	CreateGrant(ctx context.Context, g *model.PermissionGrant) error
}

type AgentStore interface {
	CreateAgent(ctx context.Context, a *model.Agent, owner *model.PermissionGrant) error
	ListAgents(ctx context.Context, projectID string) ([]*model.Agent, error)
}

type TelemetryStore interface {
	InsertTelemetry(ctx context.Context, r *model.TelemetryRecord) error
	ListTelemetry(ctx context.Context, projectID string, limit int) ([]*model.TelemetryRecord, error)
	TouchAgent(ctx context.Context, id string, at time.Time) error
}

type TransferStore interface {
	CreateTransfer(ctx context.Context, t *model.Transfer, owner *model.PermissionGrant) error
	GetTransfer(ctx context.Context, id string) (*model.Transfer, error)
	ListTransfers(ctx context.Context, projectID string) ([]*model.Transfer, error)
}

type CompanyStore interface {
	GetCompany(ctx context.Context, id string) (*model.Company, error)
	UpdateCompany(ctx context.Context, c *model.Company) error
	ListMembers(ctx context.Context, companyID string) ([]*model.Membership, error)
}

type PreferenceStore interface {
	GetPreferences(ctx context.Context, userID string) (*model.Preferences, error)
	SavePreferences(ctx context.Context, p *model.Preferences) error
}
