package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,min=1,max=120"`
	Description string `json:"description" binding:"max=2000"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name" binding:"omitempty,min=1,max=120"`
	Description *string `json:"description" binding:"omitempty,max=2000"`
}

type AddMemberRequest struct {
	UserID      string          `json:"user_id" binding:"required"`
	Role        string          `json:"role" binding:"required,oneof=admin editor viewer"`
	Permissions map[string]bool `json:"permissions"`
}

type ProjectService struct {
	store ProjectStore
	authz *authz.Authorizer
	now   func() time.Time
}

func NewProjectService(store ProjectStore, az *authz.Authorizer) *ProjectService {
	return &ProjectService{store: store, authz: az, now: time.Now}
}

// List returns the projects the user holds a grant on.
func (s *ProjectService) List(ctx context.Context, user *model.UserPrincipal) ([]*model.Project, error) {
	grants, err := s.store.ListGrantsByPrincipal(ctx, model.ResourceProject, user.ID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	ids := make([]string, 0, len(grants))
	for _, g := range grants {
		ids = append(ids, g.ResourceID)
	}
	projects, err := s.store.ListProjects(ctx, ids)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return projects, nil
}

// Create stores a project owned by user. When the request resolved a
// tenant the project belongs to that company.
func (s *ProjectService) Create(ctx context.Context, user *model.UserPrincipal, tenant *model.Tenant, req CreateProjectRequest) (*model.Project, error) {
	if tenant != nil {
		if err := s.authz.Require(ctx, user, model.ResourceCompany, tenant.ID, authz.CapCreateProject); err != nil {
			return nil, err
		}
	}
	now := s.now().UTC()
	p := &model.Project{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Description: req.Description,
		CreatedBy:   user.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if tenant != nil {
		p.CompanyID = tenant.ID
	}
	owner := &model.PermissionGrant{
		ResourceType: model.ResourceProject,
		ResourceID:   p.ID,
		PrincipalID:  user.ID,
		Role:         model.RoleAdmin,
		Permissions:  map[string]bool{},
	}
	if err := s.store.CreateProjectWithOwner(ctx, p, owner); err != nil {
		return nil, apperrors.FromStore(err)
	}
	return p, nil
}

func (s *ProjectService) Get(ctx context.Context, p model.Principal, id string) (*model.Project, error) {
	if err := s.authz.Require(ctx, p, model.ResourceProject, id, authz.CapRead); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return project, nil
}

func (s *ProjectService) Update(ctx context.Context, p model.Principal, id string, req UpdateProjectRequest) (*model.Project, error) {
	if err := s.authz.Require(ctx, p, model.ResourceProject, id, authz.CapUpdate); err != nil {
		return nil, err
	}
	project, err := s.store.GetProject(ctx, id)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	if req.Name != nil {
		project.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		project.Description = *req.Description
	}
	project.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateProject(ctx, project); err != nil {
		return nil, apperrors.FromStore(err)
	}
	return project, nil
}

func (s *ProjectService) Delete(ctx context.Context, p model.Principal, id string) error {
	if err := s.authz.Require(ctx, p, model.ResourceProject, id, authz.CapDelete); err != nil {
		return err
	}
	return apperrors.FromStore(s.store.DeleteProject(ctx, id))
}

func (s *ProjectService) ListMembers(ctx context.Context, p model.Principal, id string) ([]*model.ProjectMember, error) {
	if err := s.authz.Require(ctx, p, model.ResourceProject, id, authz.CapRead); err != nil {
		return nil, err
	}
	grants, err := s.store.ListGrants(ctx, model.ResourceProject, id)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	members := make([]*model.ProjectMember, 0, len(grants))
	for _, g := range grants {
		members = append(members, &model.ProjectMember{
			UserID:      g.PrincipalID,
			Role:        g.Role,
			Permissions: g.Permissions,
		})
	}
	return members, nil
}

// AddMember grants another user access to the project. Permission keys
// outside the project capability set are rejected, and the caller cannot
// hand out a role above its own: only a project admin or the owner of the
// project's company may add admins.
func (s *ProjectService) AddMember(ctx context.Context, p model.Principal, id string, req AddMemberRequest) (*model.ProjectMember, error) {
	d, err := s.authz.Enforce(ctx, p, model.ResourceProject, id, authz.CapManageMembers)
	if err != nil {
		return nil, err
	}
	if authz.RoleRank(model.ResourceProject, req.Role) > authz.RoleRank(model.ResourceProject, d.Role) {
		owner, err := s.ownsCompany(ctx, p, id)
		if err != nil {
			return nil, err
		}
		if !owner {
			return nil, authz.Denied(model.ResourceProject, id, authz.CapManageMembers, "Cannot grant a role above your own")
		}
	}
	invalid := map[string]string{}
	for key := range req.Permissions {
		if !authz.Supports(model.ResourceProject, authz.Capability(key)) {
			invalid[key] = "unknown capability"
		}
	}
	if len(invalid) > 0 {
		return nil, apperrors.Validation("Invalid permissions", invalid)
	}

	grant := &model.PermissionGrant{
		ResourceType: model.ResourceProject,
		ResourceID:   id,
		PrincipalID:  req.UserID,
		Role:         req.Role,
		Permissions:  req.Permissions,
	}
	if grant.Permissions == nil {
		grant.Permissions = map[string]bool{}
	}
	if err := s.store.CreateGrant(ctx, grant); err != nil {
		return nil, apperrors.FromStore(err)
	}
	return &model.ProjectMember{UserID: grant.PrincipalID, Role: grant.Role, Permissions: grant.Permissions}, nil
}

func (s *ProjectService) ownsCompany(ctx context.Context, p model.Principal, projectID string) (bool, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if err != nil {
		return false, apperrors.FromStore(err)
	}
	if project.CompanyID == "" {
		return false, nil
	}
	d, err := s.authz.Decide(ctx, p, model.ResourceCompany, project.CompanyID, authz.CapManageMembers)
	if err != nil {
		return false, err
	}
	return d.Allowed && d.Role == model.RoleOwner, nil
}
