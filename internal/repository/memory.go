package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

// MemoryStore is a process-local store used when no database is configured
// and in tests. It enforces the same uniqueness and reference rules as the
// Postgres schema so callers see the same errors.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*model.User
	companies   map[string]*model.Company
	memberships map[string]*model.Membership // key: user id
	grants      map[string]*model.PermissionGrant
	projects    map[string]*model.Project
	agents      map[string]*model.Agent // key: agent id
	transfers   map[string]*model.Transfer
	telemetry   []*model.TelemetryRecord
	prefs       map[string]*model.Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*model.User),
		companies:   make(map[string]*model.Company),
		memberships: make(map[string]*model.Membership),
		grants:      make(map[string]*model.PermissionGrant),
		projects:    make(map[string]*model.Project),
		agents:      make(map[string]*model.Agent),
		transfers:   make(map[string]*model.Transfer),
		prefs:       make(map[string]*model.Preferences),
	}
}

func grantKey(rt model.ResourceType, resourceID, principalID string) string {
	return string(rt) + "/" + resourceID + "/" + principalID
}

func errDuplicate(what string) error {
	return apperrors.Validation("Resource already exists", map[string]string{"resource": what})
}

func errMissingRef(what string) error {
	return apperrors.Validation("Referenced resource not found", map[string]string{"resource": what})
}

// PutUser seeds a user profile.
func (s *MemoryStore) PutUser(u *model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[u.ID] = &cp
}

// PutCompany seeds a company.
func (s *MemoryStore) PutCompany(c *model.Company) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.companies[c.ID] = &cp
}

// PutMembership seeds a user's company membership.
func (s *MemoryStore) PutMembership(m *model.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memberships[m.UserID] = &cp
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) GetMembershipByUser(_ context.Context, userID string) (*model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMembers(_ context.Context, companyID string) ([]*model.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Membership{}
	for _, m := range s.memberships {
		if m.CompanyID != companyID {
			continue
		}
		cp := *m
		if u, ok := s.users[m.UserID]; ok {
			cp.Email = u.Email
		}
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out, nil
}

func (s *MemoryStore) GetCompany(_ context.Context, id string) (*model.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) UpdateCompany(_ context.Context, c *model.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.companies[c.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *c
	s.companies[c.ID] = &cp
	return nil
}

func (s *MemoryStore) FindGrant(_ context.Context, rt model.ResourceType, resourceID, principalID string) (*model.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[grantKey(rt, resourceID, principalID)]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return copyGrant(g), nil
}

func (s *MemoryStore) ListGrants(_ context.Context, rt model.ResourceType, resourceID string) ([]*model.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.PermissionGrant{}
	for _, g := range s.grants {
		if g.ResourceType == rt && g.ResourceID == resourceID {
			out = append(out, copyGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PrincipalID < out[j].PrincipalID })
	return out, nil
}

func (s *MemoryStore) ListGrantsByPrincipal(_ context.Context, rt model.ResourceType, principalID string) ([]*model.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.PermissionGrant{}
	for _, g := range s.grants {
		if g.ResourceType == rt && g.PrincipalID == principalID {
			out = append(out, copyGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (s *MemoryStore) CreateGrant(_ context.Context, g *model.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkGrantLocked(g); err != nil {
		return err
	}
	s.putGrantLocked(g)
	return nil
}

func (s *MemoryStore) checkGrantLocked(g *model.PermissionGrant) error {
	if g == nil {
		return nil
	}
	if _, exists := s.grants[grantKey(g.ResourceType, g.ResourceID, g.PrincipalID)]; exists {
		return errDuplicate("grant")
	}
	return nil
}

func (s *MemoryStore) putGrantLocked(g *model.PermissionGrant) {
	if g == nil {
		return
	}
	s.grants[grantKey(g.ResourceType, g.ResourceID, g.PrincipalID)] = copyGrant(g)
}

func copyGrant(g *model.PermissionGrant) *model.PermissionGrant {
	cp := *g
	cp.Permissions = make(map[string]bool, len(g.Permissions))
	for k, v := range g.Permissions {
		cp.Permissions[k] = v
	}
	return &cp
}

func (s *MemoryStore) CreateProjectWithOwner(_ context.Context, p *model.Project, owner *model.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.projects[p.ID]; exists {
		return errDuplicate("project")
	}
	if p.CompanyID != "" {
		if _, ok := s.companies[p.CompanyID]; !ok {
			return errMissingRef("company")
		}
	}
	cp := *p
	s.projects[p.ID] = &cp
	s.grants[grantKey(owner.ResourceType, owner.ResourceID, owner.PrincipalID)] = copyGrant(owner)
	return nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProjects(_ context.Context, ids []string) ([]*model.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Project{}
	for _, id := range ids {
		if p, ok := s.projects[id]; ok {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateProject(_ context.Context, p *model.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; !ok {
		return apperrors.ErrNotFound
	}
	cp := *p
	s.projects[p.ID] = &cp
	return nil
}

// DeleteProject removes the project with its grants, agents, and transfers.
func (s *MemoryStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return apperrors.ErrNotFound
	}
	delete(s.projects, id)
	for key, g := range s.grants {
		if g.ResourceType == model.ResourceProject && g.ResourceID == id {
			delete(s.grants, key)
		}
	}
	for key, a := range s.agents {
		if a.ProjectID == id {
			delete(s.agents, key)
		}
	}
	for key, t := range s.transfers {
		if t.ProjectID == id {
			delete(s.transfers, key)
		}
	}
	return nil
}

// CreateAgent stores the agent and, when owner is set, its creator's grant.
// Either both are written or neither.
func (s *MemoryStore) CreateAgent(_ context.Context, a *model.Agent, owner *model.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[a.ProjectID]; !ok {
		return errMissingRef("project")
	}
	for _, existing := range s.agents {
		if existing.Token == a.Token {
			return errDuplicate("agent token")
		}
	}
	if err := s.checkGrantLocked(owner); err != nil {
		return err
	}
	cp := *a
	s.agents[a.ID] = &cp
	s.putGrantLocked(owner)
	return nil
}

func (s *MemoryStore) GetAgentByToken(_ context.Context, token string) (*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.agents {
		if a.Token == token {
			cp := *a
			return &cp, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (s *MemoryStore) ListAgents(_ context.Context, projectID string) ([]*model.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Agent{}
	for _, a := range s.agents {
		if a.ProjectID == projectID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) TouchAgent(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	a.LastSeenAt = &at
	return nil
}

func (s *MemoryStore) CreateTransfer(_ context.Context, t *model.Transfer, owner *model.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[t.ProjectID]; !ok {
		return errMissingRef("project")
	}
	if _, exists := s.transfers[t.ID]; exists {
		return errDuplicate("transfer")
	}
	if err := s.checkGrantLocked(owner); err != nil {
		return err
	}
	cp := *t
	s.transfers[t.ID] = &cp
	s.putGrantLocked(owner)
	return nil
}

func (s *MemoryStore) GetTransfer(_ context.Context, id string) (*model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.transfers[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTransfers(_ context.Context, projectID string) ([]*model.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Transfer{}
	for _, t := range s.transfers {
		if t.ProjectID == projectID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) InsertTelemetry(_ context.Context, r *model.TelemetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	s.telemetry = append(s.telemetry, &cp)
	return nil
}

func (s *MemoryStore) ListTelemetry(_ context.Context, projectID string, limit int) ([]*model.TelemetryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.TelemetryRecord{}
	for i := len(s.telemetry) - 1; i >= 0 && len(out) < limit; i-- {
		if s.telemetry[i].ProjectID == projectID {
			cp := *s.telemetry[i]
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetPreferences(_ context.Context, userID string) (*model.Preferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.prefs[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) SavePreferences(_ context.Context, p *model.Preferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.UserID == "" {
		return fmt.Errorf("preferences without user id")
	}
	cp := *p
	s.prefs[p.UserID] = &cp
	return nil
}
