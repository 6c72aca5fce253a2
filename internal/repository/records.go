package repository

import (
	"encoding/json"
	"time"

	"github.com/fluxrelay/fluxgate/internal/model"
)

// Row types map domain models onto tables. JSON columns are stored as raw
// bytes and decoded in toDomain.

type userRow struct {
	ID               string `gorm:"primaryKey"`
	Email            string `gorm:"uniqueIndex"`
	SubscriptionTier string
	Role             string
	CreatedAt        time.Time
}

func (userRow) TableName() string { return "users" }

func (r *userRow) toDomain() *model.User {
	return &model.User{
		ID:               r.ID,
		Email:            r.Email,
		SubscriptionTier: model.SubscriptionTier(r.SubscriptionTier),
		Role:             r.Role,
		CreatedAt:        r.CreatedAt,
	}
}

type companyRow struct {
	ID                 string `gorm:"primaryKey"`
	Name               string
	Slug               string `gorm:"uniqueIndex"`
	Plan               string
	SubscriptionStatus string
	Timezone           string
	BusinessHoursStart int
	BusinessHoursEnd   int
	CreatedAt          time.Time
}

func (companyRow) TableName() string { return "companies" }

func (r *companyRow) toDomain() *model.Company {
	return &model.Company{
		ID:                 r.ID,
		Name:               r.Name,
		Slug:               r.Slug,
		Plan:               r.Plan,
		SubscriptionStatus: r.SubscriptionStatus,
		Timezone:           r.Timezone,
		BusinessHoursStart: r.BusinessHoursStart,
		BusinessHoursEnd:   r.BusinessHoursEnd,
		CreatedAt:          r.CreatedAt,
	}
}

type membershipRow struct {
	UserID    string `gorm:"primaryKey"`
	CompanyID string `gorm:"index"`
	Role      string
	Email     string `gorm:"->;-:migration"`
	JoinedAt  time.Time
}

func (membershipRow) TableName() string { return "company_members" }

func (r *membershipRow) toDomain() *model.Membership {
	return &model.Membership{
		UserID:    r.UserID,
		CompanyID: r.CompanyID,
		Role:      r.Role,
		Email:     r.Email,
		JoinedAt:  r.JoinedAt,
	}
}

type grantRow struct {
	ResourceType string `gorm:"primaryKey"`
	ResourceID   string `gorm:"primaryKey"`
	PrincipalID  string `gorm:"primaryKey;index"`
	Role         string
	Permissions  []byte `gorm:"type:jsonb"`
}

func (grantRow) TableName() string { return "resource_grants" }

func (r *grantRow) toDomain() *model.PermissionGrant {
	g := &model.PermissionGrant{
		ResourceType: model.ResourceType(r.ResourceType),
		ResourceID:   r.ResourceID,
		PrincipalID:  r.PrincipalID,
		Role:         r.Role,
		Permissions:  map[string]bool{},
	}
	if len(r.Permissions) > 0 {
		// Non-boolean values in the stored map are ignored.
		var raw map[string]any
		if err := json.Unmarshal(r.Permissions, &raw); err == nil {
			for k, v := range raw {
				if b, ok := v.(bool); ok {
					g.Permissions[k] = b
				}
			}
		}
	}
	return g
}

func grantFromDomain(g *model.PermissionGrant) *grantRow {
	perms, _ := json.Marshal(g.Permissions)
	return &grantRow{
		ResourceType: string(g.ResourceType),
		ResourceID:   g.ResourceID,
		PrincipalID:  g.PrincipalID,
		Role:         g.Role,
		Permissions:  perms,
	}
}

type projectRow struct {
	ID          string `gorm:"primaryKey"`
	CompanyID   *string
	Name        string
	Description string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (projectRow) TableName() string { return "projects" }

func (r *projectRow) toDomain() *model.Project {
	p := &model.Project{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		CreatedBy:   r.CreatedBy,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.CompanyID != nil {
		p.CompanyID = *r.CompanyID
	}
	return p
}

func projectFromDomain(p *model.Project) *projectRow {
	row := &projectRow{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		CreatedBy:   p.CreatedBy,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
	if p.CompanyID != "" {
		id := p.CompanyID
		row.CompanyID = &id
	}
	return row
}

type agentRow struct {
	ID         string `gorm:"primaryKey"`
	ProjectID  string `gorm:"index"`
	Name       string
	Token      string `gorm:"uniqueIndex"`
	KeyHash    string
	Status     string
	CreatedBy  string
	LastSeenAt *time.Time
	CreatedAt  time.Time
}

func (agentRow) TableName() string { return "agents" }

func (r *agentRow) toDomain() *model.Agent {
	return &model.Agent{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		Name:       r.Name,
		Token:      r.Token,
		KeyHash:    r.KeyHash,
		Status:     model.AgentStatus(r.Status),
		CreatedBy:  r.CreatedBy,
		LastSeenAt: r.LastSeenAt,
		CreatedAt:  r.CreatedAt,
	}
}

type transferRow struct {
	ID         string `gorm:"primaryKey"`
	ProjectID  string `gorm:"index"`
	FileName   string
	SizeBytes  int64
	StorageKey string
	Status     string
	CreatedBy  string
	CreatedAt  time.Time
}

func (transferRow) TableName() string { return "transfers" }

func (r *transferRow) toDomain() *model.Transfer {
	return &model.Transfer{
		ID:         r.ID,
		ProjectID:  r.ProjectID,
		FileName:   r.FileName,
		SizeBytes:  r.SizeBytes,
		StorageKey: r.StorageKey,
		Status:     model.TransferStatus(r.Status),
		CreatedBy:  r.CreatedBy,
		CreatedAt:  r.CreatedAt,
	}
}

type telemetryRow struct {
	ID         string `gorm:"primaryKey"`
	AgentID    string `gorm:"index"`
	ProjectID  string `gorm:"index:idx_telemetry_project_time,priority:1"`
	TransferID string
	Metrics    []byte `gorm:"type:jsonb"`
	Anomaly    bool
	RecordedAt time.Time `gorm:"index:idx_telemetry_project_time,priority:2,sort:desc"`
}

func (telemetryRow) TableName() string { return "agent_telemetry" }

func (r *telemetryRow) toDomain() *model.TelemetryRecord {
	rec := &model.TelemetryRecord{
		ID:         r.ID,
		AgentID:    r.AgentID,
		ProjectID:  r.ProjectID,
		TransferID: r.TransferID,
		Anomaly:    r.Anomaly,
		RecordedAt: r.RecordedAt,
		Metrics:    map[string]float64{},
	}
	_ = json.Unmarshal(r.Metrics, &rec.Metrics)
	return rec
}

type preferencesRow struct {
	UserID        string `gorm:"primaryKey"`
	Timezone      string
	Theme         string
	Notifications []byte `gorm:"type:jsonb"`
	UpdatedAt     time.Time
}

func (preferencesRow) TableName() string { return "user_preferences" }

func (r *preferencesRow) toDomain() *model.Preferences {
	p := &model.Preferences{
		UserID:        r.UserID,
		Timezone:      r.Timezone,
		Theme:         r.Theme,
		UpdatedAt:     r.UpdatedAt,
		Notifications: map[string]bool{},
	}
	_ = json.Unmarshal(r.Notifications, &p.Notifications)
	return p
}
