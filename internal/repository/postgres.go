package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

// PostgresStore implements every store interface of the gateway on gorm.
// Each call runs on a session bound to the caller's context so cancellation
// reaches the driver.
type PostgresStore struct {
	db *gorm.DB
}

func NewPostgresStore(db *gorm.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates or updates the gateway tables.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&userRow{}, &companyRow{}, &membershipRow{}, &grantRow{},
		&projectRow{}, &agentRow{}, &transferRow{}, &telemetryRow{},
		&preferencesRow{},
	)
}

func (s *PostgresStore) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	return err
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	if err := s.conn(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) GetMembershipByUser(ctx context.Context, userID string) (*model.Membership, error) {
	var row membershipRow
	if err := s.conn(ctx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, companyID string) ([]*model.Membership, error) {
	var rows []membershipRow
	err := s.conn(ctx).
		Table("company_members AS m").
		Select("m.user_id, m.company_id, m.role, m.joined_at, u.email").
		Joins("LEFT JOIN users u ON u.id = m.user_id").
		Where("m.company_id = ?", companyID).
		Order("m.joined_at ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.Membership, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	var row companyRow
	if err := s.conn(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) UpdateCompany(ctx context.Context, c *model.Company) error {
	res := s.conn(ctx).Model(&companyRow{}).Where("id = ?", c.ID).Updates(map[string]any{
		"name":                 c.Name,
		"timezone":             c.Timezone,
		"business_hours_start": c.BusinessHoursStart,
		"business_hours_end":   c.BusinessHoursEnd,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) FindGrant(ctx context.Context, rt model.ResourceType, resourceID, principalID string) (*model.PermissionGrant, error) {
	var row grantRow
	err := s.conn(ctx).
		Where("resource_type = ? AND resource_id = ? AND principal_id = ?", string(rt), resourceID, principalID).
		Take(&row).Error
	if err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListGrants(ctx context.Context, rt model.ResourceType, resourceID string) ([]*model.PermissionGrant, error) {
	var rows []grantRow
	err := s.conn(ctx).
		Where("resource_type = ? AND resource_id = ?", string(rt), resourceID).
		Order("principal_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return grantsToDomain(rows), nil
}

func (s *PostgresStore) ListGrantsByPrincipal(ctx context.Context, rt model.ResourceType, principalID string) ([]*model.PermissionGrant, error) {
	var rows []grantRow
	err := s.conn(ctx).
		Where("resource_type = ? AND principal_id = ?", string(rt), principalID).
		Order("resource_id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return grantsToDomain(rows), nil
}

func grantsToDomain(rows []grantRow) []*model.PermissionGrant {
	out := make([]*model.PermissionGrant, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out
}

func (s *PostgresStore) CreateGrant(ctx context.Context, g *model.PermissionGrant) error {
	return s.conn(ctx).Create(grantFromDomain(g)).Error
}

// CreateProjectWithOwner inserts the project and its creator's grant in one
// transaction.
func (s *PostgresStore) CreateProjectWithOwner(ctx context.Context, p *model.Project, owner *model.PermissionGrant) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(projectFromDomain(p)).Error; err != nil {
			return err
		}
		return tx.Create(grantFromDomain(owner)).Error
	})
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var row projectRow
	if err := s.conn(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListProjects(ctx context.Context, ids []string) ([]*model.Project, error) {
	if len(ids) == 0 {
		return []*model.Project{}, nil
	}
	var rows []projectRow
	if err := s.conn(ctx).Where("id IN ?", ids).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Project, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PostgresStore) UpdateProject(ctx context.Context, p *model.Project) error {
	res := s.conn(ctx).Model(&projectRow{}).Where("id = ?", p.ID).Updates(map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"updated_at":  p.UpdatedAt,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

// DeleteProject removes the project with its grants, agents, and transfers.
func (s *PostgresStore) DeleteProject(ctx context.Context, id string) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("resource_type = ? AND resource_id = ?", string(model.ResourceProject), id).Delete(&grantRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&agentRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&transferRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&projectRow{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.ErrNotFound
		}
		return nil
	})
}

// CreateAgent inserts the agent and, when owner is set, its creator's grant
// in one transaction.
func (s *PostgresStore) CreateAgent(ctx context.Context, a *model.Agent, owner *model.PermissionGrant) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&agentRow{
			ID:        a.ID,
			ProjectID: a.ProjectID,
			Name:      a.Name,
			Token:     a.Token,
			KeyHash:   a.KeyHash,
			Status:    string(a.Status),
			CreatedBy: a.CreatedBy,
			CreatedAt: a.CreatedAt,
		}).Error; err != nil {
			return err
		}
		return createOwner(tx, owner)
	})
}

func createOwner(tx *gorm.DB, owner *model.PermissionGrant) error {
	if owner == nil {
		return nil
	}
	return tx.Create(grantFromDomain(owner)).Error
}

func (s *PostgresStore) GetAgentByToken(ctx context.Context, token string) (*model.Agent, error) {
	var row agentRow
	if err := s.conn(ctx).Where("token = ?", token).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListAgents(ctx context.Context, projectID string) ([]*model.Agent, error) {
	var rows []agentRow
	if err := s.conn(ctx).Where("project_id = ?", projectID).Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Agent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PostgresStore) TouchAgent(ctx context.Context, id string, at time.Time) error {
	return s.conn(ctx).Model(&agentRow{}).Where("id = ?", id).Update("last_seen_at", at).Error
}

func (s *PostgresStore) CreateTransfer(ctx context.Context, t *model.Transfer, owner *model.PermissionGrant) error {
	return s.conn(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&transferRow{
			ID:         t.ID,
			ProjectID:  t.ProjectID,
			FileName:   t.FileName,
			SizeBytes:  t.SizeBytes,
			StorageKey: t.StorageKey,
			Status:     string(t.Status),
			CreatedBy:  t.CreatedBy,
			CreatedAt:  t.CreatedAt,
		}).Error; err != nil {
			return err
		}
		return createOwner(tx, owner)
	})
}

func (s *PostgresStore) GetTransfer(ctx context.Context, id string) (*model.Transfer, error) {
	var row transferRow
	if err := s.conn(ctx).Where("id = ?", id).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) ListTransfers(ctx context.Context, projectID string) ([]*model.Transfer, error) {
	var rows []transferRow
	if err := s.conn(ctx).Where("project_id = ?", projectID).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.Transfer, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PostgresStore) InsertTelemetry(ctx context.Context, r *model.TelemetryRecord) error {
	metrics, err := json.Marshal(r.Metrics)
	if err != nil {
		return err
	}
	return s.conn(ctx).Create(&telemetryRow{
		ID:         r.ID,
		AgentID:    r.AgentID,
		ProjectID:  r.ProjectID,
		TransferID: r.TransferID,
		Metrics:    metrics,
		Anomaly:    r.Anomaly,
		RecordedAt: r.RecordedAt,
	}).Error
}

func (s *PostgresStore) ListTelemetry(ctx context.Context, projectID string, limit int) ([]*model.TelemetryRecord, error) {
	var rows []telemetryRow
	err := s.conn(ctx).
		Where("project_id = ?", projectID).
		Order("recorded_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]*model.TelemetryRecord, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

func (s *PostgresStore) GetPreferences(ctx context.Context, userID string) (*model.Preferences, error) {
	var row preferencesRow
	if err := s.conn(ctx).Where("user_id = ?", userID).Take(&row).Error; err != nil {
		return nil, notFound(err)
	}
	return row.toDomain(), nil
}

func (s *PostgresStore) SavePreferences(ctx context.Context, p *model.Preferences) error {
	notifications, err := json.Marshal(p.Notifications)
	if err != nil {
		return err
	}
	return s.conn(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timezone", "theme", "notifications", "updated_at"}),
	}).Create(&preferencesRow{
		UserID:        p.UserID,
		Timezone:      p.Timezone,
		Theme:         p.Theme,
		Notifications: notifications,
		UpdatedAt:     p.UpdatedAt,
	}).Error
}
