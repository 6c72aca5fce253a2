package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fluxrelay/fluxgate/internal/model"
)

// AuditFilter narrows audit listings. Zero values match everything.
type AuditFilter struct {
	TenantID string
	Category model.EventCategory
	From     *time.Time
	To       *time.Time
	Limit    int
}

func (f AuditFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return 100
	}
	return f.Limit
}

func (f AuditFilter) Match(e *model.AuditEvent) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Category != "" && e.EventCategory != f.Category {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

type auditRow struct {
	ID            string `gorm:"primaryKey"`
	EventType     string `gorm:"index"`
	EventCategory string
	Severity      string
	Action        string
	Result        string
	ActorType     string
	ActorID       string
	TenantID      string `gorm:"index:idx_audit_tenant_time,priority:1"`
	ResourceType  string
	ResourceID    string
	Metadata      []byte `gorm:"type:jsonb"`
	RequestID     string
	Timestamp     time.Time `gorm:"index:idx_audit_tenant_time,priority:2,sort:desc"`
}

func (auditRow) TableName() string { return "audit_events" }

func (r *auditRow) toDomain() *model.AuditEvent {
	e := &model.AuditEvent{
		ID:            r.ID,
		EventType:     r.EventType,
		EventCategory: model.EventCategory(r.EventCategory),
		Severity:      model.Severity(r.Severity),
		Action:        r.Action,
		Result:        model.EventResult(r.Result),
		ActorType:     model.ActorType(r.ActorType),
		ActorID:       r.ActorID,
		TenantID:      r.TenantID,
		ResourceType:  r.ResourceType,
		ResourceID:    r.ResourceID,
		RequestID:     r.RequestID,
		Timestamp:     r.Timestamp,
	}
	if len(r.Metadata) > 0 {
		_ = json.Unmarshal(r.Metadata, &e.Metadata)
	}
	return e
}

// PostgresAuditSink persists audit events to the audit_events table.
type PostgresAuditSink struct {
	db *gorm.DB
}

func NewPostgresAuditSink(db *gorm.DB) *PostgresAuditSink {
	return &PostgresAuditSink{db: db}
}

func (s *PostgresAuditSink) Name() string { return "postgres" }

func (s *PostgresAuditSink) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&auditRow{})
}

func (s *PostgresAuditSink) Insert(ctx context.Context, e *model.AuditEvent) error {
	if e == nil {
		return nil
	}
	metadata, err := json.Marshal(e.Metadata)
	if err != nil {
		return err
	}
	row := &auditRow{
		ID:            e.ID,
		EventType:     e.EventType,
		EventCategory: string(e.EventCategory),
		Severity:      string(e.Severity),
		Action:        e.Action,
		Result:        string(e.Result),
		ActorType:     string(e.ActorType),
		ActorID:       e.ActorID,
		TenantID:      e.TenantID,
		ResourceType:  e.ResourceType,
		ResourceID:    e.ResourceID,
		Metadata:      metadata,
		RequestID:     e.RequestID,
		Timestamp:     e.Timestamp,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row).Error
}

func (s *PostgresAuditSink) List(ctx context.Context, f AuditFilter) ([]*model.AuditEvent, error) {
	q := s.db.WithContext(ctx).Model(&auditRow{})
	if f.TenantID != "" {
		q = q.Where("tenant_id = ?", f.TenantID)
	}
	if f.Category != "" {
		q = q.Where("event_category = ?", string(f.Category))
	}
	if f.From != nil {
		q = q.Where("timestamp >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("timestamp <= ?", *f.To)
	}

	var rows []auditRow
	if err := q.Order("timestamp DESC").Limit(f.limit()).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]*model.AuditEvent, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

// Cleanup deletes events older than the retention window and reports how
// many rows went.
func (s *PostgresAuditSink) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, nil
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&auditRow{})
	return res.RowsAffected, res.Error
}
