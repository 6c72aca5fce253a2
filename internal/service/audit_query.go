package service

import (
	"context"

	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/repository"
)

// AuditEventsQuery is the raw query of GET /audit/events. From and To take
// RFC3339 or unix seconds.
type AuditEventsQuery struct {
	Category string `form:"category" binding:"omitempty,oneof=security data admin system"`
	From     string `form:"from"`
	To       string `form:"to"`
	Limit    int    `form:"limit" binding:"omitempty,min=1,max=1000"`
}

// AuditQuery serves a company's audit trail to members allowed to view it.
type AuditQuery struct {
	audit *AuditService
	authz *authz.Authorizer
}

func NewAuditQuery(audit *AuditService, az *authz.Authorizer) *AuditQuery {
	return &AuditQuery{audit: audit, authz: az}
}

// List returns the tenant's events matching f. The tenant always overrides
// f.TenantID.
func (q *AuditQuery) List(ctx context.Context, p model.Principal, tenant *model.Tenant, f repository.AuditFilter) ([]*model.AuditEvent, error) {
	if tenant == nil {
		return nil, apperrors.NotFound("No company associated with this account")
	}
	if err := q.authz.Require(ctx, p, model.ResourceCompany, tenant.ID, authz.CapViewAudit); err != nil {
		return nil, err
	}
	f.TenantID = tenant.ID
	return q.audit.List(ctx, f)
}
