package service

import (
	"context"
	"time"
	_ "time/tzdata"

	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

type UpdateCompanyRequest struct {
	Name               *string `json:"name" binding:"omitempty,min=1,max=120"`
	Timezone           *string `json:"timezone"`
	BusinessHoursStart *int    `json:"business_hours_start" binding:"omitempty,min=0,max=23"`
	BusinessHoursEnd   *int    `json:"business_hours_end" binding:"omitempty,min=0,max=23"`
}

type CompanyView struct {
	*model.Company
	LocalTime       string `json:"local_time"`
	InBusinessHours bool   `json:"in_business_hours"`
}

// CompanyService serves the caller's own company. Every method takes the
// tenant resolved for the request.
type CompanyService struct {
	store CompanyStore
	authz *authz.Authorizer
	now   func() time.Time
}

func NewCompanyService(store CompanyStore, az *authz.Authorizer) *CompanyService {
	return &CompanyService{store: store, authz: az, now: time.Now}
}

// Team lists the tenant's members. A caller without a tenant has no team.
func (s *CompanyService) Team(ctx context.Context, tenant *model.Tenant) ([]*model.Membership, error) {
	if tenant == nil {
		return []*model.Membership{}, nil
	}
	members, err := s.store.ListMembers(ctx, tenant.ID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return members, nil
}

func (s *CompanyService) Get(ctx context.Context, tenant *model.Tenant) (*CompanyView, error) {
	if tenant == nil {
		return nil, apperrors.NotFound("No company associated with this account")
	}
	c, err := s.store.GetCompany(ctx, tenant.ID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}
	return s.view(c), nil
}

// Update changes company settings; the caller needs the update capability
// on the company.
func (s *CompanyService) Update(ctx context.Context, p model.Principal, tenant *model.Tenant, req UpdateCompanyRequest) (*CompanyView, error) {
	if tenant == nil {
		return nil, apperrors.NotFound("No company associated with this account")
	}
	if err := s.authz.Require(ctx, p, model.ResourceCompany, tenant.ID, authz.CapUpdate); err != nil {
		return nil, err
	}
	c, err := s.store.GetCompany(ctx, tenant.ID)
	if err != nil {
		return nil, apperrors.FromStore(err)
	}

	if req.Name != nil {
		c.Name = *req.Name
	}
	if req.Timezone != nil {
		if !validTimezone(*req.Timezone) {
			return nil, errInvalidTimezone()
		}
		c.Timezone = *req.Timezone
	}
	if req.BusinessHoursStart != nil {
		c.BusinessHoursStart = *req.BusinessHoursStart
	}
	if req.BusinessHoursEnd != nil {
		c.BusinessHoursEnd = *req.BusinessHoursEnd
	}
	if c.BusinessHoursStart >= c.BusinessHoursEnd {
		return nil, apperrors.Validation("Invalid business hours", map[string]string{
			"business_hours_start": "must be before business_hours_end",
		})
	}

	if err := s.store.UpdateCompany(ctx, c); err != nil {
		return nil, apperrors.FromStore(err)
	}
	return s.view(c), nil
}

func errInvalidTimezone() error {
	return apperrors.Validation("Invalid timezone", map[string]string{"timezone": "unknown IANA zone"})
}

// validTimezone accepts IANA zone names only. "Local" loads but names the
// host's zone, and "" loads as UTC.
func validTimezone(name string) bool {
	if name == "" || name == "Local" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

func (s *CompanyService) view(c *model.Company) *CompanyView {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil || c.Timezone == "" {
		loc = time.UTC
	}
	local := s.now().In(loc)
	hour := local.Hour()
	return &CompanyView{
		Company:         c,
		LocalTime:       local.Format(time.RFC3339),
		InBusinessHours: hour >= c.BusinessHoursStart && hour < c.BusinessHoursEnd,
	}
}
