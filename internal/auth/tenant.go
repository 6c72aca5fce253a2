package auth

import (
	"context"
	"errors"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
)

// MembershipStore loads a user's organization.
type MembershipStore interface {
	GetMembershipByUser(ctx context.Context, userID string) (*model.Membership, error)
	GetCompany(ctx context.Context, id string) (*model.Company, error)
}

type TenantResolver struct {
	store MembershipStore
}

func NewTenantResolver(store MembershipStore) *TenantResolver {
	return &TenantResolver{store: store}
}

// Resolve returns the principal's tenant, or nil when it has none. Agents
// act within a project and never resolve a tenant here.
func (r *TenantResolver) Resolve(ctx context.Context, p model.Principal) (*model.Tenant, error) {
	user, ok := p.(*model.UserPrincipal)
	if !ok {
		return nil, nil
	}
	m, err := r.store.GetMembershipByUser(ctx, user.ID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.FromStore(err)
	}
	company, err := r.store.GetCompany(ctx, m.CompanyID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, apperrors.FromStore(err)
	}
	return company.Tenant(), nil
}
