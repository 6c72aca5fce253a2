// Package authz decides whether a principal may exercise a capability on a
// resource. Decisions are made from the principal's grant on the resource,
// fetched from the store on every call.
//
// Evaluation is two-tier and the order matters: role shortcuts are applied
// first and cannot be narrowed by the explicit permission map.
//
//   - project "admin" or company "owner": every capability
//   - "editor" or "admin" (otherwise): every capability except delete
//   - anything else: explicit lookup in the grant's permission map, deny when absent
package authz

import (
	"context"
	"errors"
	"fmt"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/pkg/metrics"
)

// GrantStore reads a principal's membership row for one resource.
// Implementations return apperrors.ErrNotFound when no row exists.
type GrantStore interface {
	FindGrant(ctx context.Context, rt model.ResourceType, resourceID, principalID string) (*model.PermissionGrant, error)
}

type Authorizer struct {
	store GrantStore
}

func New(store GrantStore) *Authorizer {
	return &Authorizer{store: store}
}

// Decision is the outcome of a permission check.
type Decision struct {
	Allowed bool
	Reason  string
	Role    string
}

// Decide evaluates capability c on the resource for principal p.
func (a *Authorizer) Decide(ctx context.Context, p model.Principal, rt model.ResourceType, resourceID string, c Capability) (Decision, error) {
	if p == nil {
		return Decision{Reason: "anonymous"}, nil
	}
	if !rt.Valid() {
		return Decision{}, apperrors.BadRequest(fmt.Sprintf("unknown resource type %q", rt))
	}
	if !Supports(rt, c) {
		return Decision{Reason: "capability not defined for resource type"}, nil
	}

	grant, err := a.store.FindGrant(ctx, rt, resourceID, p.PrincipalID())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return a.record(rt, Decision{Reason: "no membership"}), nil
		}
		return Decision{}, apperrors.FromStore(err)
	}
	return a.record(rt, evaluate(rt, grant, c)), nil
}

func evaluate(rt model.ResourceType, grant *model.PermissionGrant, c Capability) Decision {
	role := grant.Role
	switch {
	case rt == model.ResourceProject && role == model.RoleAdmin,
		rt == model.ResourceCompany && role == model.RoleOwner:
		return Decision{Allowed: true, Reason: "role " + role, Role: role}
	case role == model.RoleEditor || role == model.RoleAdmin:
		if c == CapDelete {
			return Decision{Reason: "role " + role + " cannot delete", Role: role}
		}
		return Decision{Allowed: true, Reason: "role " + role, Role: role}
	}
	if Decode(rt, grant.Permissions).Has(c) {
		return Decision{Allowed: true, Reason: "explicit permission", Role: role}
	}
	return Decision{Reason: "permission not granted", Role: role}
}

func (a *Authorizer) record(rt model.ResourceType, d Decision) Decision {
	result := "deny"
	if d.Allowed {
		result = "allow"
	}
	metrics.AuthzDecisions.WithLabelValues(string(rt), result).Inc()
	return d
}

// Check reports whether p holds capability c on the resource.
func (a *Authorizer) Check(ctx context.Context, p model.Principal, rt model.ResourceType, resourceID string, c Capability) (bool, error) {
	d, err := a.Decide(ctx, p, rt, resourceID, c)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Require fails with an Authorization error when the check denies. The
// error details name the resource so the audit layer can record it.
func (a *Authorizer) Require(ctx context.Context, p model.Principal, rt model.ResourceType, resourceID string, c Capability) error {
	_, err := a.Enforce(ctx, p, rt, resourceID, c)
	return err
}

// Enforce is Require that also hands back the decision, so callers can
// inspect the role that allowed it.
func (a *Authorizer) Enforce(ctx context.Context, p model.Principal, rt model.ResourceType, resourceID string, c Capability) (Decision, error) {
	d, err := a.Decide(ctx, p, rt, resourceID, c)
	if err != nil {
		return d, err
	}
	if d.Allowed {
		return d, nil
	}
	return d, Denied(rt, resourceID, c, "Insufficient permissions")
}

// Denied builds the Authorization error Require returns.
func Denied(rt model.ResourceType, resourceID string, c Capability, msg string) error {
	return apperrors.Authorization(msg).WithDetails(DenyDetails{
		ResourceType: string(rt),
		ResourceID:   resourceID,
		Capability:   string(c),
	})
}

// RoleRank orders grant roles for delegation: a caller may only hand out
// roles ranked at or below its own. Unknown roles rank zero.
func RoleRank(rt model.ResourceType, role string) int {
	switch role {
	case model.RoleOwner:
		if rt == model.ResourceCompany {
			return 4
		}
	case model.RoleAdmin:
		return 3
	case model.RoleEditor:
		return 2
	case model.RoleViewer, model.RoleMember:
		return 1
	}
	return 0
}

// DenyDetails is attached to Authorization errors raised by Require.
type DenyDetails struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Capability   string `json:"capability"`
}
