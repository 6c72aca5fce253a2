package model

// ResourceType is a kind of resource guarded by permission grants.
type ResourceType string

const (
	ResourceProject  ResourceType = "project"
	ResourceCompany  ResourceType = "company"
	ResourceAgent    ResourceType = "agent"
	ResourceTransfer ResourceType = "transfer"
)

func (r ResourceType) Valid() bool {
	switch r {
	case ResourceProject, ResourceCompany, ResourceAgent, ResourceTransfer:
		return true
	}
	return false
}

// Role names used by grants.
const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleEditor = "editor"
	RoleViewer = "viewer"
	RoleMember = "member"
)

// PermissionGrant is a principal's membership row for one resource. The
// permission map is keyed by raw capability names as stored; the authz
// package decodes it against its closed capability table.
type PermissionGrant struct {
	ResourceType ResourceType    `json:"resource_type"`
	ResourceID   string          `json:"resource_id"`
	PrincipalID  string          `json:"principal_id"`
	Role         string          `json:"role"`
	Permissions  map[string]bool `json:"permissions"`
}
