package authz

import "github.com/fluxrelay/fluxgate/internal/model"

// Capability is a named permission checked against a resource.
type Capability string

const (
	CapRead          Capability = "read"
	CapCreate        Capability = "create"
	CapUpdate        Capability = "update"
	CapDelete        Capability = "delete"
	CapManageMembers Capability = "manage_members"

	// project
	CapManageAgents   Capability = "manage_agents"
	CapCreateTransfer Capability = "create_transfer"
	CapViewTelemetry  Capability = "view_telemetry"

	// company
	CapCreateProject Capability = "create_project"
	CapManageBilling Capability = "manage_billing"
	CapViewAudit     Capability = "view_audit"

	// agent
	CapRotateKey Capability = "rotate_key"

	// transfer
	CapUpload   Capability = "upload"
	CapDownload Capability = "download"
)

// capabilityTable is the closed set of capabilities each resource type
// understands. A capability missing here can never be granted for that type.
var capabilityTable = map[model.ResourceType][]Capability{
	model.ResourceProject: {
		CapRead, CapUpdate, CapDelete, CapManageMembers,
		CapManageAgents, CapCreateTransfer, CapViewTelemetry,
	},
	model.ResourceCompany: {
		CapRead, CapUpdate, CapDelete, CapManageMembers,
		CapCreateProject, CapManageBilling, CapViewAudit,
	},
	model.ResourceAgent: {
		CapRead, CapUpdate, CapDelete, CapRotateKey,
	},
	model.ResourceTransfer: {
		CapRead, CapCreate, CapUpdate, CapDelete, CapUpload, CapDownload,
	},
}

// Capabilities returns the capabilities defined for rt.
func Capabilities(rt model.ResourceType) []Capability {
	out := make([]Capability, len(capabilityTable[rt]))
	copy(out, capabilityTable[rt])
	return out
}

// Supports reports whether c is defined for rt.
func Supports(rt model.ResourceType, c Capability) bool {
	for _, known := range capabilityTable[rt] {
		if known == c {
			return true
		}
	}
	return false
}

// CapabilitySet is a decoded permission map restricted to one resource type.
type CapabilitySet map[Capability]bool

// Decode keeps only the keys of raw that rt defines.
func Decode(rt model.ResourceType, raw map[string]bool) CapabilitySet {
	set := make(CapabilitySet, len(raw))
	for key, granted := range raw {
		c := Capability(key)
		if Supports(rt, c) {
			set[c] = granted
		}
	}
	return set
}

// Has reports an explicit grant of c. Absent keys deny.
func (s CapabilitySet) Has(c Capability) bool {
	return s[c]
}
