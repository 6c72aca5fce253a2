package model

import "time"

type Project struct {
	ID          string    `json:"id"`
	CompanyID   string    `json:"company_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectMember is a grant on a project as shown to users.
type ProjectMember struct {
	UserID      string          `json:"user_id"`
	Role        string          `json:"role"`
	Permissions map[string]bool `json:"permissions,omitempty"`
}

type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentDisabled AgentStatus = "disabled"
)

// Agent is an autonomous worker bound to one project. The API key is only
// stored as a bcrypt hash.
type Agent struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	Name       string      `json:"name"`
	Token      string      `json:"-"`
	KeyHash    string      `json:"-"`
	Status     AgentStatus `json:"status"`
	CreatedBy  string      `json:"created_by"`
	LastSeenAt *time.Time  `json:"last_seen_at,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferActive    TransferStatus = "in_progress"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

type Transfer struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	FileName   string         `json:"file_name"`
	SizeBytes  int64          `json:"size_bytes"`
	StorageKey string         `json:"storage_key"`
	Status     TransferStatus `json:"status"`
	CreatedBy  string         `json:"created_by"`
	CreatedAt  time.Time      `json:"created_at"`
}

// TelemetryRecord is one metrics sample pushed by an agent.
type TelemetryRecord struct {
	ID         string             `json:"id"`
	AgentID    string             `json:"agent_id"`
	ProjectID  string             `json:"project_id"`
	TransferID string             `json:"transfer_id,omitempty"`
	Metrics    map[string]float64 `json:"metrics"`
	Anomaly    bool               `json:"anomaly"`
	RecordedAt time.Time          `json:"recorded_at"`
}

// IdempotencyRecord is the stored outcome of a request carrying an
// idempotency key. Processing is true while the first request is in flight.
type IdempotencyRecord struct {
	Status     int       `json:"status"`
	Body       []byte    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
	Processing bool      `json:"processing"`
}
