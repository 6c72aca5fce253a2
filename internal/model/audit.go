package model

import "time"

type EventCategory string

const (
	CategorySecurity EventCategory = "security"
	CategoryData     EventCategory = "data"
	CategoryAdmin    EventCategory = "admin"
	CategorySystem   EventCategory = "system"
)

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

type EventResult string

const (
	ResultSuccess EventResult = "success"
	ResultFailure EventResult = "failure"
	ResultError   EventResult = "error"
)

// AuditEvent is an immutable record of a security- or data-relevant action.
type AuditEvent struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	EventCategory EventCategory  `json:"event_category"`
	Severity      Severity       `json:"severity"`
	Action        string         `json:"action"`
	Result        EventResult    `json:"result"`
	ActorType     ActorType      `json:"actor_type"`
	ActorID       string         `json:"actor_id,omitempty"`
	TenantID      string         `json:"tenant_id,omitempty"`
	ResourceType  string         `json:"resource_type,omitempty"`
	ResourceID    string         `json:"resource_id,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	RequestID     string         `json:"request_id"`
	Timestamp     time.Time      `json:"timestamp"`
}
