package service

import (
	"github.com/fluxrelay/fluxgate/internal/model"
)

const (
	EventAuthentication = "authentication"
	EventAuthorization  = "authorization"
	EventDataAccess     = "data_access"
	EventRateLimit      = "rate_limit"
	EventSecurity       = "security_event"
)

// RequestInfo is the request-side context copied into every event.
type RequestInfo struct {
	RequestID string
	ActorType model.ActorType
	ActorID   string
	TenantID  string
	Method    string
	Path      string
	ClientIP  string
	UserAgent string
}

func (r RequestInfo) event(eventType string, category model.EventCategory, severity model.Severity, action string, result model.EventResult) *model.AuditEvent {
	actorType := r.ActorType
	if actorType == "" {
		actorType = model.ActorAnonymous
	}
	return &model.AuditEvent{
		EventType:     eventType,
		EventCategory: category,
		Severity:      severity,
		Action:        action,
		Result:        result,
		ActorType:     actorType,
		ActorID:       r.ActorID,
		TenantID:      r.TenantID,
		RequestID:     r.RequestID,
		Metadata: map[string]any{
			"method":     r.Method,
			"path":       r.Path,
			"ip":         r.ClientIP,
			"user_agent": r.UserAgent,
		},
	}
}

func mergeMetadata(e *model.AuditEvent, extra map[string]any) {
	for k, v := range extra {
		e.Metadata[k] = v
	}
}

// AuthenticationSucceeded records a principal resolved by an authenticator.
func (s *AuditService) AuthenticationSucceeded(r RequestInfo, method string) {
	e := r.event(EventAuthentication, model.CategorySecurity, model.SeverityLow, "authenticate", model.ResultSuccess)
	e.Metadata["auth_method"] = method
	s.Log(e)
}

// AuthenticationFailed records a rejected credential. The actor is whatever
// the request claimed, usually anonymous.
func (s *AuditService) AuthenticationFailed(r RequestInfo, method, reason string) {
	e := r.event(EventAuthentication, model.CategorySecurity, model.SeverityMedium, "authenticate", model.ResultFailure)
	e.Metadata["auth_method"] = method
	e.Metadata["reason"] = reason
	s.Log(e)
}

// AuthorizationDecided records an allow or deny. Denials are high severity.
func (s *AuditService) AuthorizationDecided(r RequestInfo, resourceType, resourceID, capability string, allowed bool) {
	severity, result := model.SeverityLow, model.ResultSuccess
	if !allowed {
		severity, result = model.SeverityHigh, model.ResultFailure
	}
	e := r.event(EventAuthorization, model.CategorySecurity, severity, capability, result)
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	e.Metadata["capability"] = capability
	s.Log(e)
}

// DataAccess records a successful operation on a resource.
func (s *AuditService) DataAccess(r RequestInfo, operation, resourceType, resourceID string, extra map[string]any) {
	e := r.event(EventDataAccess, model.CategoryData, model.SeverityLow, operation, model.ResultSuccess)
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	mergeMetadata(e, extra)
	s.Log(e)
}

// RateLimitChecked records a limiter outcome; an exhausted budget is high
// severity.
func (s *AuditService) RateLimitChecked(r RequestInfo, allowed bool, limit, remaining int, tier model.SubscriptionTier) {
	severity, result := model.SeverityLow, model.ResultSuccess
	if !allowed {
		severity, result = model.SeverityHigh, model.ResultFailure
	}
	e := r.event(EventRateLimit, model.CategorySecurity, severity, "rate_limit_check", result)
	e.Metadata["limit"] = limit
	e.Metadata["remaining"] = remaining
	e.Metadata["tier"] = string(tier)
	s.Log(e)
}

// SecurityEvent records anything else worth auditing; the caller picks the
// severity and result.
func (s *AuditService) SecurityEvent(r RequestInfo, action string, severity model.Severity, result model.EventResult, extra map[string]any) {
	e := r.event(EventSecurity, model.CategorySecurity, severity, action, result)
	mergeMetadata(e, extra)
	s.Log(e)
}

// AdminAction records a change to tenant or membership configuration.
func (s *AuditService) AdminAction(r RequestInfo, action, resourceType, resourceID string, extra map[string]any) {
	e := r.event(action, model.CategoryAdmin, model.SeverityMedium, action, model.ResultSuccess)
	e.ResourceType = resourceType
	e.ResourceID = resourceID
	mergeMetadata(e, extra)
	s.Log(e)
}
