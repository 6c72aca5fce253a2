package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxrelay/fluxgate/internal/auth"
	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/repository"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type memSink struct {
	mu     sync.Mutex
	events []*model.AuditEvent
}

func (s *memSink) Name() string { return "mem" }

func (s *memSink) Insert(_ context.Context, e *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// auditFor returns an audit service and a function that drains it and
// returns everything delivered.
func auditFor(t *testing.T) (*service.AuditService, func() []*model.AuditEvent) {
	t.Helper()
	sink := &memSink{}
	svc, err := service.NewAuditService(service.AuditConfig{Workers: 1}, logger.Discard(), sink)
	require.NoError(t, err)
	return svc, func() []*model.AuditEvent {
		require.NoError(t, svc.Close(context.Background()))
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.events
	}
}

func TestRedactAuditBodyAgents(t *testing.T) {
	body := []byte(`{"name":"worker","agent_token":"agt_1","nested":{"api_key":"k","password":"p"},"list":[{"secret":"s"}]}`)
	out := redactAuditBody("/agents/authenticate", body)

	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &data))
	assert.Equal(t, "worker", data["name"])
	assert.Equal(t, "***", data["agent_token"])
	nested := data["nested"].(map[string]any)
	assert.Equal(t, "***", nested["api_key"])
	assert.Equal(t, "***", nested["password"])
	item := data["list"].([]any)[0].(map[string]any)
	assert.Equal(t, "***", item["secret"])
}

func TestRedactAuditBodyNonSensitivePath(t *testing.T) {
	body := []byte(`{"name":"demo"}`)
	assert.Equal(t, string(body), redactAuditBody("/projects", body))
	assert.Empty(t, redactAuditBody("/projects", nil))
}

func TestRedactAuditBodyInvalidJSON(t *testing.T) {
	assert.Equal(t, "[redacted]", redactAuditBody("/transfers", []byte("not-json")))
}

func TestAuditRecordsDataAccess(t *testing.T) {
	audit, drain := auditFor(t)
	var bound map[string]any
	r := newEngine(http.MethodPost, "/projects/:id/members", func(c *gin.Context, rc *reqctx.Context) error {
		require.NoError(t, c.ShouldBindJSON(&bound))
		rc.SetResource("project", rc.RouteParam("id"))
		c.JSON(http.StatusCreated, gin.H{})
		return nil
	}, Audit(audit))

	w := serve(r, httptest.NewRequest(http.MethodPost, "/projects/p1/members", strings.NewReader(`{"user_id":"u2"}`)))
	require.Equal(t, http.StatusCreated, w.Code)
	// The body is still readable after the audit copy.
	assert.Equal(t, "u2", bound["user_id"])

	events := drain()
	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, service.EventDataAccess, e.EventType)
	assert.Equal(t, "create", e.Action)
	assert.Equal(t, "project", e.ResourceType)
	assert.Equal(t, "p1", e.ResourceID)
	assert.Equal(t, w.Header().Get(HeaderRequestID), e.RequestID)
	assert.Equal(t, `{"user_id":"u2"}`, e.Metadata["request_body"])
}

func TestAuditClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		eventType string
		severity  model.Severity
		result    model.EventResult
	}{
		{"denied", apperrors.Authorization("Insufficient permissions").WithDetails(authz.DenyDetails{ResourceType: "project", ResourceID: "p1", Capability: "delete"}), http.StatusForbidden, service.EventAuthorization, model.SeverityHigh, model.ResultFailure},
		{"unauthenticated", apperrors.Authentication("Invalid token"), http.StatusUnauthorized, service.EventAuthentication, model.SeverityMedium, model.ResultFailure},
		{"not found", apperrors.NotFound("Project not found"), http.StatusNotFound, service.EventSecurity, model.SeverityMedium, model.ResultError},
		{"typed server", apperrors.Server("Internal server error", errors.New("db")), http.StatusInternalServerError, service.EventSecurity, model.SeverityHigh, model.ResultError},
		{"untyped", errors.New("nil map"), http.StatusInternalServerError, service.EventSecurity, model.SeverityCritical, model.ResultError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			audit, drain := auditFor(t)
			r := newEngine(http.MethodDelete, "/projects/:id", func(*gin.Context, *reqctx.Context) error {
				return tt.err
			}, Audit(audit))

			w := serve(r, httptest.NewRequest(http.MethodDelete, "/projects/p1", nil))
			assert.Equal(t, tt.status, w.Code)

			events := drain()
			require.Len(t, events, 1)
			assert.Equal(t, tt.eventType, events[0].EventType)
			assert.Equal(t, tt.severity, events[0].Severity)
			assert.Equal(t, tt.result, events[0].Result)
		})
	}
}

func TestAuditRecordsPanicAsCritical(t *testing.T) {
	audit, drain := auditFor(t)
	r := newEngine(http.MethodGet, "/x", func(*gin.Context, *reqctx.Context) error {
		panic("index out of range")
	}, Audit(audit))

	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	events := drain()
	require.Len(t, events, 1)
	assert.Equal(t, model.SeverityCritical, events[0].Severity)
}

func TestAuthenticateUser(t *testing.T) {
	store := repository.NewMemoryStore()
	store.PutUser(&model.User{ID: "u1", Email: "a@example.com", SubscriptionTier: model.TierPro})
	tokens := auth.NewTokenService("test-secret", "fluxgate", time.Hour)
	users := auth.NewUserAuthenticator(tokens, store)
	token, err := tokens.Issue("u1", "a@example.com", "")
	require.NoError(t, err)

	var seen *model.UserPrincipal
	terminal := func(c *gin.Context, rc *reqctx.Context) error {
		seen, _ = rc.User()
		return ok(c, rc)
	}

	tests := []struct {
		name    string
		headers map[string]string
		status  int
	}{
		{"valid bearer", map[string]string{HeaderAuthorization: "Bearer " + token}, http.StatusOK},
		{"missing", nil, http.StatusUnauthorized},
		{"garbage", map[string]string{HeaderAuthorization: "Bearer nope"}, http.StatusUnauthorized},
		{"agent only", map[string]string{HeaderAgentToken: "agt_x", HeaderAgentKey: "k"}, http.StatusUnauthorized},
		{"both", map[string]string{HeaderAuthorization: "Bearer " + token, HeaderAgentToken: "agt_x"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			audit, drain := auditFor(t)
			r := newEngine(http.MethodGet, "/projects", terminal, AuthenticateUser(users, audit))
			req := httptest.NewRequest(http.MethodGet, "/projects", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)

			events := drain()
			require.Len(t, events, 1)
			assert.Equal(t, service.EventAuthentication, events[0].EventType)
			if tt.status == http.StatusOK {
				require.NotNil(t, seen)
				assert.Equal(t, model.TierPro, seen.SubscriptionTier)
				assert.Equal(t, model.ResultSuccess, events[0].Result)
			} else {
				assert.Nil(t, seen)
				assert.Equal(t, apperrors.KindAuthentication, decodeEnvelope(t, w).Code)
				assert.Equal(t, model.ResultFailure, events[0].Result)
			}
		})
	}
}

func TestAuthenticateAgent(t *testing.T) {
	ctx := context.Background()
	store := repository.NewMemoryStore()
	require.NoError(t, store.CreateProjectWithOwner(ctx, &model.Project{ID: "p1", Name: "demo", CreatedBy: "u1"},
		&model.PermissionGrant{ResourceType: model.ResourceProject, ResourceID: "p1", PrincipalID: "u1", Role: model.RoleAdmin}))
	hash, err := auth.HashAPIKey("secret-key")
	require.NoError(t, err)
	require.NoError(t, store.CreateAgent(ctx, &model.Agent{ID: "a1", ProjectID: "p1", Token: "agt_1", KeyHash: hash, Status: model.AgentActive}, nil))

	var seen *model.AgentPrincipal
	r := newEngine(http.MethodPost, "/telemetry", func(c *gin.Context, rc *reqctx.Context) error {
		seen, _ = rc.Agent()
		return ok(c, rc)
	}, AuthenticateAgent(auth.NewAgentAuthenticator(store), nil))

	send := func(headers map[string]string) int {
		req := httptest.NewRequest(http.MethodPost, "/telemetry", nil)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		return serve(r, req).Code
	}

	assert.Equal(t, http.StatusOK, send(map[string]string{HeaderAgentToken: "agt_1", HeaderAgentKey: "secret-key"}))
	require.NotNil(t, seen)
	assert.Equal(t, "p1", seen.ProjectID)

	assert.Equal(t, http.StatusUnauthorized, send(map[string]string{HeaderAgentToken: "agt_1", HeaderAgentKey: "wrong"}))
	assert.Equal(t, http.StatusUnauthorized, send(map[string]string{HeaderAgentToken: "agt_1"}))
	assert.Equal(t, http.StatusUnauthorized, send(map[string]string{HeaderAuthorization: "Bearer x"}))
}

func TestResolveTenant(t *testing.T) {
	store := repository.NewMemoryStore()
	store.PutCompany(&model.Company{ID: "c1", Name: "Acme", Timezone: "UTC"})
	store.PutMembership(&model.Membership{UserID: "member", CompanyID: "c1", Role: model.RoleAdmin})

	var tenantID string
	r := newEngine(http.MethodGet, "/team", func(c *gin.Context, rc *reqctx.Context) error {
		tenantID = rc.TenantID()
		return ok(c, rc)
	}, func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		if err := rc.SetPrincipal(&model.UserPrincipal{ID: c.GetHeader("X-Test-User")}); err != nil {
			return err
		}
		return next(c, rc)
	}, ResolveTenant(auth.NewTenantResolver(store)))

	for user, want := range map[string]string{"member": "c1", "loner": ""} {
		tenantID = "unset"
		req := httptest.NewRequest(http.MethodGet, "/team", nil)
		req.Header.Set("X-Test-User", user)
		w := serve(r, req)
		assert.Equal(t, http.StatusOK, w.Code, user)
		assert.Equal(t, want, tenantID, user)
	}
}
