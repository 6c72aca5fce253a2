package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fluxrelay/fluxgate/internal/auth"
	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/handler"
	"github.com/fluxrelay/fluxgate/internal/middleware"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/ratelimit"
	"github.com/fluxrelay/fluxgate/internal/repository"
	"github.com/fluxrelay/fluxgate/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type captureSink struct {
	mu     sync.Mutex
	events []*model.AuditEvent
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Insert(_ context.Context, e *model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

type brokenSink struct{}

func (brokenSink) Name() string { return "broken" }
func (brokenSink) Insert(context.Context, *model.AuditEvent) error {
	return errors.New("audit database unreachable")
}

type fakeSigner struct{}

func (fakeSigner) PresignUpload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key + "?op=put", nil
}

func (fakeSigner) PresignDownload(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://storage.test/" + key + "?op=get", nil
}

type testEnv struct {
	engine *gin.Engine
	store  *repository.MemoryStore
	tokens *auth.TokenService
	audit  *service.AuditService
}

func newTestEnv(t *testing.T, sinks ...service.AuditSink) *testEnv {
	t.Helper()
	log := logger.Discard()
	store := repository.NewMemoryStore()
	tokens := auth.NewTokenService("router-test-secret", "fluxgate", time.Hour)
	limiter := ratelimit.New(ratelimit.DefaultProfiles(), ratelimit.WithLogger(log))
	audit, err := service.NewAuditService(service.AuditConfig{Workers: 1}, log, sinks...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close(context.Background()) })

	az := authz.New(store)
	agentAuth := auth.NewAgentAuthenticator(store)
	predictor := service.NewHeuristicPredictor()

	engine := New(Deps{
		Log:         log,
		Audit:       audit,
		Limiter:     limiter,
		Users:       auth.NewUserAuthenticator(tokens, store),
		Agents:      agentAuth,
		Tenants:     auth.NewTenantResolver(store),
		Idempotency: middleware.NewInMemIdempotencyStore(time.Hour),
		MetricsPath: "/metrics",
		Handlers: Handlers{
			Projects:  handler.NewProjectHandler(service.NewProjectService(store, az)),
			Agents:    handler.NewAgentHandler(service.NewAgentService(store, az, agentAuth)),
			Telemetry: handler.NewTelemetryHandler(service.NewTelemetryService(store, az, predictor, log)),
			Transfers: handler.NewTransferHandler(service.NewTransferService(store, az, fakeSigner{}, predictor, time.Minute)),
			Company:   handler.NewCompanyHandler(service.NewCompanyService(store, az)),
			Users:     handler.NewUserHandler(service.NewPreferenceService(store), service.NewSessionService(limiter)),
			Audit:     handler.NewAuditHandler(service.NewAuditQuery(audit, az)),
			Health:    handler.NewHealthHandler(nil),
		},
	})
	return &testEnv{engine: engine, store: store, tokens: tokens, audit: audit}
}

func (e *testEnv) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := e.tokens.Issue(userID, userID+"@example.com", "")
	require.NoError(t, err)
	return tok
}

type call struct {
	method  string
	path    string
	body    any
	bearer  string
	headers map[string]string
}

func (e *testEnv) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if c.body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(c.body))
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+c.bearer)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type envelope struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		Status  int    `json:"status"`
	} `json:"error"`
}

func (e *testEnv) createProject(t *testing.T, owner string) string {
	t.Helper()
	w := e.do(t, call{method: http.MethodPost, path: "/projects", bearer: e.token(t, owner), body: map[string]string{"name": "Relay"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[model.Project](t, w).ID
}

func TestAnonymousRequestToUserRoute(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, call{method: http.MethodGet, path: "/projects"})

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := decode[envelope](t, w)
	assert.Equal(t, "AUTHENTICATION_ERROR", body.Error.Code)
	assert.Equal(t, http.StatusUnauthorized, body.Error.Status)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderRequestID))
}

func TestViewerCannotDeleteProject(t *testing.T) {
	sink := &captureSink{}
	env := newTestEnv(t, sink)
	pid := env.createProject(t, "alice")

	w := env.do(t, call{method: http.MethodPost, path: "/projects/" + pid + "/members", bearer: env.token(t, "alice"),
		body: map[string]any{"user_id": "bob", "role": "viewer", "permissions": map[string]bool{"read": true}}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, call{method: http.MethodDelete, path: "/projects/" + pid, bearer: env.token(t, "bob")})
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AUTHORIZATION_ERROR", decode[envelope](t, w).Error.Code)

	// Still there.
	w = env.do(t, call{method: http.MethodGet, path: "/projects/" + pid, bearer: env.token(t, "bob")})
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, env.audit.Close(context.Background()))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	var denied *model.AuditEvent
	for _, e := range sink.events {
		if e.EventType == service.EventAuthorization && e.ActorID == "bob" {
			denied = e
		}
	}
	require.NotNil(t, denied)
	assert.Equal(t, model.CategorySecurity, denied.EventCategory)
	assert.Equal(t, model.SeverityHigh, denied.Severity)
	assert.Equal(t, model.ResultFailure, denied.Result)
	assert.Equal(t, pid, denied.ResourceID)
}

func TestMemberChangesAreAdminEvents(t *testing.T) {
	sink := &captureSink{}
	env := newTestEnv(t, sink)
	pid := env.createProject(t, "alice")
	members := "/projects/" + pid + "/members"

	w := env.do(t, call{method: http.MethodPost, path: members, bearer: env.token(t, "alice"),
		body: map[string]any{"user_id": "bob", "role": "editor"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(t, call{method: http.MethodPost, path: members, bearer: env.token(t, "bob"),
		body: map[string]any{"user_id": "mallory", "role": "admin"}})
	require.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, call{method: http.MethodDelete, path: "/projects/" + pid, bearer: env.token(t, "mallory")})
	assert.Equal(t, http.StatusForbidden, w.Code)

	require.NoError(t, env.audit.Close(context.Background()))
	sink.mu.Lock()
	defer sink.mu.Unlock()
	var admin []*model.AuditEvent
	for _, e := range sink.events {
		if e.EventCategory == model.CategoryAdmin {
			admin = append(admin, e)
		}
	}
	require.Len(t, admin, 1)
	assert.Equal(t, "member_added", admin[0].EventType)
	assert.Equal(t, "alice", admin[0].ActorID)
	assert.Equal(t, pid, admin[0].ResourceID)
	assert.Equal(t, "bob", admin[0].Metadata["member_id"])
	assert.Equal(t, "editor", admin[0].Metadata["role"])
}

func TestAgentCredentialsRejectedOnUserRoute(t *testing.T) {
	env := newTestEnv(t)
	pid := env.createProject(t, "alice")

	w := env.do(t, call{method: http.MethodPost, path: "/agents", bearer: env.token(t, "alice"),
		body: map[string]string{"project_id": pid, "name": "collector"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	creds := decode[service.AgentCredentials](t, w)
	require.NotEmpty(t, creds.APIKey)
	agentHeaders := map[string]string{middleware.HeaderAgentToken: creds.Token, middleware.HeaderAgentKey: creds.APIKey}

	w = env.do(t, call{method: http.MethodGet, path: "/projects", headers: agentHeaders})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The same credentials are good on the agent route.
	w = env.do(t, call{method: http.MethodPost, path: "/telemetry", headers: agentHeaders,
		body: map[string]any{"metrics": map[string]float64{"latency_ms": 900, "cpu_usage": 40}}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[service.TelemetryResult](t, w)
	assert.True(t, result.Record.Anomaly)

	// And a user token is refused on the agent route.
	w = env.do(t, call{method: http.MethodPost, path: "/telemetry", bearer: env.token(t, "alice"),
		body: map[string]any{"metrics": map[string]float64{"latency_ms": 1}}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, call{method: http.MethodGet, path: "/telemetry?project_id=" + pid, bearer: env.token(t, "alice")})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestFailingAuditSinkDoesNotChangeResponse(t *testing.T) {
	env := newTestEnv(t, brokenSink{})

	w := env.do(t, call{method: http.MethodPost, path: "/projects", bearer: env.token(t, "alice"), body: map[string]string{"name": "Relay"}})
	require.Equal(t, http.StatusCreated, w.Code)
	created := decode[model.Project](t, w)
	assert.Equal(t, "Relay", created.Name)

	w = env.do(t, call{method: http.MethodGet, path: "/projects", bearer: env.token(t, "alice")})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Projects []model.Project `json:"projects"`
	}](t, w)
	require.Len(t, list.Projects, 1)
	assert.Equal(t, created.ID, list.Projects[0].ID)
}

func TestRateLimitOnUserRoute(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "carol")

	for i := 1; i <= 100; i++ {
		w := env.do(t, call{method: http.MethodGet, path: "/projects", bearer: tok})
		require.Equal(t, http.StatusOK, w.Code, "request %d", i)
		assert.Equal(t, strconv.Itoa(100-i), w.Header().Get(middleware.HeaderRateLimitRemaining))
	}

	w := env.do(t, call{method: http.MethodGet, path: "/projects", bearer: tok})
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", decode[envelope](t, w).Error.Code)
	retry, err := strconv.Atoi(w.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retry, 0)

	// Budgets are per route.
	w = env.do(t, call{method: http.MethodGet, path: "/user/preferences", bearer: tok})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestValidationErrorEnvelope(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, call{method: http.MethodPost, path: "/projects", bearer: env.token(t, "alice"), body: map[string]string{}})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "VALIDATION_ERROR", decode[envelope](t, w).Error.Code)
}

func TestCompanyRoutes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.PutCompany(&model.Company{ID: "c1", Name: "Acme", Timezone: "UTC", BusinessHoursStart: 9, BusinessHoursEnd: 17})
	env.store.PutMembership(&model.Membership{UserID: "owner", CompanyID: "c1", Role: model.RoleOwner})
	env.store.PutMembership(&model.Membership{UserID: "staff", CompanyID: "c1", Role: model.RoleMember})
	require.NoError(t, env.store.CreateGrant(ctx, &model.PermissionGrant{
		ResourceType: model.ResourceCompany, ResourceID: "c1", PrincipalID: "owner", Role: model.RoleOwner,
	}))

	w := env.do(t, call{method: http.MethodGet, path: "/team", bearer: env.token(t, "staff")})
	require.Equal(t, http.StatusOK, w.Code)
	team := decode[struct {
		Members []model.Membership `json:"members"`
	}](t, w)
	assert.Len(t, team.Members, 2)

	w = env.do(t, call{method: http.MethodGet, path: "/team", bearer: env.token(t, "outsider")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"members":[]}`, w.Body.String())

	w = env.do(t, call{method: http.MethodPatch, path: "/company", bearer: env.token(t, "staff"), body: map[string]any{"name": "Hijack"}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, call{method: http.MethodPatch, path: "/company", bearer: env.token(t, "owner"), body: map[string]any{"timezone": "Mars/Olympus"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, call{method: http.MethodPatch, path: "/company", bearer: env.token(t, "owner"), body: map[string]any{"timezone": "Europe/Berlin"}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "Europe/Berlin", decode[model.Company](t, w).Timezone)

	w = env.do(t, call{method: http.MethodGet, path: "/company", bearer: env.token(t, "outsider")})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, call{method: http.MethodGet, path: "/audit/events?category=security", bearer: env.token(t, "owner")})
	require.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, call{method: http.MethodGet, path: "/audit/events", bearer: env.token(t, "staff")})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w = env.do(t, call{method: http.MethodGet, path: "/audit/events?from=yesterday", bearer: env.token(t, "owner")})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransferFlow(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "alice")
	pid := env.createProject(t, "alice")

	create := call{method: http.MethodPost, path: "/transfers", bearer: tok,
		body:    map[string]any{"project_id": pid, "file_name": "../../etc/data.bin", "size_bytes": 2048},
		headers: map[string]string{middleware.HeaderIdempotencyKey: "t-1"}}
	w := env.do(t, create)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	transfer := decode[model.Transfer](t, w)

	replay := env.do(t, create)
	assert.Equal(t, http.StatusCreated, replay.Code)
	assert.Equal(t, transfer.ID, decode[model.Transfer](t, replay).ID)

	w = env.do(t, call{method: http.MethodPost, path: "/transfers/upload-url", bearer: tok, body: map[string]string{"transfer_id": transfer.ID}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	signed := decode[service.SignedURL](t, w)
	assert.Equal(t, "PUT", signed.Method)
	assert.Contains(t, signed.URL, "data.bin")
	assert.NotContains(t, signed.URL, "..")

	w = env.do(t, call{method: http.MethodPost, path: "/transfers/download-url", bearer: env.token(t, "mallory"), body: map[string]string{"transfer_id": transfer.ID}})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, call{method: http.MethodPost, path: "/transfers/" + transfer.ID + "/optimize", bearer: tok,
		body: map[string]any{"bandwidth_mbps": 100, "packet_loss_rate": 0.1}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.do(t, call{method: http.MethodGet, path: "/transfers?project_id=" + pid, bearer: tok})
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Transfers []model.Transfer `json:"transfers"`
	}](t, w)
	assert.Len(t, list.Transfers, 1)
}

func TestPublicRoutes(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, call{method: http.MethodGet, path: "/session/config"})
	require.Equal(t, http.StatusOK, w.Code)
	anon := decode[service.SessionConfig](t, w)
	assert.False(t, anon.Authenticated)
	assert.Equal(t, model.TierAnonymous, anon.Tier)

	w = env.do(t, call{method: http.MethodGet, path: "/session/config", bearer: env.token(t, "alice")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[service.SessionConfig](t, w).Authenticated)

	w = env.do(t, call{method: http.MethodGet, path: "/session/config", bearer: "garbage"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, call{method: http.MethodPost, path: "/agents/authenticate", body: map[string]string{"agent_token": "agt_none", "api_key": "x"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, call{method: http.MethodGet, path: "/health"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, call{method: http.MethodGet, path: "/nowhere"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode[envelope](t, w).Error.Code)

	w = env.do(t, call{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "fluxgate_requests_total")
}
