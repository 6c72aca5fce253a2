// Package router declares every route with its middleware stack. Stacks are
// fixed at startup; nothing is added per request.
package router

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fluxrelay/fluxgate/internal/auth"
	"github.com/fluxrelay/fluxgate/internal/handler"
	"github.com/fluxrelay/fluxgate/internal/middleware"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/ratelimit"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

// Handlers groups the terminal handlers.
type Handlers struct {
	Projects  *handler.ProjectHandler
	Agents    *handler.AgentHandler
	Telemetry *handler.TelemetryHandler
	Transfers *handler.TransferHandler
	Company   *handler.CompanyHandler
	Users     *handler.UserHandler
	Audit     *handler.AuditHandler
	Health    *handler.HealthHandler
}

type Deps struct {
	Log         *slog.Logger
	Audit       *service.AuditService
	Limiter     *ratelimit.Limiter
	Users       *auth.UserAuthenticator
	Agents      *auth.AgentAuthenticator
	Tenants     *auth.TenantResolver
	Idempotency middleware.IdempotencyStore
	CORS        middleware.CORSConfig
	// MetricsPath mounts the Prometheus handler when non-empty.
	MetricsPath string
	Handlers    Handlers
}

type route struct {
	method  string
	path    string
	stack   []middleware.Middleware
	handler middleware.Handler
}

// stacks are the four pipelines a route can run behind. Inner steps such as
// validation are appended per route.
type stacks struct {
	user, agent, public, optionalUser []middleware.Middleware
}

func newStacks(d Deps) stacks {
	cors := middleware.CORS(d.CORS)
	security := middleware.SecurityHeaders()
	limit := middleware.RateLimit(d.Limiter, d.Audit)
	audit := middleware.Audit(d.Audit)
	return stacks{
		user: []middleware.Middleware{
			cors, security, middleware.AuthenticateUser(d.Users, d.Audit), limit, middleware.ResolveTenant(d.Tenants), audit,
		},
		agent: []middleware.Middleware{
			cors, security, middleware.AuthenticateAgent(d.Agents, d.Audit), limit, audit,
		},
		public: []middleware.Middleware{
			cors, security, limit, audit,
		},
		optionalUser: []middleware.Middleware{
			cors, security, middleware.OptionalUser(d.Users, d.Audit), limit, audit,
		},
	}
}

func with(stack []middleware.Middleware, inner ...middleware.Middleware) []middleware.Middleware {
	out := make([]middleware.Middleware, 0, len(stack)+len(inner))
	out = append(out, stack...)
	return append(out, inner...)
}

func routes(d Deps, s stacks) []route {
	h := d.Handlers
	id := middleware.ValidateParams("id")
	store := d.Idempotency
	if store == nil {
		store = middleware.NewInMemIdempotencyStore(0)
	}
	idem := middleware.Idempotency(store, d.Log)

	return []route{
		{http.MethodGet, "/projects", s.user, h.Projects.List},
		{http.MethodPost, "/projects", with(s.user, middleware.ValidateBody[service.CreateProjectRequest]()), h.Projects.Create},
		{http.MethodGet, "/projects/:id", with(s.user, id), h.Projects.Get},
		{http.MethodPatch, "/projects/:id", with(s.user, id, middleware.ValidateBody[service.UpdateProjectRequest]()), h.Projects.Update},
		{http.MethodDelete, "/projects/:id", with(s.user, id), h.Projects.Delete},
		{http.MethodGet, "/projects/:id/members", with(s.user, id), h.Projects.ListMembers},
		{http.MethodPost, "/projects/:id/members", with(s.user, id, middleware.ValidateBody[service.AddMemberRequest]()), h.Projects.AddMember},

		{http.MethodGet, "/agents", with(s.user, middleware.ValidateQuery[service.AgentQuery]()), h.Agents.List},
		{http.MethodPost, "/agents", with(s.user, middleware.ValidateBody[service.CreateAgentRequest]()), h.Agents.Create},
		{http.MethodPost, "/agents/authenticate", with(s.public, middleware.ValidateBody[service.AuthenticateAgentRequest]()), h.Agents.Authenticate},

		{http.MethodPost, "/telemetry", with(s.agent, middleware.ValidateBody[service.TelemetryRequest]()), h.Telemetry.Record},
		{http.MethodGet, "/telemetry", with(s.user, middleware.ValidateQuery[service.TelemetryQuery]()), h.Telemetry.List},

		{http.MethodGet, "/transfers", with(s.user, middleware.ValidateQuery[service.TransferQuery]()), h.Transfers.List},
		{http.MethodPost, "/transfers", with(s.user, idem, middleware.ValidateBody[service.CreateTransferRequest]()), h.Transfers.Create},
		{http.MethodPost, "/transfers/upload-url", with(s.user, middleware.ValidateBody[service.TransferURLRequest]()), h.Transfers.UploadURL},
		{http.MethodPost, "/transfers/download-url", with(s.user, middleware.ValidateBody[service.TransferURLRequest]()), h.Transfers.DownloadURL},
		{http.MethodPost, "/transfers/:id/optimize", with(s.user, id, middleware.ValidateBody[service.OptimizeRequest]()), h.Transfers.Optimize},

		{http.MethodGet, "/team", s.user, h.Company.Team},
		{http.MethodGet, "/company", s.user, h.Company.Get},
		{http.MethodPatch, "/company", with(s.user, middleware.ValidateBody[service.UpdateCompanyRequest]()), h.Company.Update},

		{http.MethodGet, "/user/preferences", s.user, h.Users.GetPreferences},
		{http.MethodPut, "/user/preferences", with(s.user, middleware.ValidateBody[service.PreferencesRequest]()), h.Users.UpdatePreferences},
		{http.MethodGet, "/session/config", s.optionalUser, h.Users.SessionConfig},

		{http.MethodGet, "/audit/events", with(s.user, middleware.ValidateQuery[service.AuditEventsQuery]()), h.Audit.List},
	}
}

func New(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	cp := middleware.NewComposer(d.Log)
	s := newStacks(d)
	for _, rt := range routes(d, s) {
		r.Handle(rt.method, rt.path, cp.Build(rt.handler, rt.stack...))
	}

	edge := []middleware.Middleware{middleware.CORS(d.CORS), middleware.SecurityHeaders()}
	r.OPTIONS("/*path", cp.Build(noContent, edge...))
	r.NoRoute(cp.Build(notFound, edge...))

	if d.Handlers.Health != nil {
		r.GET("/health", d.Handlers.Health.Health)
	}
	if d.MetricsPath != "" {
		r.GET(d.MetricsPath, gin.WrapH(promhttp.Handler()))
	}
	return r
}

func noContent(c *gin.Context, _ *reqctx.Context) error {
	c.Status(http.StatusNoContent)
	return nil
}

func notFound(*gin.Context, *reqctx.Context) error {
	return apperrors.NotFound("Route not found")
}
