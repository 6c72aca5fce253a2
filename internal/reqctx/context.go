// Package reqctx holds the mutable per-request state threaded through the
// middleware chain. A Context is created once per inbound request by the
// composer and shared by reference until the response is written.
//
// The principal and tenant are write-once: the first Set wins and any later
// attempt fails, so downstream code can read them but never reassign them.
package reqctx

import (
	"errors"
	"time"

	"github.com/fluxrelay/fluxgate/internal/model"
)

var (
	ErrPrincipalAlreadySet = errors.New("principal already attached to request")
	ErrTenantAlreadySet    = errors.New("tenant already attached to request")
	ErrTenantWithoutUser   = errors.New("tenant requires an attached principal")
)

// Resource names the resource a handler acted on, for audit correlation.
// AdminAction is set when the change touched membership or tenant settings.
type Resource struct {
	Type        string
	ID          string
	AdminAction string
	Detail      map[string]any
}

type Context struct {
	RequestID string
	StartTime time.Time
	// ClientIP is the caller's network address as seen by the router.
	ClientIP string

	principal model.Principal
	tenant    *model.Tenant

	validatedBody   any
	validatedQuery  any
	validatedParams map[string]string
	routeParams     map[string]string

	resource *Resource
}

func New(requestID string, start time.Time) *Context {
	return &Context{
		RequestID:   requestID,
		StartTime:   start,
		routeParams: map[string]string{},
	}
}

// Elapsed returns the time since the request context was created.
func (c *Context) Elapsed() time.Duration {
	return time.Since(c.StartTime)
}

// SetPrincipal attaches p. It fails if a principal is already attached.
func (c *Context) SetPrincipal(p model.Principal) error {
	if p == nil {
		return errors.New("nil principal")
	}
	if c.principal != nil {
		return ErrPrincipalAlreadySet
	}
	c.principal = p
	return nil
}

// Principal returns the attached principal or nil for anonymous requests.
func (c *Context) Principal() model.Principal {
	return c.principal
}

func (c *Context) User() (*model.UserPrincipal, bool) {
	u, ok := c.principal.(*model.UserPrincipal)
	return u, ok
}

func (c *Context) Agent() (*model.AgentPrincipal, bool) {
	a, ok := c.principal.(*model.AgentPrincipal)
	return a, ok
}

// ActorType reports the actor kind for audit records.
func (c *Context) ActorType() model.ActorType {
	if c.principal == nil {
		return model.ActorAnonymous
	}
	return c.principal.ActorType()
}

// ActorID returns the principal id or "" for anonymous requests.
func (c *Context) ActorID() string {
	if c.principal == nil {
		return ""
	}
	return c.principal.PrincipalID()
}

// SetTenant attaches t. A principal must already be attached.
func (c *Context) SetTenant(t *model.Tenant) error {
	if t == nil {
		return errors.New("nil tenant")
	}
	if c.principal == nil {
		return ErrTenantWithoutUser
	}
	if c.tenant != nil {
		return ErrTenantAlreadySet
	}
	c.tenant = t
	return nil
}

// Tenant returns the attached tenant; ok is false when none was resolved.
func (c *Context) Tenant() (*model.Tenant, bool) {
	return c.tenant, c.tenant != nil
}

func (c *Context) TenantID() string {
	if c.tenant == nil {
		return ""
	}
	return c.tenant.ID
}

func (c *Context) SetRouteParams(params map[string]string) {
	c.routeParams = params
}

func (c *Context) RouteParam(name string) string {
	return c.routeParams[name]
}

func (c *Context) SetValidatedBody(v any)  { c.validatedBody = v }
func (c *Context) SetValidatedQuery(v any) { c.validatedQuery = v }
func (c *Context) SetValidatedParams(p map[string]string) {
	c.validatedParams = p
}

func (c *Context) ValidatedParams() map[string]string {
	return c.validatedParams
}

// Body returns the validated request body as T.
func Body[T any](c *Context) (T, bool) {
	v, ok := c.validatedBody.(T)
	return v, ok
}

// Query returns the validated query parameters as T.
func Query[T any](c *Context) (T, bool) {
	v, ok := c.validatedQuery.(T)
	return v, ok
}

// SetResource records which resource the handler touched.
func (c *Context) SetResource(resourceType, id string) {
	c.resource = &Resource{Type: resourceType, ID: id}
}

// SetAdminAction records an administrative change on a resource.
func (c *Context) SetAdminAction(resourceType, id, action string, detail map[string]any) {
	c.resource = &Resource{Type: resourceType, ID: id, AdminAction: action, Detail: detail}
}

func (c *Context) Resource() (Resource, bool) {
	if c.resource == nil {
		return Resource{}, false
	}
	return *c.resource, true
}
