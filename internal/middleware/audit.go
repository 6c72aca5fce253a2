package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/authz"
	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

// maxAuditBody caps how much of a request body is copied into an event.
const maxAuditBody = 16 << 10

func requestInfo(c *gin.Context, rc *reqctx.Context) service.RequestInfo {
	return service.RequestInfo{
		RequestID: rc.RequestID,
		ActorType: rc.ActorType(),
		ActorID:   rc.ActorID(),
		TenantID:  rc.TenantID(),
		Method:    c.Request.Method,
		Path:      c.Request.URL.Path,
		ClientIP:  rc.ClientIP,
		UserAgent: c.Request.UserAgent(),
	}
}

// Audit records the outcome of everything inside it: a data access event on
// success, and on failure an event classified by the error's status. The
// error itself is returned untouched.
func Audit(audit *service.AuditService) Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		body := peekBody(c)

		err := call(next, c, rc)

		info := requestInfo(c, rc)
		extra := map[string]any{"duration_ms": rc.Elapsed().Milliseconds()}
		if redacted := redactAuditBody(c.Request.URL.Path, body); redacted != "" {
			extra["request_body"] = redacted
		}

		if err == nil {
			status := c.Writer.Status()
			extra["status"] = status
			if status < http.StatusBadRequest {
				rt, rid := auditResource(c, rc)
				if res, ok := rc.Resource(); ok && res.AdminAction != "" {
					for k, v := range res.Detail {
						extra[k] = v
					}
					audit.AdminAction(info, res.AdminAction, rt, rid, extra)
				} else {
					audit.DataAccess(info, operationOf(c.Request.Method), rt, rid, extra)
				}
			} else {
				audit.SecurityEvent(info, "request_rejected", model.SeverityMedium, model.ResultFailure, extra)
			}
			return nil
		}

		auditError(audit, info, c, rc, err, extra)
		return err
	}
}

func auditError(audit *service.AuditService, info service.RequestInfo, c *gin.Context, rc *reqctx.Context, err error, extra map[string]any) {
	appErr, typed := apperrors.As(err)
	if !typed {
		extra["status"] = http.StatusInternalServerError
		extra["error"] = err.Error()
		audit.SecurityEvent(info, "unexpected_error", model.SeverityCritical, model.ResultError, extra)
		return
	}

	switch appErr.Kind {
	case apperrors.KindAuthentication:
		audit.AuthenticationFailed(info, "session", appErr.Message)
	case apperrors.KindAuthorization:
		d, ok := denyDetails(appErr.Details)
		if !ok {
			d.ResourceType, d.ResourceID = auditResource(c, rc)
			d.Capability = operationOf(c.Request.Method)
		}
		audit.AuthorizationDecided(info, d.ResourceType, d.ResourceID, d.Capability, false)
	case apperrors.KindRateLimit:
		_, tier := rateIdentity(rc)
		audit.RateLimitChecked(info, false, 0, 0, tier)
	default:
		severity := model.SeverityMedium
		if appErr.Status >= http.StatusInternalServerError {
			severity = model.SeverityHigh
		}
		extra["status"] = appErr.Status
		extra["error"] = appErr.Error()
		audit.SecurityEvent(info, "request_error", severity, model.ResultError, extra)
	}
}

func denyDetails(v any) (authz.DenyDetails, bool) {
	switch d := v.(type) {
	case authz.DenyDetails:
		return d, true
	case *authz.DenyDetails:
		if d != nil {
			return *d, true
		}
	case map[string]any:
		out := authz.DenyDetails{
			ResourceType: fmt.Sprint(d["resource_type"]),
			ResourceID:   fmt.Sprint(d["resource_id"]),
			Capability:   fmt.Sprint(d["capability"]),
		}
		return out, d["resource_type"] != nil
	}
	return authz.DenyDetails{}, false
}

// auditResource prefers what the handler recorded and falls back to the
// route: "/projects/:id" yields ("projects", id).
func auditResource(c *gin.Context, rc *reqctx.Context) (string, string) {
	if r, ok := rc.Resource(); ok {
		return r.Type, r.ID
	}
	route := strings.TrimPrefix(c.FullPath(), "/")
	if i := strings.IndexByte(route, '/'); i >= 0 {
		route = route[:i]
	}
	return route, rc.RouteParam("id")
}

func operationOf(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}

// peekBody copies up to maxAuditBody bytes of the request body and puts
// the stream back together for the binders downstream.
func peekBody(c *gin.Context) []byte {
	if c.Request.Body == nil || c.Request.Body == http.NoBody {
		return nil
	}
	switch c.Request.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return nil
	}
	buf, _ := io.ReadAll(io.LimitReader(c.Request.Body, maxAuditBody))
	c.Request.Body = readCloser{
		Reader: io.MultiReader(bytes.NewReader(buf), c.Request.Body),
		Closer: c.Request.Body,
	}
	return buf
}

type readCloser struct {
	io.Reader
	io.Closer
}

func redactAuditBody(path string, body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !isSensitivePath(path) {
		return string(body)
	}
	redacted, ok := redactJSON(body)
	if !ok {
		return "[redacted]"
	}
	return string(redacted)
}

func isSensitivePath(path string) bool {
	for _, prefix := range []string{"/agents", "/user", "/company", "/transfers", "/telemetry"} {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func redactJSON(body []byte) ([]byte, bool) {
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, false
	}
	redactValue(&data)
	out, err := json.Marshal(data)
	if err != nil {
		return nil, false
	}
	return out, true
}

func redactValue(v *any) {
	switch raw := (*v).(type) {
	case map[string]any:
		for key, val := range raw {
			if isSensitiveKey(key) {
				raw[key] = "***"
				continue
			}
			vv := val
			redactValue(&vv)
			raw[key] = vv
		}
	case []any:
		for i, val := range raw {
			vv := val
			redactValue(&vv)
			raw[i] = vv
		}
	}
}

func isSensitiveKey(key string) bool {
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "api_key",
		"agent_token",
		"token",
		"access_token",
		"refresh_token",
		"password",
		"secret",
		"secret_key",
		"access_key",
		"key_hash",
		"authorization":
		return true
	default:
		return false
	}
}
