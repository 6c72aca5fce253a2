package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/repository"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type AuditHandler struct {
	svc *service.AuditQuery
}

func NewAuditHandler(svc *service.AuditQuery) *AuditHandler {
	return &AuditHandler{svc: svc}
}

func (h *AuditHandler) List(c *gin.Context, rc *reqctx.Context) error {
	q, err := query[service.AuditEventsQuery](rc)
	if err != nil {
		return err
	}

	f := repository.AuditFilter{
		Category: model.EventCategory(q.Category),
		Limit:    q.Limit,
	}
	if q.From != "" {
		t, err := parseTime(q.From)
		if err != nil {
			return apperrors.Validation("Invalid query parameters", map[string]string{"from": err.Error()})
		}
		f.From = &t
	}
	if q.To != "" {
		t, err := parseTime(q.To)
		if err != nil {
			return apperrors.Validation("Invalid query parameters", map[string]string{"to": err.Error()})
		}
		f.To = &t
	}

	events, err := h.svc.List(c.Request.Context(), rc.Principal(), tenantOf(rc), f)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceCompany), rc.TenantID())
	c.JSON(http.StatusOK, gin.H{"events": events})
	return nil
}

func parseTime(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid time format")
}
