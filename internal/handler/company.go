package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type CompanyHandler struct {
	svc *service.CompanyService
}

func NewCompanyHandler(svc *service.CompanyService) *CompanyHandler {
	return &CompanyHandler{svc: svc}
}

// Team lists the members of the caller's company. Callers without a company
// get an empty list.
func (h *CompanyHandler) Team(c *gin.Context, rc *reqctx.Context) error {
	members, err := h.svc.Team(c.Request.Context(), tenantOf(rc))
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceCompany), rc.TenantID())
	c.JSON(http.StatusOK, gin.H{"members": members})
	return nil
}

func (h *CompanyHandler) Get(c *gin.Context, rc *reqctx.Context) error {
	view, err := h.svc.Get(c.Request.Context(), tenantOf(rc))
	if err != nil {
		return err
	}
	rc.SetAdminAction(string(model.ResourceCompany), view.ID, "company_updated", map[string]any{
		"fields": changedFields(req),
	})
	c.JSON(http.StatusOK, view)
	return nil
}

func changedFields(req service.UpdateCompanyRequest) []string {
	fields := []string{}
	if req.Name != nil {
		fields = append(fields, "name")
	}
	if req.Timezone != nil {
		fields = append(fields, "timezone")
	}
	if req.BusinessHoursStart != nil {
		fields = append(fields, "business_hours_start")
	}
	if req.BusinessHoursEnd != nil {
		fields = append(fields, "business_hours_end")
	}
	return fields
}

func (h *CompanyHandler) Update(c *gin.Context, rc *reqctx.Context) error {
	req, err := body[service.UpdateCompanyRequest](rc)
	if err != nil {
		return err
	}
	view, err := h.svc.Update(c.Request.Context(), rc.Principal(), tenantOf(rc), req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceCompany), view.ID)
	c.JSON(http.StatusOK, view)
	return nil
}
