package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type ProjectHandler struct {
	svc *service.ProjectService
}

func NewProjectHandler(svc *service.ProjectService) *ProjectHandler {
	return &ProjectHandler{svc: svc}
}

func (h *ProjectHandler) List(c *gin.Context, rc *reqctx.Context) error {
	user, err := userOf(rc)
	if err != nil {
		return err
	}
	projects, err := h.svc.List(c.Request.Context(), user)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), "")
	c.JSON(http.StatusOK, gin.H{"projects": projects})
	return nil
}

func (h *ProjectHandler) Create(c *gin.Context, rc *reqctx.Context) error {
	user, err := userOf(rc)
	if err != nil {
		return err
	}
	req, err := body[service.CreateProjectRequest](rc)
	if err != nil {
		return err
	}
	project, err := h.svc.Create(c.Request.Context(), user, tenantOf(rc), req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), project.ID)
	c.JSON(http.StatusCreated, project)
	return nil
}

func (h *ProjectHandler) Get(c *gin.Context, rc *reqctx.Context) error {
	id := rc.RouteParam("id")
	project, err := h.svc.Get(c.Request.Context(), rc.Principal(), id)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), id)
	c.JSON(http.StatusOK, project)
	return nil
}

func (h *ProjectHandler) Update(c *gin.Context, rc *reqctx.Context) error {
	req, err := body[service.UpdateProjectRequest](rc)
	if err != nil {
		return err
	}
	id := rc.RouteParam("id")
	project, err := h.svc.Update(c.Request.Context(), rc.Principal(), id, req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), id)
	c.JSON(http.StatusOK, project)
	return nil
}

func (h *ProjectHandler) Delete(c *gin.Context, rc *reqctx.Context) error {
	id := rc.RouteParam("id")
	if err := h.svc.Delete(c.Request.Context(), rc.Principal(), id); err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), id)
	c.Status(http.StatusNoContent)
	return nil
}

func (h *ProjectHandler) ListMembers(c *gin.Context, rc *reqctx.Context) error {
	id := rc.RouteParam("id")
	members, err := h.svc.ListMembers(c.Request.Context(), rc.Principal(), id)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), id)
	c.JSON(http.StatusOK, gin.H{"members": members})
	return nil
}

func (h *ProjectHandler) AddMember(c *gin.Context, rc *reqctx.Context) error {
	req, err := body[service.AddMemberRequest](rc)
	if err != nil {
		return err
	}
	id := rc.RouteParam("id")
	member, err := h.svc.AddMember(c.Request.Context(), rc.Principal(), id, req)
	if err != nil {
		return err
	}
	rc.SetAdminAction(string(model.ResourceProject), id, "member_added", map[string]any{
		"member_id": member.UserID,
		"role":      member.Role,
	})
	c.JSON(http.StatusCreated, member)
	return nil
}
