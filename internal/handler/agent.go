package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type AgentHandler struct {
	svc *service.AgentService
}

func NewAgentHandler(svc *service.AgentService) *AgentHandler {
	return &AgentHandler{svc: svc}
}

func (h *AgentHandler) List(c *gin.Context, rc *reqctx.Context) error {
	q, err := query[service.AgentQuery](rc)
	if err != nil {
		return err
	}
	agents, err := h.svc.List(c.Request.Context(), rc.Principal(), q.ProjectID)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), q.ProjectID)
	c.JSON(http.StatusOK, gin.H{"agents": agents})
	return nil
}

// Create registers an agent. The key in the response is never shown again.
func (h *AgentHandler) Create(c *gin.Context, rc *reqctx.Context) error {
	user, err := userOf(rc)
	if err != nil {
		return err
	}
	req, err := body[service.CreateAgentRequest](rc)
	if err != nil {
		return err
	}
	creds, err := h.svc.Create(c.Request.Context(), user, req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceAgent), creds.Agent.ID)
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusCreated, creds)
	return nil
}

func (h *AgentHandler) Authenticate(c *gin.Context, rc *reqctx.Context) error {
	req, err := body[service.AuthenticateAgentRequest](rc)
	if err != nil {
		return err
	}
	agent, err := h.svc.Authenticate(c.Request.Context(), req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceAgent), agent.ID)
	c.JSON(http.StatusOK, gin.H{"authenticated": true, "agent": agent})
	return nil
}
