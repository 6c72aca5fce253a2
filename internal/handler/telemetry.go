package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type TelemetryHandler struct {
	svc *service.TelemetryService
}

func NewTelemetryHandler(svc *service.TelemetryService) *TelemetryHandler {
	return &TelemetryHandler{svc: svc}
}

func (h *TelemetryHandler) Record(c *gin.Context, rc *reqctx.Context) error {
	agent, err := agentOf(rc)
	if err != nil {
		return err
	}
	req, err := body[service.TelemetryRequest](rc)
	if err != nil {
		return err
	}
	result, err := h.svc.Record(c.Request.Context(), agent, req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), agent.ProjectID)
	c.JSON(http.StatusCreated, result)
	return nil
}

func (h *TelemetryHandler) List(c *gin.Context, rc *reqctx.Context) error {
	q, err := query[service.TelemetryQuery](rc)
	if err != nil {
		return err
	}
	records, err := h.svc.List(c.Request.Context(), rc.Principal(), q)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), q.ProjectID)
	c.JSON(http.StatusOK, gin.H{"telemetry": records})
	return nil
}
