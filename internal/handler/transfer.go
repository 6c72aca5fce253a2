package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/model"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type TransferHandler struct {
	svc *service.TransferService
}

func NewTransferHandler(svc *service.TransferService) *TransferHandler {
	return &TransferHandler{svc: svc}
}

func (h *TransferHandler) List(c *gin.Context, rc *reqctx.Context) error {
	q, err := query[service.TransferQuery](rc)
	if err != nil {
		return err
	}
	transfers, err := h.svc.List(c.Request.Context(), rc.Principal(), q)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceProject), q.ProjectID)
	c.JSON(http.StatusOK, gin.H{"transfers": transfers})
	return nil
}

func (h *TransferHandler) Create(c *gin.Context, rc *reqctx.Context) error {
	user, err := userOf(rc)
	if err != nil {
		return err
	}
	req, err := body[service.CreateTransferRequest](rc)
	if err != nil {
		return err
	}
	transfer, err := h.svc.Create(c.Request.Context(), user, req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceTransfer), transfer.ID)
	c.JSON(http.StatusCreated, transfer)
	return nil
}

func (h *TransferHandler) UploadURL(c *gin.Context, rc *reqctx.Context) error {
	return h.signed(c, rc, h.svc.UploadURL)
}

func (h *TransferHandler) DownloadURL(c *gin.Context, rc *reqctx.Context) error {
	return h.signed(c, rc, h.svc.DownloadURL)
}

type signFunc func(ctx context.Context, p model.Principal, req service.TransferURLRequest) (*service.SignedURL, error)

func (h *TransferHandler) signed(c *gin.Context, rc *reqctx.Context, sign signFunc) error {
	req, err := body[service.TransferURLRequest](rc)
	if err != nil {
		return err
	}
	out, err := sign(c.Request.Context(), rc.Principal(), req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceTransfer), req.TransferID)
	c.JSON(http.StatusOK, out)
	return nil
}

func (h *TransferHandler) Optimize(c *gin.Context, rc *reqctx.Context) error {
	req, err := body[service.OptimizeRequest](rc)
	if err != nil {
		return err
	}
	id := rc.RouteParam("id")
	opt, err := h.svc.Optimize(c.Request.Context(), rc.Principal(), id, req)
	if err != nil {
		return err
	}
	rc.SetResource(string(model.ResourceTransfer), id)
	c.JSON(http.StatusOK, opt)
	return nil
}
