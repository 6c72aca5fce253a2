package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fluxrelay/fluxgate/internal/reqctx"
	"github.com/fluxrelay/fluxgate/internal/service"
)

type UserHandler struct {
	prefs   *service.PreferenceService
	session *service.SessionService
}

func NewUserHandler(prefs *service.PreferenceService, session *service.SessionService) *UserHandler {
	return &UserHandler{prefs: prefs, session: session}
}

func (h *UserHandler) GetPreferences(c *gin.Context, rc *reqctx.Context) error {
	user, err := userOf(rc)
	if err != nil {
		return err
	}
	prefs, err := h.prefs.Get(c.Request.Context(), user)
	if err != nil {
		return err
	}
	rc.SetResource("user", user.ID)
	c.JSON(http.StatusOK, prefs)
	return nil
}

func (h *UserHandler) UpdatePreferences(c *gin.Context, rc *reqctx.Context) error {
	user, err := userOf(rc)
	if err != nil {
		return err
	}
	req, err := body[service.PreferencesRequest](rc)
	if err != nil {
		return err
	}
	prefs, err := h.prefs.Update(c.Request.Context(), user, req)
	if err != nil {
		return err
	}
	rc.SetResource("user", user.ID)
	c.JSON(http.StatusOK, prefs)
	return nil
}

// SessionConfig works with or without a user attached.
func (h *UserHandler) SessionConfig(c *gin.Context, rc *reqctx.Context) error {
	user, _ := rc.User()
	c.JSON(http.StatusOK, h.session.Config(user))
	return nil
}
