package middleware

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/fluxrelay/fluxgate/internal/pkg/logger"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

const HeaderRequestID = "X-Request-ID"

// Handler is a terminal route handler. It writes the success response
// itself and returns an error for anything else.
type Handler func(c *gin.Context, rc *reqctx.Context) error

// Middleware wraps next. It may return early without calling next, act on
// the request or response around the call, or return next's error.
type Middleware func(c *gin.Context, rc *reqctx.Context, next Handler) error

// Chain folds mws around terminal from the right, so mws[0] runs first.
func Chain(terminal Handler, mws ...Middleware) Handler {
	h := terminal
	for i := len(mws) - 1; i >= 0; i-- {
		mw, next := mws[i], h
		h = func(c *gin.Context, rc *reqctx.Context) error {
			return mw(c, rc, next)
		}
	}
	return h
}

// Composer turns a middleware stack and terminal handler into a gin handler.
// It owns the per-request Context and is the only place errors become
// responses.
type Composer struct {
	log *slog.Logger
	now func() time.Time
}

func NewComposer(log *slog.Logger) *Composer {
	return &Composer{log: logger.OrDefault(log), now: time.Now}
}

func (cp *Composer) Build(terminal Handler, mws ...Middleware) gin.HandlerFunc {
	h := Chain(terminal, mws...)
	return func(c *gin.Context) {
		rc := reqctx.New(uuid.NewString(), cp.now())
		rc.ClientIP = c.ClientIP()
		params := make(map[string]string, len(c.Params))
		for _, p := range c.Params {
			params[p.Key] = p.Value
		}
		rc.SetRouteParams(params)
		c.Header(HeaderRequestID, rc.RequestID)

		if err := call(h, c, rc); err != nil {
			renderError(c, rc, cp.log, err)
		}
		observe(c, rc)
	}
}

// call runs h and converts a panic into an untyped error.
func call(h Handler, c *gin.Context, rc *reqctx.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(c, rc)
}
