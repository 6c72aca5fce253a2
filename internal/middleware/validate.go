package middleware

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/fluxrelay/fluxgate/internal/pkg/apperrors"
	"github.com/fluxrelay/fluxgate/internal/reqctx"
)

// FieldError is one entry of a Validation error's details.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

var registerTagNames sync.Once

// fieldNamesFromTags makes validator report json/form names instead of Go
// field names.
func fieldNamesFromTags() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	})
}

// ValidateBody decodes the JSON body into T and checks its binding tags.
// Handlers read the result with reqctx.Body[T].
func ValidateBody[T any]() Middleware {
	fieldNamesFromTags()
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		var v T
		if err := c.ShouldBindJSON(&v); err != nil {
			return bindError("Invalid request body", err)
		}
		rc.SetValidatedBody(v)
		return next(c, rc)
	}
}

// ValidateQuery binds the query string into T.
func ValidateQuery[T any]() Middleware {
	fieldNamesFromTags()
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		var v T
		if err := c.ShouldBindQuery(&v); err != nil {
			return bindError("Invalid query parameters", err)
		}
		rc.SetValidatedQuery(v)
		return next(c, rc)
	}
}

// ValidateParams requires each named route parameter to be present and of
// sane length.
func ValidateParams(names ...string) Middleware {
	return func(c *gin.Context, rc *reqctx.Context, next Handler) error {
		out := make(map[string]string, len(names))
		var fields []FieldError
		for _, name := range names {
			v := strings.TrimSpace(rc.RouteParam(name))
			switch {
			case v == "":
				fields = append(fields, FieldError{Field: name, Rule: "required"})
			case len(v) > 128:
				fields = append(fields, FieldError{Field: name, Rule: "max", Param: "128"})
			default:
				out[name] = v
			}
		}
		if len(fields) > 0 {
			return apperrors.Validation("Invalid path parameters", fields)
		}
		rc.SetValidatedParams(out)
		return next(c, rc)
	}
}

func bindError(msg string, err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]FieldError, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
		}
		return apperrors.Validation(msg, fields)
	}
	return apperrors.Validation(msg, []FieldError{{Field: "input", Rule: "decode"}})
}
