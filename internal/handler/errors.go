package handler

import "errors"

var errMissingValidation = errors.New("handler: validated input missing from request context")
