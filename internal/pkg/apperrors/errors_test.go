package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestKindStatus(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
		kind   Kind
	}{
		{BadRequest("x"), http.StatusBadRequest, KindBadRequest},
		{Authentication("x"), http.StatusUnauthorized, KindAuthentication},
		{Authorization("x"), http.StatusForbidden, KindAuthorization},
		{NotFound("x"), http.StatusNotFound, KindNotFound},
		{Validation("x", nil), http.StatusBadRequest, KindValidation},
		{RateLimit("x", 10), http.StatusTooManyRequests, KindRateLimit},
		{Server("x", nil), http.StatusInternalServerError, KindServer},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.Status)
			assert.Equal(t, tt.kind, tt.err.Kind)
		})
	}
}

func TestWrapHidesUnexpectedDetail(t *testing.T) {
	raw := errors.New("pq: connection refused on 10.0.0.3")
	wrapped := Wrap(fmt.Errorf("load: %w", raw))

	require.NotNil(t, wrapped)
	assert.Equal(t, KindServer, wrapped.Kind)
	assert.Equal(t, "Internal server error", wrapped.Message)
	assert.ErrorIs(t, wrapped, raw)

	env := wrapped.Envelope()
	assert.NotContains(t, env.Error.Message, "10.0.0.3")
	assert.Nil(t, env.Error.Details)
}

func TestWrapKeepsTypedError(t *testing.T) {
	orig := Authorization("nope")
	assert.Same(t, orig, Wrap(fmt.Errorf("ctx: %w", orig)))
	assert.Nil(t, Wrap(nil))
}

func TestEnvelopeCarriesDetails(t *testing.T) {
	env := Validation("bad input", map[string]string{"name": "required"}).Envelope()
	assert.Equal(t, KindValidation, env.Error.Code)
	assert.Equal(t, http.StatusBadRequest, env.Error.Status)
	assert.Equal(t, map[string]string{"name": "required"}, env.Error.Details)
}

func TestFromStore(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    Kind
		message string
	}{
		{"unique", &pgconn.PgError{Code: "23505"}, KindValidation, "Resource already exists"},
		{"foreign key", &pgconn.PgError{Code: "23503"}, KindValidation, "Referenced resource not found"},
		{"malformed uuid", &pgconn.PgError{Code: "22P02"}, KindValidation, "Invalid input format"},
		{"gorm duplicate", gorm.ErrDuplicatedKey, KindValidation, "Resource already exists"},
		{"gorm fk", gorm.ErrForeignKeyViolated, KindValidation, "Referenced resource not found"},
		{"not found", gorm.ErrRecordNotFound, KindNotFound, "Resource not found"},
		{"sentinel not found", fmt.Errorf("get: %w", ErrNotFound), KindNotFound, "Resource not found"},
		{"other pg", &pgconn.PgError{Code: "40001"}, KindServer, "Database operation failed"},
		{"unknown", errors.New("boom"), KindServer, "Database operation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appErr, ok := As(FromStore(tt.err))
			require.True(t, ok)
			assert.Equal(t, tt.kind, appErr.Kind)
			assert.Equal(t, tt.message, appErr.Message)
		})
	}

	assert.Nil(t, FromStore(nil))
	typed := NotFound("project not found")
	assert.Same(t, typed, FromStore(typed))
}
