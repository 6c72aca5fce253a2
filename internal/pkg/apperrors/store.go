package apperrors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Postgres SQLSTATE codes we translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
	pgInvalidTextRepr     = "22P02"
	pgStringTooLong       = "22001"
)

// ErrNotFound is returned by stores when a row does not exist.
var ErrNotFound = errors.New("record not found")

// FromStore translates a data-store failure at the service boundary.
// Typed errors pass through unchanged.
func FromStore(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound("Resource not found")
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return alreadyExists(err)
	}
	if errors.Is(err, gorm.ErrForeignKeyViolated) {
		return referencedMissing(err)
	}
	if errors.Is(err, gorm.ErrInvalidData) || errors.Is(err, gorm.ErrInvalidValue) {
		return malformed(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return alreadyExists(err)
		case pgForeignKeyViolation:
			return referencedMissing(err)
		case pgInvalidTextRepr, pgStringTooLong, pgNotNullViolation, pgCheckViolation:
			return malformed(err)
		}
	}
	return Server("Database operation failed", err)
}

func alreadyExists(cause error) *AppError {
	e := Validation("Resource already exists", nil)
	e.Cause = cause
	return e
}

func referencedMissing(cause error) *AppError {
	e := Validation("Referenced resource not found", nil)
	e.Cause = cause
	return e
}

func malformed(cause error) *AppError {
	e := Validation("Invalid input format", nil)
	e.Cause = cause
	return e
}
