// Package pgutils classifies PostgreSQL errors.
package pgutils

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgreSQL error codes
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeSerializationFailure = "40001"
)

// Code returns the SQLSTATE of err, or "" when err carries none.
func Code(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// Constraint returns the violated constraint name, when known.
func Constraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

func IsUniqueViolation(err error) bool {
	return hasCode(err, CodeUniqueViolation)
}

func IsForeignKeyViolation(err error) bool {
	return hasCode(err, CodeForeignKeyViolation)
}

func IsSerializationFailure(err error) bool {
	return hasCode(err, CodeSerializationFailure)
}

// hasCode matches typed errors first and falls back to the message for
// drivers that only report the code as text.
func hasCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if c := Code(err); c != "" {
		return c == code
	}
	return strings.Contains(err.Error(), "SQLSTATE "+code)
}
