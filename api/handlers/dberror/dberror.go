// Package dberror classifies Postgres errors and maps them onto API errors.
package dberror

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/careconnect/backend/api/apierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrorType classifies database errors for appropriate handling.
type ErrorType int

const (
	// ErrorTypeUnknown is an unclassified error.
	ErrorTypeUnknown ErrorType = iota
	// ErrorTypeConnectivity indicates the database is unreachable.
	ErrorTypeConnectivity
	// ErrorTypeTimeout indicates the operation timed out.
	ErrorTypeTimeout
	// ErrorTypeAuth indicates authentication/authorization failure.
	ErrorTypeAuth
	// ErrorTypeQuery indicates a query, syntax or data error.
	ErrorTypeQuery
	// ErrorTypeConstraint indicates an integrity constraint violation.
	ErrorTypeConstraint
	// ErrorTypeNoRows indicates a single-row query found nothing.
	ErrorTypeNoRows
)

// SQLSTATE codes this package cares about.
const (
	CodeUniqueViolation    = "23505"
	CodeCheckViolation     = "23514"
	CodeForeignKey         = "23503"
	CodeNotNull            = "23502"
	CodeReadOnlyTx         = "25006"
	CodeInsufficientPrivs  = "42501"
	CodeInvalidPassword    = "28P01"
	CodeInvalidAuthSpec    = "28000"
	CodeQueryCanceled      = "57014"
	CodeAdminShutdown      = "57P01"
	CodeCannotConnectNow   = "57P03"
	CodeSerializationFail  = "40001"
	CodeDeadlockDetected   = "40P01"
	classConnectionErrors  = "08"
	classDataException     = "22"
	classSyntaxOrAccess    = "42"
	classIntegrityViolated = "23"
)

// PgError extracts a *pgconn.PgError from err's chain.
func PgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// IsUniqueViolation reports whether err is a unique violation, optionally on
// a specific constraint.
func IsUniqueViolation(err error, constraint string) bool {
	return hasCode(err, CodeUniqueViolation, constraint)
}

// IsCheckViolation reports whether err is a check violation, optionally on
// a specific constraint.
func IsCheckViolation(err error, constraint string) bool {
	return hasCode(err, CodeCheckViolation, constraint)
}

func hasCode(err error, code, constraint string) bool {
	pgErr, ok := PgError(err)
	if !ok || pgErr.Code != code {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

// IsTransient returns true if the error is likely transient and worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgErr, ok := PgError(err); ok {
		switch pgErr.Code {
		case CodeSerializationFail, CodeDeadlockDetected, CodeCannotConnectNow, CodeAdminShutdown:
			return true
		}
	}
	switch Classify(err) {
	case ErrorTypeConnectivity, ErrorTypeTimeout:
		return true
	default:
		return false
	}
}

// Classify determines the type of database error.
func Classify(err error) ErrorType {
	if err == nil {
		return ErrorTypeUnknown
	}

	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
		return ErrorTypeNoRows
	}

	if pgErr, ok := PgError(err); ok {
		switch {
		case pgErr.Code == CodeQueryCanceled:
			return ErrorTypeTimeout
		case pgErr.Code == CodeInvalidPassword, pgErr.Code == CodeInvalidAuthSpec, pgErr.Code == CodeInsufficientPrivs:
			return ErrorTypeAuth
		case strings.HasPrefix(pgErr.Code, classConnectionErrors), pgErr.Code == CodeAdminShutdown, pgErr.Code == CodeCannotConnectNow:
			return ErrorTypeConnectivity
		case strings.HasPrefix(pgErr.Code, classIntegrityViolated):
			return ErrorTypeConstraint
		case strings.HasPrefix(pgErr.Code, classSyntaxOrAccess), strings.HasPrefix(pgErr.Code, classDataException), pgErr.Code == CodeReadOnlyTx:
			return ErrorTypeQuery
		}
		return ErrorTypeUnknown
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnectivity
	}

	errStr := strings.ToLower(err.Error())

	for _, pattern := range []string{
		"connection refused",
		"connection reset",
		"connection closed",
		"conn closed",
		"no such host",
		"dial tcp",
		"dial unix",
		"eof",
		"broken pipe",
		"network is unreachable",
		"no route to host",
		"pool is closed",
		"closed pool",
	} {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeConnectivity
		}
	}

	for _, pattern := range []string{
		"timeout",
		"deadline exceeded",
		"timed out",
	} {
		if strings.Contains(errStr, pattern) {
			return ErrorTypeTimeout
		}
	}

	return ErrorTypeUnknown
}

// UserMessage returns a user-friendly error message based on the error type.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	switch Classify(err) {
	case ErrorTypeConnectivity:
		return "Database temporarily unavailable. Please try again in a moment."
	case ErrorTypeTimeout:
		return "Request timed out. Please try again."
	case ErrorTypeAuth:
		return "Database authentication error. Please contact support."
	case ErrorTypeNoRows:
		return "Not found"
	default:
		return "An unexpected error occurred. Please try again."
	}
}

// ToAPIError maps a database error onto the API error taxonomy. Query and
// constraint errors carry the database's diagnostic message.
func ToAPIError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := apierror.As(err); ok {
		return err
	}

	switch Classify(err) {
	case ErrorTypeNoRows:
		return apierror.NotFound("Not found")
	case ErrorTypeConstraint:
		pgErr, _ := PgError(err)
		return &apierror.Error{Kind: apierror.KindValidation, Message: pgErr.Message, Err: err}
	case ErrorTypeQuery:
		pgErr, _ := PgError(err)
		return apierror.Internal("PostgreSQL error: "+pgErr.Message, err)
	case ErrorTypeConnectivity, ErrorTypeTimeout:
		return apierror.Upstream(http.StatusServiceUnavailable, UserMessage(err), err)
	default:
		return apierror.Internal("internal server error", err)
	}
}
