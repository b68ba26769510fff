package database

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	apperrors "github.com/kbukum/agentflow/errors"
)

// Substrings of driver errors (pgx, sqlite, database/sql) that indicate the
// connection itself is unusable.
var connectionErrors = []string{
	"connection refused",
	"connection reset",
	"connection closed",
	"connection lost",
	"broken pipe",
	"i/o timeout",
	"no route to host",
	"network is unreachable",
	"bad connection",
	"invalid connection",
}

// Contention errors clear up on their own.
var contentionErrors = []string{
	"deadlock",
	"lock timeout",
	"database is locked",
	"database table is locked",
	"too many connections",
	"connection pool exhausted",
}

func containsAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsConnectionError reports whether err means the connection is down.
func IsConnectionError(err error) bool {
	return containsAny(err, connectionErrors)
}

// IsRetryableError reports whether the same statement may succeed if tried
// again: connection drops and lock contention.
func IsRetryableError(err error) bool {
	return IsConnectionError(err) || containsAny(err, contentionErrors)
}

// IsNotFoundError reports gorm.ErrRecordNotFound anywhere in err's chain.
func IsNotFoundError(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// FromDatabase maps a gorm error on resource to an AppError. Missing rows
// become NOT_FOUND; everything else is DATABASE_ERROR, retryable when
// IsRetryableError says so.
func FromDatabase(err error, resource string) *apperrors.AppError {
	switch {
	case err == nil:
		return nil
	case IsNotFoundError(err):
		return apperrors.NotFound(resource, "")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return (&apperrors.AppError{
			Code:    apperrors.ErrCodeDatabaseError,
			Message: fmt.Sprintf("%s already exists", resource),
		}).WithCause(err)
	case IsRetryableError(err):
		return (&apperrors.AppError{
			Code:      apperrors.ErrCodeDatabaseError,
			Message:   fmt.Sprintf("%s store is temporarily unavailable", resource),
			Retryable: true,
		}).WithCause(err)
	}
	return apperrors.DatabaseError(err).WithDetail("resource", resource)
}
