// Package errors provides the error taxonomy used to route sync failures.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies an error for routing decisions.
type ErrorCode string

const (
	// General errors
	ErrInternal ErrorCode = "INTERNAL_ERROR"
	ErrInvalid  ErrorCode = "INVALID_INPUT"
	ErrNotFound ErrorCode = "NOT_FOUND"
	ErrConfig   ErrorCode = "INVALID_CONFIG"

	// Database errors
	ErrDatabase  ErrorCode = "DATABASE_ERROR"
	ErrMigration ErrorCode = "MIGRATION_FAILED"

	// Sync errors
	ErrTransient      ErrorCode = "TRANSIENT_NETWORK"
	ErrAuth           ErrorCode = "AUTH_FAILED"
	ErrData           ErrorCode = "DATA_ERROR"
	ErrPolicy         ErrorCode = "POLICY_VIOLATION"
	ErrDeclined       ErrorCode = "CONFIRMATION_DECLINED"
	ErrSyncInProgress ErrorCode = "SYNC_IN_PROGRESS"

	// Backup errors
	ErrBackupFailed ErrorCode = "BACKUP_FAILED"
	ErrCryptoFailed ErrorCode = "CRYPTO_FAILED"
)

// AppError represents an application error with code and message.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message.
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps an existing error with an error code.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the outermost AppError in err's chain, or ""
// when there is none.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// Is checks if an error, or any error it wraps, carries a specific code.
func Is(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsTransient reports whether err is a retryable network or server error.
func IsTransient(err error) bool { return Is(err, ErrTransient) }

// IsAuth reports whether err means the account's credentials are unusable.
func IsAuth(err error) bool { return Is(err, ErrAuth) }

// IsData reports whether err concerns one malformed record.
func IsData(err error) bool { return Is(err, ErrData) }

// IsPolicy reports whether err is a rejected operation that must stop the account.
func IsPolicy(err error) bool { return Is(err, ErrPolicy) }

// Aborts reports whether err must abort the rest of an account's cycle.
func Aborts(err error) bool {
	return IsAuth(err) || IsPolicy(err)
}
