// Package errors tests for the sync error taxonomy.
package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestAppError_Error verifies error message formatting.
func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name:     "error without underlying error",
			appError: &AppError{Code: ErrInternal, Message: "something failed"},
			want:     "[INTERNAL_ERROR] something failed",
		},
		{
			name:     "error with underlying error",
			appError: &AppError{Code: ErrTransient, Message: "fetch failed", Err: errors.New("connection reset")},
			want:     "[TRANSIENT_NETWORK] fetch failed: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.appError.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

// TestWrap verifies error wrapping keeps the underlying error reachable.
func TestWrap(t *testing.T) {
	underlying := errors.New("underlying")
	err := Wrap(ErrDatabase, "query failed", underlying)

	if err.Code != ErrDatabase {
		t.Errorf("Wrap() code = %q, want %q", err.Code, ErrDatabase)
	}
	if !errors.Is(err, underlying) {
		t.Error("errors.Is() should find the wrapped error")
	}
	if err.Unwrap() != underlying {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), underlying)
	}
}

// TestNewf verifies formatted messages.
func TestNewf(t *testing.T) {
	err := Newf(ErrData, "record %s has no name", "people/c1")
	if err.Message != "record people/c1 has no name" {
		t.Errorf("Newf() message = %q", err.Message)
	}
}

// TestIs verifies error code checking through wrap chains.
func TestIs(t *testing.T) {
	auth := New(ErrAuth, "token revoked")

	tests := []struct {
		name string
		err  error
		code ErrorCode
		want bool
	}{
		{"matching AppError", auth, ErrAuth, true},
		{"non-matching AppError", auth, ErrTransient, false},
		{"fmt wrapped", fmt.Errorf("update: %w", auth), ErrAuth, true},
		{"nested AppError", Wrap(ErrInternal, "cycle failed", auth), ErrAuth, true},
		{"nested outer code", Wrap(ErrInternal, "cycle failed", auth), ErrInternal, true},
		{"non-AppError", errors.New("standard error"), ErrInternal, false},
		{"nil error", nil, ErrInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is() = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestCodeOf verifies the outermost code is reported.
func TestCodeOf(t *testing.T) {
	if got := CodeOf(fmt.Errorf("x: %w", New(ErrPolicy, "system group"))); got != ErrPolicy {
		t.Errorf("CodeOf() = %q, want %q", got, ErrPolicy)
	}
	if got := CodeOf(errors.New("plain")); got != "" {
		t.Errorf("CodeOf() = %q, want empty", got)
	}
}

// TestClassifiers verifies the routing helpers.
func TestClassifiers(t *testing.T) {
	if !IsTransient(New(ErrTransient, "503")) {
		t.Error("IsTransient() should match TRANSIENT_NETWORK")
	}
	if !IsData(New(ErrData, "bad record")) {
		t.Error("IsData() should match DATA_ERROR")
	}
	if !Aborts(New(ErrAuth, "401")) || !Aborts(New(ErrPolicy, "system group")) {
		t.Error("Aborts() should match auth and policy errors")
	}
	if Aborts(New(ErrTransient, "503")) || Aborts(New(ErrData, "bad")) {
		t.Error("Aborts() should not match transient or data errors")
	}
}

// TestErrorCodes_areUnique verifies all error codes are unique and uppercase.
func TestErrorCodes_areUnique(t *testing.T) {
	codes := []ErrorCode{
		ErrInternal, ErrInvalid, ErrNotFound, ErrConfig,
		ErrDatabase, ErrMigration,
		ErrTransient, ErrAuth, ErrData, ErrPolicy, ErrDeclined, ErrSyncInProgress,
		ErrBackupFailed, ErrCryptoFailed,
	}

	seen := make(map[ErrorCode]bool)
	for _, code := range codes {
		if seen[code] {
			t.Errorf("ErrorCode %q is duplicated", code)
		}
		seen[code] = true
		if s := string(code); s != strings.ToUpper(s) {
			t.Errorf("ErrorCode %q should be uppercase", s)
		}
	}
}
