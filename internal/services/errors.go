package services

import (
	"errors"
	"fmt"
)

// Account flow failures. Each one maps to a stable reason code at the
// HTTP boundary.
var (
	ErrMissingFields      = errors.New("missing required fields")
	ErrInvalidEmail       = errors.New("invalid username or email")
	ErrDuplicateAccount   = errors.New("username or email already exists")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrPasswordMismatch   = errors.New("passwords do not match")
)

// Session token failures.
var (
	ErrInvalidToken = errors.New("invalid session token")
	ErrExpiredToken = errors.New("session token expired")
	ErrRevokedToken = errors.New("session token revoked")
)

// Password reset token failures.
var (
	ErrNoSuchToken          = errors.New("no reset token issued")
	ErrTokenExpired         = errors.New("reset token expired")
	ErrTokenMismatch        = errors.New("reset token does not match")
	ErrTokenAlreadyConsumed = errors.New("reset token already used")
)

// ValidationError describes a malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsResetTokenError reports whether err is one of the reset token failures.
func IsResetTokenError(err error) bool {
	return errors.Is(err, ErrNoSuchToken) ||
		errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrTokenMismatch) ||
		errors.Is(err, ErrTokenAlreadyConsumed)
}
