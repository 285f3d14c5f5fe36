package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrValidationFailed is returned when an inbound token is malformed, expired,
	// or fails signature, issuer, audience or claim checks
	ErrValidationFailed = errors.New("token validation failed")

	// ErrTokenExchangeFailed is returned when the on-behalf-of exchange is rejected
	// or cannot reach the identity platform
	ErrTokenExchangeFailed = errors.New("token exchange failed")

	// ErrConfigurationInvalid is returned for contradictory or incomplete startup configuration
	ErrConfigurationInvalid = errors.New("invalid configuration")

	// ErrUnknownAuthMode is returned when an auth mode is not application or delegated
	ErrUnknownAuthMode = errors.New("unknown auth mode")

	// ErrAuthenticationFailed is returned to callers whose request could not be authenticated
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrMissingToken is returned when a delegated request carries no bearer token
	ErrMissingToken = errors.New("access token is required for delegated authentication")

	// ErrModeMismatch is returned when a request or identity is handed to a
	// component configured for a different auth mode
	ErrModeMismatch = errors.New("auth mode mismatch")
)

// ValidationError describes why a token was rejected. Reason never contains
// the token itself.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrValidationFailed, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrValidationFailed, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

func (e *ValidationError) Is(target error) bool { return target == ErrValidationFailed }

// NewValidationError builds a ValidationError with an optional cause.
func NewValidationError(reason string, cause error) *ValidationError {
	return &ValidationError{Reason: reason, Err: cause}
}

// TokenExchangeError carries the tenant and subject of a failed on-behalf-of
// exchange. It never carries the assertion or the client secret.
type TokenExchangeError struct {
	TenantID     string
	UserObjectID string
	Err          error
}

func (e *TokenExchangeError) Error() string {
	return fmt.Sprintf("%s for tenant %q user %q: %v", ErrTokenExchangeFailed, e.TenantID, e.UserObjectID, e.Err)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

func (e *TokenExchangeError) Is(target error) bool { return target == ErrTokenExchangeFailed }

// AuthenticationError is the caller-facing wrapper for a failed resolution.
// The message is "authentication failed: <reason>".
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("%s: %v", ErrAuthenticationFailed, e.Err)
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

func (e *AuthenticationError) Is(target error) bool { return target == ErrAuthenticationFailed }

// ConfigError reports an invalid configuration value. Field names the
// setting (usually its environment variable).
func ConfigError(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s: %s", ErrConfigurationInvalid, field, fmt.Sprintf(format, args...))
}
