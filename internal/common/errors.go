// Package common defines shared constants and sentinel errors used across
// the credential store. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound          = errors.New("account not found")
	ErrDuplicateUsername = errors.New("username already exists")

	// Authentication outcomes. These are ordinary control-flow values,
	// never escalated to process-fatal.
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidCredentials = errors.New("invalid credentials")

	// Configuration / hashing errors. These indicate operator or programmer
	// mistakes and must abort the operation, with no fallback hashing scheme.
	ErrMissingPepper = errors.New("pepper is not configured")
	ErrHashing       = errors.New("password hashing failed")

	// Validation errors.
	ErrWeakPassword = errors.New("password does not meet strength requirements")
	ErrRateLimited  = errors.New("too many authentication attempts")
)
