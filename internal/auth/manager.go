// Package auth provides the manager layer above the credential store: it
// applies the password strength policy and in-process rate limiting before
// store operations, and implements the administrative flows (password reset,
// unlock) on top of the store primitives.
package auth

import (
	"context"
	"errors"
	"time"

	"credstore/internal/audit"
	"credstore/internal/common"
	"credstore/internal/logging"
	"credstore/internal/permissions"
	"credstore/internal/store"
)

// Rate limiting defaults, applied per username.
const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 5 * time.Minute
)

type Manager struct {
	store   *store.CredentialStore
	limiter *RateLimiter
	log     logging.Logger
	audit   audit.Recorder
}

// NewManager wires the store behind the given rate limiter. Pass
// NewRateLimiter(DefaultMaxAttempts, DefaultWindow) unless configuration
// says otherwise.
func NewManager(s *store.CredentialStore, limiter *RateLimiter, log logging.Logger, rec audit.Recorder) *Manager {
	return &Manager{
		store:   s,
		limiter: limiter,
		log:     log.With("component", "auth"),
		audit:   rec,
	}
}

// Authenticate checks rate limits, then delegates to the store. A successful
// authentication clears the caller's rate-limit window.
func (m *Manager) Authenticate(ctx context.Context, username, password string) (*store.AccountView, error) {
	if username == "" || password == "" {
		return nil, common.ErrInvalidCredentials
	}

	if ok, wait := m.limiter.Allow(username); !ok {
		m.log.Warn(ctx, "authentication rate limited", "username", username, "retry_after", wait)
		return nil, common.ErrRateLimited
	}
	m.limiter.Record(username)

	view, err := m.store.Authenticate(ctx, username, password)
	if err != nil {
		return nil, err
	}

	m.limiter.Clear(username)
	return view, nil
}

// CreateUser validates password strength and creates the account with
// catalog-default permissions unless overridden.
func (m *Manager) CreateUser(ctx context.Context, username, password string, role permissions.Role, email string, perms []string) error {
	if err := ValidatePassword(password); err != nil {
		return err
	}
	return m.store.CreateUser(ctx, username, password, role, email, perms)
}

// ChangePassword verifies the current password before rotating to the new
// one. Lockout and rate limiting apply to the verification step like any
// other authentication attempt.
func (m *Manager) ChangePassword(ctx context.Context, username, currentPassword, newPassword string) error {
	if _, err := m.Authenticate(ctx, username, currentPassword); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			// do not reveal whether the account exists on this path
			return common.ErrInvalidCredentials
		}
		return err
	}
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	return m.store.ChangePassword(ctx, username, newPassword)
}

// ResetPassword is the administrative override: it rotates the password
// without knowing the current one.
func (m *Manager) ResetPassword(ctx context.Context, username, newPassword, adminUser string) error {
	if err := ValidatePassword(newPassword); err != nil {
		return err
	}
	if err := m.store.ChangePassword(ctx, username, newPassword); err != nil {
		return err
	}
	m.audit.Record(ctx, audit.NewEvent(audit.KindPasswordReset, username, "by="+adminUser))
	return nil
}

// UnlockUser unlocks the account and clears its rate-limit window.
func (m *Manager) UnlockUser(ctx context.Context, username string) error {
	if err := m.store.UnlockUser(ctx, username); err != nil {
		return err
	}
	m.limiter.Clear(username)
	return nil
}

func (m *Manager) GetUser(ctx context.Context, username string) (*store.AccountView, error) {
	return m.store.GetUser(ctx, username)
}

func (m *Manager) ListUsers(ctx context.Context) ([]store.AccountView, error) {
	return m.store.ListUsers(ctx)
}

func (m *Manager) DeleteUser(ctx context.Context, username string) error {
	return m.store.DeleteUser(ctx, username)
}
