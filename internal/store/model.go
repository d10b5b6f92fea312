package store

import (
	"time"

	"credstore/internal/lockout"
)

// Account is the full persisted record for one user, including secret
// material. It never leaves the store package except on the authentication
// path; read APIs return AccountView instead.
type Account struct {
	ID                     int64
	Username               string
	PasswordHash           string
	Salt                   string
	Role                   string
	Email                  string
	CreatedAt              time.Time
	LastLogin              *time.Time
	PasswordChangedAt      *time.Time
	AccountLocked          bool
	FailedLoginAttempts    int
	RequiresPasswordChange bool
	SecurityLevel          string
	TwoFactorEnabled       bool
	SessionTimeout         time.Duration
	LastFailedLogin        *time.Time
}

// LockState extracts the lockout state machine's view of the account.
func (a *Account) LockState() lockout.State {
	return lockout.State{Locked: a.AccountLocked, FailedAttempts: a.FailedLoginAttempts}
}

// AccountView is the caller-facing projection of an account. It excludes
// password_hash and salt and carries the resolved permission set.
type AccountView struct {
	ID                     int64
	Username               string
	Role                   string
	Email                  string
	CreatedAt              time.Time
	LastLogin              *time.Time
	PasswordChangedAt      *time.Time
	AccountLocked          bool
	FailedLoginAttempts    int
	RequiresPasswordChange bool
	SecurityLevel          string
	TwoFactorEnabled       bool
	SessionTimeout         time.Duration
	Permissions            []string
}

func (a *Account) view(permissions []string) *AccountView {
	return &AccountView{
		ID:                     a.ID,
		Username:               a.Username,
		Role:                   a.Role,
		Email:                  a.Email,
		CreatedAt:              a.CreatedAt,
		LastLogin:              a.LastLogin,
		PasswordChangedAt:      a.PasswordChangedAt,
		AccountLocked:          a.AccountLocked,
		FailedLoginAttempts:    a.FailedLoginAttempts,
		RequiresPasswordChange: a.RequiresPasswordChange,
		SecurityLevel:          a.SecurityLevel,
		TwoFactorEnabled:       a.TwoFactorEnabled,
		SessionTimeout:         a.SessionTimeout,
		Permissions:            permissions,
	}
}
