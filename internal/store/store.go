// Package store owns the persistent account schema and composes the
// password hasher, permission catalog and lockout policy into the credential
// store operations: create, authenticate, change password, unlock, read and
// delete.
//
// The store holds no long-lived mutable connection state beyond the
// database/sql pool; every operation acquires what it needs and releases it
// on return, so the store may be called from arbitrary goroutines.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"credstore/internal/audit"
	"credstore/internal/common"
	"credstore/internal/dbx"
	"credstore/internal/hashing"
	"credstore/internal/lockout"
	"credstore/internal/logging"
	"credstore/internal/permissions"
)

const saltBytes = 16

// CredentialStore implements the account lifecycle over a Repository.
type CredentialStore struct {
	db      *sql.DB
	newRepo RepositoryFactory
	hasher  *hashing.Hasher
	log     logging.Logger
	audit   audit.Recorder
	now     func() time.Time
}

// New builds a CredentialStore. The recorder may be audit.NopRecorder{} when
// no audit trail is collected.
func New(db *sql.DB, newRepo RepositoryFactory, h *hashing.Hasher, log logging.Logger, rec audit.Recorder) *CredentialStore {
	return &CredentialStore{
		db:      db,
		newRepo: newRepo,
		hasher:  h,
		log:     log.With("component", "credstore"),
		audit:   rec,
		now:     time.Now,
	}
}

// CreateUser creates an account with a fresh salt and derived digest,
// resolving default permissions from the role catalog unless overridden.
// The account and its permission rows are written as one transaction.
// Returns common.ErrDuplicateUsername if the username is taken.
func (s *CredentialStore) CreateUser(ctx context.Context, username, password string, role permissions.Role, email string, perms []string) error {
	if username == "" {
		return fmt.Errorf("username must not be empty")
	}

	profile := permissions.ProfileFor(role)
	if perms == nil {
		perms = profile.Permissions
	}

	salt, err := common.MakeRandHexString(saltBytes)
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	digest, err := s.hasher.Hash(password, salt)
	if err != nil {
		return err
	}

	now := s.now()
	account := &Account{
		Username:               username,
		PasswordHash:           digest,
		Salt:                   salt,
		Role:                   string(role),
		Email:                  email,
		CreatedAt:              now,
		PasswordChangedAt:      &now,
		RequiresPasswordChange: true,
		SecurityLevel:          profile.SecurityLevel,
		SessionTimeout:         profile.SessionTimeout,
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.newRepo(tx)

		exists, err := repo.UsernameExists(ctx, username)
		if err != nil {
			return err
		}
		if exists {
			return common.ErrDuplicateUsername
		}

		id, err := repo.Insert(ctx, account)
		if err != nil {
			return err
		}
		return repo.InsertPermissions(ctx, id, perms)
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateUsername) {
			s.log.Warn(ctx, "attempted to create duplicate account", "username", username)
		}
		return err
	}

	s.log.Info(ctx, "account created", "username", username, "role", string(role))
	s.audit.Record(ctx, audit.NewEvent(audit.KindUserCreated, username, "role="+string(role)))
	return nil
}

// Authenticate verifies the password for username and returns the account
// view on success.
//
// Error semantics: common.ErrNotFound for unknown usernames,
// common.ErrAccountLocked for locked accounts (returned before any hashing
// work; see the package note on the timing tradeoff),
// common.ErrInvalidCredentials on mismatch (with the failure counter
// incremented as a side effect).
//
// The unknown-username path performs a dummy KDF evaluation so its latency
// matches a real failed verification; the locked path does not, which is a
// deliberate, documented exception.
func (s *CredentialStore) Authenticate(ctx context.Context, username, password string) (*AccountView, error) {
	repo := s.newRepo(s.db)

	account, err := repo.GetByUsername(ctx, username)
	if errors.Is(err, common.ErrNotFound) {
		s.hasher.DummyVerify(password)
		s.audit.Record(ctx, audit.NewEvent(audit.KindLoginFailure, username, "unknown username"))
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if !lockout.CanAttempt(account.LockState()) {
		s.log.Warn(ctx, "authentication attempt on locked account", "username", username)
		s.audit.Record(ctx, audit.NewEvent(audit.KindLoginFailure, username, "account locked"))
		return nil, common.ErrAccountLocked
	}

	ok, err := s.hasher.Verify(password, account.PasswordHash, account.Salt)
	if err != nil {
		return nil, err
	}

	if !ok {
		var locked bool
		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			locked, err = s.newRepo(tx).RecordFailure(ctx, username, s.now())
			return err
		})
		if err != nil {
			return nil, err
		}
		s.log.Warn(ctx, "authentication failed", "username", username, "locked", locked)
		s.audit.Record(ctx, audit.NewEvent(audit.KindLoginFailure, username, "invalid password"))
		if locked {
			s.audit.Record(ctx, audit.NewEvent(audit.KindAccountLocked, username, "failure threshold reached"))
		}
		return nil, common.ErrInvalidCredentials
	}

	now := s.now()
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.newRepo(tx).RecordSuccess(ctx, username, now)
	})
	if err != nil {
		return nil, err
	}

	perms, err := repo.Permissions(ctx, account.ID)
	if err != nil {
		return nil, err
	}

	account.FailedLoginAttempts = 0
	account.LastLogin = &now
	account.LastFailedLogin = nil

	s.log.Info(ctx, "authentication succeeded", "username", username)
	s.audit.Record(ctx, audit.NewEvent(audit.KindLoginSuccess, username, ""))
	return account.view(perms), nil
}

// ChangePassword rotates the account's salt and digest, stamps
// password_changed_at and clears requires_password_change. It does not
// verify the old password; callers that require re-authentication first
// must enforce it themselves.
func (s *CredentialStore) ChangePassword(ctx context.Context, username, newPassword string) error {
	salt, err := common.MakeRandHexString(saltBytes)
	if err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	digest, err := s.hasher.Hash(newPassword, salt)
	if err != nil {
		return err
	}

	repo := s.newRepo(s.db)
	if err := repo.UpdatePassword(ctx, username, digest, salt, s.now()); err != nil {
		return err
	}

	s.log.Info(ctx, "password changed", "username", username)
	s.audit.Record(ctx, audit.NewEvent(audit.KindPasswordChanged, username, ""))
	return nil
}

// UnlockUser clears the lock flag and failure counter. It succeeds on
// already-unlocked accounts.
func (s *CredentialStore) UnlockUser(ctx context.Context, username string) error {
	if err := s.newRepo(s.db).Unlock(ctx, username); err != nil {
		return err
	}
	s.log.Info(ctx, "account unlocked", "username", username)
	s.audit.Record(ctx, audit.NewEvent(audit.KindAccountUnlocked, username, ""))
	return nil
}

// GetUser returns the account view for username, or common.ErrNotFound.
func (s *CredentialStore) GetUser(ctx context.Context, username string) (*AccountView, error) {
	repo := s.newRepo(s.db)
	account, err := repo.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}
	perms, err := repo.Permissions(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	return account.view(perms), nil
}

// ListUsers returns views of all accounts ordered by username.
func (s *CredentialStore) ListUsers(ctx context.Context) ([]AccountView, error) {
	repo := s.newRepo(s.db)
	accounts, err := repo.List(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]AccountView, 0, len(accounts))
	for i := range accounts {
		perms, err := repo.Permissions(ctx, accounts[i].ID)
		if err != nil {
			return nil, err
		}
		views = append(views, *accounts[i].view(perms))
	}
	return views, nil
}

// DeleteUser removes the account and, by cascade, its permission rows.
func (s *CredentialStore) DeleteUser(ctx context.Context, username string) error {
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return s.newRepo(tx).Delete(ctx, username)
	})
	if err != nil {
		return err
	}
	s.log.Info(ctx, "account deleted", "username", username)
	s.audit.Record(ctx, audit.NewEvent(audit.KindUserDeleted, username, ""))
	return nil
}
