package store

import (
	"context"
	"time"

	"credstore/internal/dbx"
)

// Repository persists accounts and their permissions. Implementations are
// bound to a dbx.DBTX, so the same code runs against a plain connection or
// inside a transaction; the CredentialStore decides which.
//
// Lookup methods return common.ErrNotFound for missing usernames.
type Repository interface {
	// Insert creates the account row and returns the assigned id. The caller
	// is expected to have checked for duplicates inside the same transaction;
	// the username uniqueness constraint backstops races.
	Insert(ctx context.Context, a *Account) (int64, error)

	// UsernameExists reports whether an account row exists for username.
	UsernameExists(ctx context.Context, username string) (bool, error)

	// GetByUsername returns the full account record, secrets included.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// InsertPermissions adds permission rows for the account.
	InsertPermissions(ctx context.Context, accountID int64, permissions []string) error

	// Permissions returns the account's permission strings, sorted.
	Permissions(ctx context.Context, accountID int64) ([]string, error)

	// RecordFailure atomically increments the failure counter, stamps
	// last_failed_login, and locks the account once the counter reaches the
	// lockout threshold. It reports whether the account is now locked.
	RecordFailure(ctx context.Context, username string, at time.Time) (locked bool, err error)

	// RecordSuccess resets the failure counter and stamps last_login.
	RecordSuccess(ctx context.Context, username string, at time.Time) error

	// UpdatePassword replaces hash and salt, stamps password_changed_at and
	// clears requires_password_change.
	UpdatePassword(ctx context.Context, username, hash, salt string, at time.Time) error

	// Unlock clears the lock flag and failure counter.
	Unlock(ctx context.Context, username string) error

	// List returns all accounts ordered by username.
	List(ctx context.Context) ([]Account, error)

	// Delete removes the account; permission rows cascade.
	Delete(ctx context.Context, username string) error
}

// RepositoryFactory builds a Repository over the given handle. It is how the
// CredentialStore runs repository calls inside transactions.
type RepositoryFactory func(dbx.DBTX) Repository
