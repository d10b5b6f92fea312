package store

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credstore/internal/audit"
	"credstore/internal/common"
	"credstore/internal/dbx"
	"credstore/internal/hashing"
	"credstore/internal/lockout"
	"credstore/internal/logging"
	"credstore/internal/permissions"
)

func newTestStore(t *testing.T) (*CredentialStore, *sql.DB) {
	t.Helper()

	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h, err := hashing.New(hashing.Config{Pepper: "test-pepper"})
	require.NoError(t, err)

	s := New(db, func(q dbx.DBTX) Repository { return NewSQLiteRepository(q) },
		h, logging.NewSlogLogger(slog.New(slog.DiscardHandler)), audit.NopRecorder{})
	return s, db
}

func TestCreateUser_AdminWithDefaultPermissions(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "admin", "AdminSecure123!", permissions.RoleAdmin, "admin@example.com", nil))

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)

	u := users[0]
	assert.Equal(t, "admin", u.Username)
	assert.Equal(t, "admin", u.Role)
	assert.Equal(t, "high", u.SecurityLevel)
	assert.True(t, u.RequiresPasswordChange)
	assert.False(t, u.AccountLocked)
	assert.ElementsMatch(t, permissions.ProfileFor(permissions.RoleAdmin).Permissions, u.Permissions)
}

func TestCreateUser_Duplicate(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "bob", "FirstSecret123!", permissions.RoleUser, "", nil))
	err := s.CreateUser(ctx, "bob", "SecondSecret123!", permissions.RoleUser, "", nil)
	require.ErrorIs(t, err, common.ErrDuplicateUsername)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM accounts WHERE username = 'bob'`).Scan(&count))
	assert.Equal(t, 1, count)

	// first account persists unchanged
	_, err = s.Authenticate(ctx, "bob", "FirstSecret123!")
	require.NoError(t, err)
}

func TestCreateUser_EmptyUsername(t *testing.T) {
	s, _ := newTestStore(t)
	require.Error(t, s.CreateUser(context.Background(), "", "pw", permissions.RoleUser, "", nil))
}

func TestCreateUser_SaltAndDigestNotReused(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice", "SamePassword123!", permissions.RoleUser, "", nil))
	require.NoError(t, s.CreateUser(ctx, "carol", "SamePassword123!", permissions.RoleUser, "", nil))

	var saltA, saltC, hashA, hashC string
	require.NoError(t, db.QueryRow(`SELECT salt, password_hash FROM accounts WHERE username = 'alice'`).Scan(&saltA, &hashA))
	require.NoError(t, db.QueryRow(`SELECT salt, password_hash FROM accounts WHERE username = 'carol'`).Scan(&saltC, &hashC))

	assert.NotEqual(t, saltA, saltC)
	assert.NotEqual(t, hashA, hashC)
	assert.GreaterOrEqual(t, len(saltA), 32) // 16 random bytes, hex encoded
}

func TestCreateUser_PermissionOverride(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	override := []string{"translation"}
	require.NoError(t, s.CreateUser(ctx, "eve", "Override123!x", permissions.RoleUser, "", override))

	u, err := s.GetUser(ctx, "eve")
	require.NoError(t, err)
	assert.Equal(t, override, u.Permissions)
}

func TestAuthenticate_Success(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "admin", "AdminSecure123!", permissions.RoleAdmin, "", nil))

	view, err := s.Authenticate(ctx, "admin", "AdminSecure123!")
	require.NoError(t, err)
	assert.Equal(t, "admin", view.Username)
	assert.Equal(t, 0, view.FailedLoginAttempts)
	assert.NotNil(t, view.LastLogin)
	assert.Contains(t, view.Permissions, "user_management")
}

func TestAuthenticate_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Authenticate(context.Background(), "ghost", "whatever")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestAuthenticate_LockoutThreshold(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "admin", "AdminSecure123!", permissions.RoleAdmin, "", nil))

	// calls 1..5 fail with invalid credentials, the 5th transitions to locked
	for i := 1; i <= lockout.Threshold; i++ {
		_, err := s.Authenticate(ctx, "admin", "wrong")
		require.ErrorIs(t, err, common.ErrInvalidCredentials, "attempt %d", i)
	}

	// call 6 onward is rejected without hashing, even with the right password
	_, err := s.Authenticate(ctx, "admin", "AdminSecure123!")
	require.ErrorIs(t, err, common.ErrAccountLocked)

	u, err := s.GetUser(ctx, "admin")
	require.NoError(t, err)
	assert.True(t, u.AccountLocked)
	assert.Equal(t, lockout.Threshold, u.FailedLoginAttempts)
}

func TestAuthenticate_ResetOnSuccess(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "dana", "DanaSecret123!", permissions.RoleUser, "", nil))

	for i := 0; i < lockout.Threshold-1; i++ {
		_, err := s.Authenticate(ctx, "dana", "wrong")
		require.ErrorIs(t, err, common.ErrInvalidCredentials)
	}

	_, err := s.Authenticate(ctx, "dana", "DanaSecret123!")
	require.NoError(t, err)

	u, err := s.GetUser(ctx, "dana")
	require.NoError(t, err)
	assert.Equal(t, 0, u.FailedLoginAttempts)

	// a single failure after the reset must not lock
	_, err = s.Authenticate(ctx, "dana", "wrong")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)
	u, err = s.GetUser(ctx, "dana")
	require.NoError(t, err)
	assert.False(t, u.AccountLocked)
	assert.Equal(t, 1, u.FailedLoginAttempts)
}

func TestUnlockUser(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "admin", "AdminSecure123!", permissions.RoleAdmin, "", nil))
	for i := 0; i < lockout.Threshold; i++ {
		_, _ = s.Authenticate(ctx, "admin", "wrong")
	}
	_, err := s.Authenticate(ctx, "admin", "AdminSecure123!")
	require.ErrorIs(t, err, common.ErrAccountLocked)

	require.NoError(t, s.UnlockUser(ctx, "admin"))

	view, err := s.Authenticate(ctx, "admin", "AdminSecure123!")
	require.NoError(t, err)
	assert.Equal(t, 0, view.FailedLoginAttempts)
}

func TestUnlockUser_Idempotent(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "fred", "FredSecret123!", permissions.RoleUser, "", nil))
	require.NoError(t, s.UnlockUser(ctx, "fred"))
	require.NoError(t, s.UnlockUser(ctx, "fred"))

	u, err := s.GetUser(ctx, "fred")
	require.NoError(t, err)
	assert.Equal(t, 0, u.FailedLoginAttempts)
	assert.False(t, u.AccountLocked)
}

func TestUnlockUser_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	require.ErrorIs(t, s.UnlockUser(context.Background(), "ghost"), common.ErrNotFound)
}

func TestChangePassword(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "admin", "AdminSecure123!", permissions.RoleAdmin, "", nil))

	var saltBefore string
	require.NoError(t, db.QueryRow(`SELECT salt FROM accounts WHERE username = 'admin'`).Scan(&saltBefore))

	require.NoError(t, s.ChangePassword(ctx, "admin", "NewSecure456!"))

	_, err := s.Authenticate(ctx, "admin", "AdminSecure123!")
	require.ErrorIs(t, err, common.ErrInvalidCredentials)

	view, err := s.Authenticate(ctx, "admin", "NewSecure456!")
	require.NoError(t, err)
	assert.False(t, view.RequiresPasswordChange)
	assert.NotNil(t, view.PasswordChangedAt)

	var saltAfter string
	require.NoError(t, db.QueryRow(`SELECT salt FROM accounts WHERE username = 'admin'`).Scan(&saltAfter))
	assert.NotEqual(t, saltBefore, saltAfter)
}

func TestChangePassword_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	require.ErrorIs(t, s.ChangePassword(context.Background(), "ghost", "NewSecure456!"), common.ErrNotFound)
}

func TestDeleteUser_CascadesPermissions(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice", "AliceSecret123!", permissions.RoleUser, "", nil))
	require.NoError(t, s.CreateUser(ctx, "bob", "BobSecret1234!", permissions.RoleUser, "", nil))

	require.NoError(t, s.DeleteUser(ctx, "alice"))

	_, err := s.GetUser(ctx, "alice")
	require.ErrorIs(t, err, common.ErrNotFound)

	var orphaned int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM permissions p LEFT JOIN accounts a ON a.id = p.account_id WHERE a.id IS NULL`).
		Scan(&orphaned))
	assert.Equal(t, 0, orphaned)

	// bob's permissions are untouched
	bob, err := s.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.NotEmpty(t, bob.Permissions)
}

func TestDeleteUser_NotFound(t *testing.T) {
	s, _ := newTestStore(t)
	require.ErrorIs(t, s.DeleteUser(context.Background(), "ghost"), common.ErrNotFound)
}

func TestViews_ExcludeSecrets(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "alice", "AliceSecret123!", permissions.RoleUser, "", nil))

	// AccountView has no hash/salt fields at all; spot-check the values that
	// are exposed do not contain the digest
	u, err := s.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.NotContains(t, u.Email, "$argon2id$")
	assert.Equal(t, "alice", u.Username)
}

func TestCreateUser_UnknownRoleGetsGuestProfile(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateUser(ctx, "zed", "ZedSecret1234!", permissions.Role("wizard"), "", nil))

	u, err := s.GetUser(ctx, "zed")
	require.NoError(t, err)
	assert.Equal(t, "low", u.SecurityLevel)
	assert.ElementsMatch(t, permissions.ProfileFor(permissions.RoleGuest).Permissions, u.Permissions)
}
