package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credstore/internal/common"
	"credstore/internal/lockout"
)

func seedAccount(t *testing.T, r *SQLiteRepository, username string) int64 {
	t.Helper()
	id, err := r.Insert(context.Background(), &Account{
		Username:               username,
		PasswordHash:           "$argon2id$v=19$m=32768,t=2,p=1$AAAAAAAAAAAAAAAAAAAAAA$AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
		Salt:                   "00112233445566778899aabbccddeeff",
		Role:                   "user",
		CreatedAt:              time.Now(),
		RequiresPasswordChange: true,
		SecurityLevel:          "medium",
		SessionTimeout:         30 * time.Minute,
	})
	require.NoError(t, err)
	return id
}

func TestOpenSQLite_RestrictsFilePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.db")

	db, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	defer db.Close()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSQLiteRepository_GetByUsername_NotFound(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewSQLiteRepository(db)
	_, err = r.GetByUsername(context.Background(), "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteRepository_RecordFailure_LocksAtThreshold(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewSQLiteRepository(db)
	seedAccount(t, r, "alice")
	ctx := context.Background()

	for i := 1; i < lockout.Threshold; i++ {
		locked, err := r.RecordFailure(ctx, "alice", time.Now())
		require.NoError(t, err)
		assert.False(t, locked, "attempt %d", i)
	}
	locked, err := r.RecordFailure(ctx, "alice", time.Now())
	require.NoError(t, err)
	assert.True(t, locked)

	a, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, a.AccountLocked)
	assert.Equal(t, lockout.Threshold, a.FailedLoginAttempts)
	assert.NotNil(t, a.LastFailedLogin)
}

func TestSQLiteRepository_RecordFailure_NotFound(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewSQLiteRepository(db)
	_, err = r.RecordFailure(context.Background(), "missing", time.Now())
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestSQLiteRepository_RecordSuccess_ResetsState(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewSQLiteRepository(db)
	seedAccount(t, r, "alice")
	ctx := context.Background()

	_, err = r.RecordFailure(ctx, "alice", time.Now())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, r.RecordSuccess(ctx, "alice", now))

	a, err := r.GetByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, a.FailedLoginAttempts)
	require.NotNil(t, a.LastLogin)
	assert.WithinDuration(t, now, *a.LastLogin, time.Second)
	assert.Nil(t, a.LastFailedLogin)
}

func TestSQLiteRepository_PermissionsRoundTrip(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewSQLiteRepository(db)
	id := seedAccount(t, r, "alice")
	ctx := context.Background()

	require.NoError(t, r.InsertPermissions(ctx, id, []string{"voice_chat", "translation"}))

	perms, err := r.Permissions(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"translation", "voice_chat"}, perms) // sorted

	// duplicate pairs are rejected by the unique constraint
	require.Error(t, r.InsertPermissions(ctx, id, []string{"voice_chat"}))
}

func TestSQLiteRepository_UniqueUsernameConstraint(t *testing.T) {
	db, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	r := NewSQLiteRepository(db)
	seedAccount(t, r, "alice")

	_, err = r.Insert(context.Background(), &Account{
		Username:     "alice",
		PasswordHash: "x",
		Salt:         "y",
		Role:         "user",
		CreatedAt:    time.Now(),
	})
	require.Error(t, err)
}
