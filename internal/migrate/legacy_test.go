package migrate

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credstore/internal/audit"
	"credstore/internal/auth"
	"credstore/internal/dbx"
	"credstore/internal/hashing"
	"credstore/internal/logging"
	"credstore/internal/permissions"
	"credstore/internal/store"
)

func newTestImporter(t *testing.T) (*Importer, *store.CredentialStore) {
	t.Helper()

	db, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	h, err := hashing.New(hashing.Config{Pepper: "test-pepper"})
	require.NoError(t, err)

	log := logging.NewSlogLogger(slog.New(slog.DiscardHandler))
	cs := store.New(db, func(q dbx.DBTX) store.Repository { return store.NewSQLiteRepository(q) },
		h, log, audit.NopRecorder{})
	return NewImporter(cs, log, audit.NopRecorder{}), cs
}

func TestImport_CreatesAccounts(t *testing.T) {
	imp, cs := newTestImporter(t)
	ctx := context.Background()

	res, err := imp.Import(ctx, map[string]LegacyUser{
		"admin": {Password: "AdminSecure123!", Role: "admin", Email: "admin@example.com"},
		"alice": {Password: "AliceSecret123!", Role: "user"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Imported)
	assert.Empty(t, res.Skipped)
	assert.Empty(t, res.GeneratedPasswords)

	// passwords were re-hashed and are verifiable
	view, err := cs.Authenticate(ctx, "admin", "AdminSecure123!")
	require.NoError(t, err)
	assert.Equal(t, "admin", view.Role)
	assert.True(t, view.RequiresPasswordChange)
}

func TestImport_GeneratesMissingPasswords(t *testing.T) {
	imp, cs := newTestImporter(t)
	ctx := context.Background()

	res, err := imp.Import(ctx, map[string]LegacyUser{
		"bob": {Role: "user", Email: "bob@example.com"},
	})
	require.NoError(t, err)
	require.Contains(t, res.GeneratedPasswords, "bob")

	generated := res.GeneratedPasswords["bob"]
	require.NoError(t, auth.ValidatePassword(generated))

	_, err = cs.Authenticate(ctx, "bob", generated)
	require.NoError(t, err)
}

func TestImport_SkipsExisting(t *testing.T) {
	imp, cs := newTestImporter(t)
	ctx := context.Background()

	require.NoError(t, cs.CreateUser(ctx, "admin", "AdminSecure123!", permissions.RoleAdmin, "", nil))

	res, err := imp.Import(ctx, map[string]LegacyUser{
		"admin": {Password: "SomethingElse1!", Role: "admin"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Imported)
	assert.Equal(t, []string{"admin"}, res.Skipped)

	// the existing password is untouched
	_, err = cs.Authenticate(ctx, "admin", "AdminSecure123!")
	require.NoError(t, err)
}

func TestImport_UnknownRoleBecomesGuest(t *testing.T) {
	imp, cs := newTestImporter(t)
	ctx := context.Background()

	_, err := imp.Import(ctx, map[string]LegacyUser{
		"zed": {Password: "ZedSecret1234!", Role: "wizard"},
	})
	require.NoError(t, err)

	u, err := cs.GetUser(ctx, "zed")
	require.NoError(t, err)
	assert.Equal(t, "guest", u.Role)
}

func TestImportFile(t *testing.T) {
	imp, cs := newTestImporter(t)
	ctx := context.Background()

	path := filepath.Join(t.TempDir(), "users.json")
	payload := `{"carol": {"password": "CarolSecret12!", "role": "moderator", "permissions": ["moderate_chat"]}}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o600))

	res, err := imp.ImportFile(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Imported)

	u, err := cs.GetUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"moderate_chat"}, u.Permissions)
}

func TestImportFile_MissingFile(t *testing.T) {
	imp, _ := newTestImporter(t)
	_, err := imp.ImportFile(context.Background(), "/nonexistent/users.json")
	require.Error(t, err)
}
