// Package migrate imports accounts from the legacy flat-file JSON user
// store into the credential store. Imported passwords are re-hashed under
// the current KDF and pepper; accounts arriving without a usable secret get
// a generated temporary password. Every imported account keeps the
// requires_password_change flag, so first login forces rotation.
package migrate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"credstore/internal/audit"
	"credstore/internal/auth"
	"credstore/internal/common"
	"credstore/internal/logging"
	"credstore/internal/permissions"
	"credstore/internal/store"
)

// LegacyUser is one entry of the legacy JSON file, keyed by username.
type LegacyUser struct {
	Password    string   `json:"password,omitempty"`
	Role        string   `json:"role"`
	Email       string   `json:"email,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// Result summarizes an import run.
type Result struct {
	Imported int
	Skipped  []string // usernames that already existed

	// GeneratedPasswords maps usernames to the temporary password assigned
	// because the legacy entry had none. The caller is responsible for
	// delivering these out of band; they are never logged.
	GeneratedPasswords map[string]string
}

// Importer moves legacy accounts into the credential store.
type Importer struct {
	store *store.CredentialStore
	log   logging.Logger
	audit audit.Recorder
}

func NewImporter(s *store.CredentialStore, log logging.Logger, rec audit.Recorder) *Importer {
	return &Importer{store: s, log: log.With("component", "migrate"), audit: rec}
}

// ImportFile reads the legacy JSON file at path and imports its accounts.
func (i *Importer) ImportFile(ctx context.Context, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read legacy user file: %w", err)
	}

	var users map[string]LegacyUser
	if err := json.Unmarshal(data, &users); err != nil {
		return nil, fmt.Errorf("parse legacy user file: %w", err)
	}

	return i.Import(ctx, users)
}

// Import creates one account per legacy entry. Usernames that already exist
// are skipped, not overwritten. Any other error aborts the run.
func (i *Importer) Import(ctx context.Context, users map[string]LegacyUser) (*Result, error) {
	res := &Result{GeneratedPasswords: map[string]string{}}

	for username, u := range users {
		password := u.Password
		if password == "" {
			generated, err := auth.GeneratePassword(16)
			if err != nil {
				return nil, fmt.Errorf("generate temporary password: %w", err)
			}
			password = generated
			res.GeneratedPasswords[username] = generated
		}

		role := permissions.Role(u.Role)
		if !permissions.Known(role) {
			i.log.Warn(ctx, "legacy account has unknown role, importing as guest",
				"username", username, "role", u.Role)
			role = permissions.RoleGuest
		}

		err := i.store.CreateUser(ctx, username, password, role, u.Email, u.Permissions)
		if errors.Is(err, common.ErrDuplicateUsername) {
			res.Skipped = append(res.Skipped, username)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("import account %q: %w", username, err)
		}

		res.Imported++
		i.audit.Record(ctx, audit.NewEvent(audit.KindMigration, username, "imported from legacy store"))
	}

	i.log.Info(ctx, "legacy import finished", "imported", res.Imported, "skipped", len(res.Skipped))
	return res, nil
}
