// Command credstore is the admin CLI for the credential store. It manages
// user accounts directly against the configured backend: creating users,
// verifying logins, rotating passwords, unlocking accounts, and importing
// legacy user files.
//
// Usage:
//
//	credstore <command> [flags]
//
// Commands:
//
//	create    create a new user (prompts for details)
//	auth      verify a username/password pair
//	passwd    change a user's password (requires the current one)
//	reset     set a new password without the current one
//	unlock    clear a lockout and failed-attempt counter
//	list      print all accounts
//	delete    remove a user and their permissions
//	migrate   import users from a legacy JSON file
//
// The pepper must be present in the CREDSTORE_PEPPER environment variable;
// the command refuses to start without it.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"credstore/internal/audit"
	"credstore/internal/auth"
	"credstore/internal/common"
	"credstore/internal/config"
	"credstore/internal/dbx"
	"credstore/internal/hashing"
	"credstore/internal/logging"
	"credstore/internal/migrate"
	"credstore/internal/permissions"
	"credstore/internal/store"
)

func main() {
	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]

	cfg := config.LoadConfig()
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	ctx := context.Background()

	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, common.ErrMissingPepper) {
			fmt.Fprintf(os.Stderr, "error: %s environment variable is not set\n", config.PepperEnvVar)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
	defer app.Close()

	if err := app.run(ctx, command); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: credstore <command> [flags]")
	fmt.Fprintln(os.Stderr, "commands: create, auth, passwd, reset, unlock, list, delete, migrate")
	fmt.Fprintln(os.Stderr, "flags: -b backend, -f sqlite path, -d postgres dsn, -c config file, -n attempts, -w window minutes")
}

type app struct {
	db       *sql.DB
	manager  *auth.Manager
	importer *migrate.Importer
	in       *bufio.Reader
	out      *os.File
}

func newApp(ctx context.Context, cfg *config.Config, logger logging.Logger) (*app, error) {
	hasher, err := hashing.New(hashing.Config{Pepper: cfg.Pepper})
	if err != nil {
		return nil, err
	}

	var (
		db      *sql.DB
		factory store.RepositoryFactory
	)
	switch cfg.Backend {
	case config.BackendSQLite:
		db, err = store.OpenSQLite(ctx, cfg.DatabasePath)
		factory = func(d dbx.DBTX) store.Repository { return store.NewSQLiteRepository(d) }
	case config.BackendPostgres:
		db, err = store.OpenPostgres(ctx, cfg.DatabaseDSN)
		factory = func(d dbx.DBTX) store.Repository { return store.NewPostgresRepository(d) }
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("opening %s backend: %w", cfg.Backend, err)
	}

	recorder := audit.NewLogRecorder(logger)
	cs := store.New(db, factory, hasher, logger, recorder)
	limiter := auth.NewRateLimiter(cfg.RateLimitAttempts, cfg.RateLimitWindow)

	return &app{
		db:       db,
		manager:  auth.NewManager(cs, limiter, logger, recorder),
		importer: migrate.NewImporter(cs, logger, recorder),
		in:       bufio.NewReader(os.Stdin),
		out:      os.Stdout,
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
}

func (a *app) run(ctx context.Context, command string) error {
	switch command {
	case "create":
		return a.create(ctx)
	case "auth":
		return a.auth(ctx)
	case "passwd":
		return a.passwd(ctx)
	case "reset":
		return a.reset(ctx)
	case "unlock":
		return a.unlock(ctx)
	case "list":
		return a.list(ctx)
	case "delete":
		return a.delete(ctx)
	case "migrate":
		return a.migrate(ctx)
	default:
		usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) create(ctx context.Context) error {
	username, err := getText(a.in, "username", a.out)
	if err != nil {
		return err
	}
	roleName, err := getText(a.in, "role (admin/moderator/support/analyst/user/guest)", a.out)
	if err != nil {
		return err
	}
	email, err := getText(a.in, "email (optional)", a.out)
	if err != nil {
		return err
	}
	role := permissions.Role(roleName)
	if !permissions.Known(role) {
		return fmt.Errorf("unknown role %q", roleName)
	}

	password, err := getPassword("password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)
	confirm, err := getPassword("confirm password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(confirm)
	if string(password) != string(confirm) {
		return errors.New("passwords do not match")
	}

	if err := a.manager.CreateUser(ctx, username, string(password), role, email, nil); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %q created with role %q\n", username, role)
	return nil
}

func (a *app) auth(ctx context.Context) error {
	username, err := getText(a.in, "username", a.out)
	if err != nil {
		return err
	}
	password, err := getPassword("password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(password)

	view, err := a.manager.Authenticate(ctx, username, string(password))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "authenticated %q (role %s, security level %s)\n",
		view.Username, view.Role, view.SecurityLevel)
	if view.RequiresPasswordChange {
		fmt.Fprintln(a.out, "note: password change required")
	}
	return nil
}

func (a *app) passwd(ctx context.Context) error {
	username, err := getText(a.in, "username", a.out)
	if err != nil {
		return err
	}
	current, err := getPassword("current password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(current)
	next, err := getPassword("new password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(next)

	if err := a.manager.ChangePassword(ctx, username, string(current), string(next)); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "password changed for %q\n", username)
	return nil
}

func (a *app) reset(ctx context.Context) error {
	username, err := getText(a.in, "username", a.out)
	if err != nil {
		return err
	}
	next, err := getPassword("new password", a.out)
	if err != nil {
		return err
	}
	defer common.WipeByteArray(next)

	if err := a.manager.ResetPassword(ctx, username, string(next), "cli"); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "password reset for %q\n", username)
	return nil
}

func (a *app) unlock(ctx context.Context) error {
	username, err := getText(a.in, "username", a.out)
	if err != nil {
		return err
	}
	if err := a.manager.UnlockUser(ctx, username); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "account %q unlocked\n", username)
	return nil
}

func (a *app) list(ctx context.Context) error {
	views, err := a.manager.ListUsers(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "USERNAME\tROLE\tLEVEL\tLOCKED\tFAILED\tLAST LOGIN")
	for _, v := range views {
		last := "never"
		if v.LastLogin != nil {
			last = v.LastLogin.Format("2006-01-02 15:04:05")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%s\n",
			v.Username, v.Role, v.SecurityLevel, v.AccountLocked, v.FailedLoginAttempts, last)
	}
	return w.Flush()
}

func (a *app) delete(ctx context.Context) error {
	username, err := getText(a.in, "username", a.out)
	if err != nil {
		return err
	}
	confirm, err := getText(a.in, fmt.Sprintf("delete %q and all their permissions? (yes/no)", username), a.out)
	if err != nil {
		return err
	}
	if confirm != "yes" {
		fmt.Fprintln(a.out, "aborted")
		return nil
	}
	if err := a.manager.DeleteUser(ctx, username); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "user %q deleted\n", username)
	return nil
}

func (a *app) migrate(ctx context.Context) error {
	path, err := getText(a.in, "legacy users file", a.out)
	if err != nil {
		return err
	}
	result, err := a.importer.ImportFile(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "imported %d users, skipped %d existing\n", result.Imported, len(result.Skipped))
	for _, name := range result.Skipped {
		fmt.Fprintf(a.out, "skipped: %s\n", name)
	}
	if len(result.GeneratedPasswords) > 0 {
		fmt.Fprintln(a.out, "temporary passwords (deliver out of band, users must change at first login):")
		for name, pw := range result.GeneratedPasswords {
			fmt.Fprintf(a.out, "  %s: %s\n", name, pw)
		}
	}
	return nil
}
