package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"credstore/internal/common"
	"credstore/internal/dbx"
	"credstore/internal/lockout"
	"credstore/internal/store/migrations"
)

// OpenSQLite opens (creating if needed) the SQLite credential database at
// path, enables foreign-key enforcement on every connection, applies schema
// migrations, and restricts the file to owner read/write.
//
// The special path ":memory:" opens a private in-memory database with a
// single pooled connection, used by tests.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	mem := path == ":memory:"

	dsn := "file:" + path + "?_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if mem {
		// each pooled connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := runSQLiteMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	if !mem {
		// owner read/write only, immediately after the file exists
		if err := os.Chmod(path, 0o600); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("restrict database file permissions: %w", err)
		}
	}

	return db, nil
}

func runSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "sqlite"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// SQLiteRepository implements Repository over a DBTX (either *sql.DB or
// *sql.Tx). Timestamps are stored as RFC 3339 strings.
type SQLiteRepository struct {
	db dbx.DBTX
}

// NewSQLiteRepository returns a SQLiteRepository bound to the given DBTX.
func NewSQLiteRepository(db dbx.DBTX) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

var _ Repository = (*SQLiteRepository)(nil)

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func fmtTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse stored timestamp: %w", err)
	}
	return &t, nil
}

func (r *SQLiteRepository) Insert(ctx context.Context, a *Account) (int64, error) {
	query := `INSERT INTO accounts (
			username, password_hash, salt, role, email, created_at,
			password_changed_at, account_locked, failed_login_attempts,
			requires_password_change, security_level, two_factor_enabled,
			session_timeout, last_failed_login
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := r.db.ExecContext(ctx, query,
		a.Username, a.PasswordHash, a.Salt, a.Role, nullString(a.Email),
		fmtTime(a.CreatedAt), fmtTimePtr(a.PasswordChangedAt),
		a.AccountLocked, a.FailedLoginAttempts, a.RequiresPasswordChange,
		a.SecurityLevel, a.TwoFactorEnabled, int64(a.SessionTimeout/time.Second),
		fmtTimePtr(a.LastFailedLogin),
	)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("get inserted account id: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE username = ?`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return true, nil
}

const sqliteAccountColumns = `id, username, password_hash, salt, role, email,
		created_at, last_login, password_changed_at, account_locked,
		failed_login_attempts, requires_password_change, security_level,
		two_factor_enabled, session_timeout, last_failed_login`

func (r *SQLiteRepository) scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var email, createdAt, lastLogin, pwChangedAt, lastFailed sql.NullString
	var sessionTimeoutSec int64
	err := row.Scan(
		&a.ID, &a.Username, &a.PasswordHash, &a.Salt, &a.Role, &email,
		&createdAt, &lastLogin, &pwChangedAt, &a.AccountLocked,
		&a.FailedLoginAttempts, &a.RequiresPasswordChange, &a.SecurityLevel,
		&a.TwoFactorEnabled, &sessionTimeoutSec, &lastFailed,
	)
	if err != nil {
		return nil, err
	}

	a.Email = email.String
	a.SessionTimeout = time.Duration(sessionTimeoutSec) * time.Second

	created, err := parseTimePtr(createdAt)
	if err != nil {
		return nil, err
	}
	if created != nil {
		a.CreatedAt = *created
	}
	if a.LastLogin, err = parseTimePtr(lastLogin); err != nil {
		return nil, err
	}
	if a.PasswordChangedAt, err = parseTimePtr(pwChangedAt); err != nil {
		return nil, err
	}
	if a.LastFailedLogin, err = parseTimePtr(lastFailed); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *SQLiteRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts WHERE username = ?`, username)

	a, err := r.scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

func (r *SQLiteRepository) InsertPermissions(ctx context.Context, accountID int64, permissions []string) error {
	for _, p := range permissions {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO permissions (account_id, permission) VALUES (?, ?)`, accountID, p)
		if err != nil {
			return fmt.Errorf("insert permission %q: %w", p, err)
		}
	}
	return nil
}

func (r *SQLiteRepository) Permissions(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT permission FROM permissions WHERE account_id = ? ORDER BY permission`, accountID)
	if err != nil {
		return nil, fmt.Errorf("select permissions: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) RecordFailure(ctx context.Context, username string, at time.Time) (bool, error) {
	// counter bump is expressed in SQL so concurrent attempts never lose an
	// update; the surrounding transaction makes bump+lock one atomic unit
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET failed_login_attempts = failed_login_attempts + 1,
			last_failed_login = ?
		 WHERE username = ?`, fmtTime(at), username)
	if err != nil {
		return false, fmt.Errorf("record failed login: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return false, err
	} else if n == 0 {
		return false, common.ErrNotFound
	}

	var st lockout.State
	err = r.db.QueryRowContext(ctx,
		`SELECT failed_login_attempts, account_locked FROM accounts WHERE username = ?`,
		username).Scan(&st.FailedAttempts, &st.Locked)
	if err != nil {
		return false, fmt.Errorf("read failure counter: %w", err)
	}

	if !st.Locked && st.FailedAttempts >= lockout.Threshold {
		_, err = r.db.ExecContext(ctx,
			`UPDATE accounts SET account_locked = TRUE WHERE username = ?`, username)
		if err != nil {
			return false, fmt.Errorf("lock account: %w", err)
		}
		st.Locked = true
	}
	return st.Locked, nil
}

func (r *SQLiteRepository) RecordSuccess(ctx context.Context, username string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET failed_login_attempts = 0, last_login = ?,
			last_failed_login = NULL
		 WHERE username = ?`, fmtTime(at), username)
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) UpdatePassword(ctx context.Context, username, hash, salt string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = ?, salt = ?, password_changed_at = ?,
			requires_password_change = FALSE
		 WHERE username = ?`, hash, salt, fmtTime(at), username)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) Unlock(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET account_locked = FALSE, failed_login_attempts = 0,
			last_failed_login = NULL
		 WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	return requireRow(res)
}

func (r *SQLiteRepository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteAccountColumns+` FROM accounts ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("select accounts: %w", err)
	}
	defer rows.Close()

	var result []Account
	for rows.Next() {
		a, err := r.scanAccount(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *SQLiteRepository) Delete(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = ?`, username)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
