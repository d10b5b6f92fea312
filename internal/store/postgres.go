package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"credstore/internal/common"
	"credstore/internal/dbx"
	"credstore/internal/lockout"
	"credstore/internal/store/migrations"
)

// OpenPostgres connects to the given DSN through the pgx stdlib driver and
// applies schema migrations. Used for server deployments where the
// credential data lives in a shared database instead of a local file.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "postgres"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	return db, nil
}

// PostgresRepository implements Repository over a DBTX using native
// timestamp types and $n placeholders.
type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

var _ Repository = (*PostgresRepository)(nil)

func (r *PostgresRepository) Insert(ctx context.Context, a *Account) (int64, error) {
	query := `INSERT INTO accounts (
			username, password_hash, salt, role, email, created_at,
			password_changed_at, account_locked, failed_login_attempts,
			requires_password_change, security_level, two_factor_enabled,
			session_timeout, last_failed_login
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		a.Username, a.PasswordHash, a.Salt, a.Role, nullString(a.Email),
		a.CreatedAt.UTC(), a.PasswordChangedAt,
		a.AccountLocked, a.FailedLoginAttempts, a.RequiresPasswordChange,
		a.SecurityLevel, a.TwoFactorEnabled, int64(a.SessionTimeout/time.Second),
		a.LastFailedLogin,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert account: %w", err)
	}
	return id, nil
}

func (r *PostgresRepository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM accounts WHERE username = $1`, username).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check username: %w", err)
	}
	return true, nil
}

const pgAccountColumns = `id, username, password_hash, salt, role, email,
		created_at, last_login, password_changed_at, account_locked,
		failed_login_attempts, requires_password_change, security_level,
		two_factor_enabled, session_timeout, last_failed_login`

func (r *PostgresRepository) scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var email sql.NullString
	var lastLogin, pwChangedAt, lastFailed sql.NullTime
	var sessionTimeoutSec int64

	err := row.Scan(
		&a.ID, &a.Username, &a.PasswordHash, &a.Salt, &a.Role, &email,
		&a.CreatedAt, &lastLogin, &pwChangedAt, &a.AccountLocked,
		&a.FailedLoginAttempts, &a.RequiresPasswordChange, &a.SecurityLevel,
		&a.TwoFactorEnabled, &sessionTimeoutSec, &lastFailed,
	)
	if err != nil {
		return nil, err
	}

	a.Email = email.String
	a.SessionTimeout = time.Duration(sessionTimeoutSec) * time.Second
	if lastLogin.Valid {
		t := lastLogin.Time
		a.LastLogin = &t
	}
	if pwChangedAt.Valid {
		t := pwChangedAt.Time
		a.PasswordChangedAt = &t
	}
	if lastFailed.Valid {
		t := lastFailed.Time
		a.LastFailedLogin = &t
	}
	return &a, nil
}

func (r *PostgresRepository) GetByUsername(ctx context.Context, username string) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts WHERE username = $1`, username)

	a, err := r.scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

func (r *PostgresRepository) InsertPermissions(ctx context.Context, accountID int64, permissions []string) error {
	for _, p := range permissions {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO permissions (account_id, permission) VALUES ($1, $2)`, accountID, p)
		if err != nil {
			return fmt.Errorf("insert permission %q: %w", p, err)
		}
	}
	return nil
}

func (r *PostgresRepository) Permissions(ctx context.Context, accountID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT permission FROM permissions WHERE account_id = $1 ORDER BY permission`, accountID)
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

func (r *PostgresRepository) RecordFailure(ctx context.Context, username string, at time.Time) (bool, error) {
	var st lockout.State
	err := r.db.QueryRowContext(ctx,
		`UPDATE accounts SET failed_login_attempts = failed_login_attempts + 1,
			last_failed_login = $1
		 WHERE username = $2
		 RETURNING failed_login_attempts, account_locked`,
		at.UTC(), username).Scan(&st.FailedAttempts, &st.Locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, common.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("record failed login: %w", err)
	}

	if !st.Locked && st.FailedAttempts >= lockout.Threshold {
		_, err = r.db.ExecContext(ctx,
			`UPDATE accounts SET account_locked = TRUE WHERE username = $1`, username)
		if err != nil {
			return false, fmt.Errorf("lock account: %w", err)
		}
		st.Locked = true
	}
	return st.Locked, nil
}

func (r *PostgresRepository) RecordSuccess(ctx context.Context, username string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET failed_login_attempts = 0, last_login = $1,
			last_failed_login = NULL
		 WHERE username = $2`, at.UTC(), username)
	if err != nil {
		return fmt.Errorf("record successful login: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) UpdatePassword(ctx context.Context, username, hash, salt string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET password_hash = $1, salt = $2, password_changed_at = $3,
			requires_password_change = FALSE
		 WHERE username = $4`, hash, salt, at.UTC(), username)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) Unlock(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET account_locked = FALSE, failed_login_attempts = 0,
			last_failed_login = NULL
		 WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) List(ctx context.Context) ([]Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pgAccountColumns+` FROM accounts ORDER BY username`)
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

func (r *PostgresRepository) Delete(ctx context.Context, username string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res)
}
