package user

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed user store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the users table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			id                   UUID PRIMARY KEY,
			username             TEXT NOT NULL UNIQUE,
			email                TEXT NOT NULL,
			full_name            TEXT NOT NULL DEFAULT '',
			security_answer_hash TEXT NOT NULL DEFAULT '',
			otp                  TEXT NOT NULL DEFAULT '',
			otp_expires_at       TIMESTAMPTZ,
			created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate users: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, u *User) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, username, email, full_name, security_answer_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, u.ID, u.Username, u.Email, u.FullName, u.SecurityAnswerHash).Scan(&u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

const selectUser = `
	SELECT id, username, email, full_name, security_answer_hash, otp, otp_expires_at, created_at
	FROM users`

func (s *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
}

func (s *PostgresStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE username = $1`, username))
}

func scanUser(row *sql.Row) (*User, error) {
	u := &User{}
	var otpExpires sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName,
		&u.SecurityAnswerHash, &u.OTP, &otpExpires, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if otpExpires.Valid {
		u.OTPExpiresAt = otpExpires.Time
	}
	return u, nil
}

func (s *PostgresStore) SetOTP(ctx context.Context, id, otp string, expiresAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET otp = $2, otp_expires_at = $3 WHERE id = $1
	`, id, otp, expiresAt)
	if err != nil {
		return fmt.Errorf("set otp: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) ClearOTP(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users SET otp = '', otp_expires_at = NULL WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("clear otp: %w", err)
	}
	return requireRow(result)
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
