package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed idempotency store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the idempotency_keys table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key           UUID NOT NULL,
			user_id       UUID NOT NULL,
			endpoint      TEXT NOT NULL,
			response_code INT NOT NULL,
			response_body BYTEA NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (key, user_id, endpoint)
		);
		CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_keys (expires_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate idempotency_keys: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key, userID, endpoint string) (*Record, error) {
	r := &Record{}
	err := s.db.QueryRowContext(ctx, `
		SELECT key, user_id, endpoint, response_code, response_body, created_at, expires_at
		FROM idempotency_keys
		WHERE key = $1 AND user_id = $2 AND endpoint = $3 AND expires_at > NOW()
	`, key, userID, endpoint).Scan(
		&r.Key, &r.UserID, &r.Endpoint, &r.ResponseCode, &r.ResponseBody, &r.CreatedAt, &r.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) Put(ctx context.Context, r *Record) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO idempotency_keys (key, user_id, endpoint, response_code, response_body, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (key, user_id, endpoint) DO UPDATE
		SET response_code = EXCLUDED.response_code,
		    response_body = EXCLUDED.response_body,
		    expires_at    = EXCLUDED.expires_at
		RETURNING created_at
	`, r.Key, r.UserID, r.Endpoint, r.ResponseCode, r.ResponseBody, r.ExpiresAt).Scan(&r.CreatedAt)
	if err != nil {
		return fmt.Errorf("put idempotency key: %w", err)
	}
	return nil
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("purge idempotency keys: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
