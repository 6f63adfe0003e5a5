package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// MemoryLog keeps violations in memory for demo mode and tests.
type MemoryLog struct {
	mu         sync.RWMutex
	violations []*Violation
}

// NewMemoryLog creates an empty violation log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

func (m *MemoryLog) Record(ctx context.Context, v *Violation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *v
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.violations = append(m.violations, &cp)
	return nil
}

func (m *MemoryLog) ListSince(ctx context.Context, identity string, since time.Time) ([]*Violation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Violation
	for _, v := range m.violations {
		if v.Identity == identity && !v.CreatedAt.Before(since) {
			cp := *v
			out = append(out, &cp)
		}
	}
	return out, nil
}

// PostgresLog persists violations so blocks survive restarts and feed
// fraud review.
type PostgresLog struct {
	db *sql.DB
}

// NewPostgresLog creates a PostgreSQL-backed violation log.
func NewPostgresLog(db *sql.DB) *PostgresLog {
	return &PostgresLog{db: db}
}

// Migrate creates the rate_limit_violations table if needed.
func (s *PostgresLog) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rate_limit_violations (
			id            UUID PRIMARY KEY,
			identity      TEXT NOT NULL,
			endpoint      TEXT NOT NULL,
			count         BIGINT NOT NULL,
			max_requests  INT NOT NULL,
			window_start  TIMESTAMPTZ NOT NULL,
			window_end    TIMESTAMPTZ NOT NULL,
			blocked_until TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_rlv_identity ON rate_limit_violations (identity, created_at)
	`)
	if err != nil {
		return fmt.Errorf("migrate rate_limit_violations: %w", err)
	}
	return nil
}

func (s *PostgresLog) Record(ctx context.Context, v *Violation) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_violations
			(id, identity, endpoint, count, max_requests, window_start, window_end, blocked_until)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, v.ID, v.Identity, v.Endpoint, v.Count, v.Limit,
		v.WindowStart, v.WindowEnd, v.BlockedUntil).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("record rate limit violation: %w", err)
	}
	return nil
}

func (s *PostgresLog) ListSince(ctx context.Context, identity string, since time.Time) ([]*Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, identity, endpoint, count, max_requests, window_start, window_end, blocked_until, created_at
		FROM rate_limit_violations
		WHERE identity = $1 AND created_at >= $2
		ORDER BY created_at DESC
	`, identity, since)
	if err != nil {
		return nil, fmt.Errorf("list rate limit violations: %w", err)
	}
	defer rows.Close()

	var out []*Violation
	for rows.Next() {
		v := &Violation{}
		if err := rows.Scan(&v.ID, &v.Identity, &v.Endpoint, &v.Count, &v.Limit,
			&v.WindowStart, &v.WindowEnd, &v.BlockedUntil, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
