package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore implements Store backed by PostgreSQL. The signal
// breakdown lives in a JSONB column so analysts can query into it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed score store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_scores table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_scores (
			id                 UUID PRIMARY KEY,
			transaction_id     UUID NOT NULL UNIQUE,
			user_id            UUID NOT NULL,
			risk_score         DOUBLE PRECISION NOT NULL,
			needs_review       BOOLEAN NOT NULL DEFAULT FALSE,
			risk_factors       JSONB NOT NULL DEFAULT '{}',
			model_version      TEXT NOT NULL,
			is_confirmed_fraud BOOLEAN,
			reviewed_by        TEXT NOT NULL DEFAULT '',
			created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_risk_scores_user_created ON risk_scores(user_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("migrate risk_scores: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sc *Score) error {
	factors, err := json.Marshal(sc.Factors)
	if err != nil {
		return fmt.Errorf("marshal risk factors: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO risk_scores
			(id, transaction_id, user_id, risk_score, needs_review, risk_factors, model_version)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, sc.ID, sc.TransactionID, sc.UserID, sc.Value, sc.NeedsReview, factors, sc.ModelVersion).
		Scan(&sc.CreatedAt)
	if err != nil {
		return fmt.Errorf("create risk score: %w", err)
	}
	return nil
}

const selectScore = `
	SELECT id, transaction_id, user_id, risk_score, needs_review, risk_factors,
	       model_version, is_confirmed_fraud, reviewed_by, created_at
	FROM risk_scores`

func (s *PostgresStore) GetByTransaction(ctx context.Context, transactionID string) (*Score, error) {
	return scanScore(s.db.QueryRowContext(ctx, selectScore+` WHERE transaction_id = $1`, transactionID))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScore(row rowScanner) (*Score, error) {
	sc := &Score{}
	var factors []byte
	var fraud sql.NullBool
	err := row.Scan(&sc.ID, &sc.TransactionID, &sc.UserID, &sc.Value, &sc.NeedsReview,
		&factors, &sc.ModelVersion, &fraud, &sc.ReviewedBy, &sc.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan risk score: %w", err)
	}
	if len(factors) > 0 {
		if err := json.Unmarshal(factors, &sc.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal risk factors: %w", err)
		}
	}
	if fraud.Valid {
		sc.IsConfirmedFraud = &fraud.Bool
	}
	return sc, nil
}

func (s *PostgresStore) List(ctx context.Context, f HistoryFilter) ([]*Score, error) {
	query := selectScore + ` WHERE user_id = $1 AND risk_score >= $2`
	args := []any{f.UserID, f.MinScore}
	if !f.From.IsZero() {
		args = append(args, f.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if !f.To.IsZero() {
		args = append(args, f.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}
	args = append(args, f.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list risk scores: %w", err)
	}
	defer rows.Close()

	var out []*Score
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetReviewOutcome(ctx context.Context, transactionID string, isFraud bool, reviewedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE risk_scores SET is_confirmed_fraud = $2, reviewed_by = $3
		WHERE transaction_id = $1
	`, transactionID, isFraud, reviewedBy)
	if err != nil {
		return fmt.Errorf("set review outcome: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
