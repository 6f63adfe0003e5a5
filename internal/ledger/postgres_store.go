package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
)

// PostgresStore implements Store backed by PostgreSQL. Metadata lives in
// a JSONB column so failure details and conversion locks stay queryable.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed transaction store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the transactions table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS transactions (
			id                  UUID PRIMARY KEY,
			reference           VARCHAR(24) NOT NULL UNIQUE,
			type                TEXT NOT NULL,
			category            TEXT NOT NULL DEFAULT 'debit',
			status              TEXT NOT NULL DEFAULT 'pending',
			failure_reason      TEXT NOT NULL DEFAULT '',
			review_status       TEXT NOT NULL DEFAULT 'pending',
			user_id             UUID NOT NULL,
			sender_id           UUID,
			receiver_id         UUID,
			sender_account_id   UUID,
			receiver_account_id UUID,
			processed_by        TEXT NOT NULL DEFAULT '',
			amount              NUMERIC(20,2) NOT NULL,
			currency            VARCHAR(3) NOT NULL,
			balance_before      NUMERIC(20,2) NOT NULL DEFAULT 0,
			balance_after       NUMERIC(20,2) NOT NULL DEFAULT 0,
			description         TEXT NOT NULL DEFAULT '',
			metadata            JSONB NOT NULL DEFAULT '{}',
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at        TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_user_created ON transactions(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_receiver ON transactions(receiver_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_transactions_review ON transactions(review_status) WHERE review_status = 'flagged';
	`)
	if err != nil {
		return fmt.Errorf("migrate transactions: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, tx *Transaction) error {
	return s.insert(ctx, s.db, tx)
}

func (s *PostgresStore) insert(ctx context.Context, db account.Execer, tx *Transaction) error {
	metadata, err := json.Marshal(orEmpty(tx.Metadata))
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	err = db.QueryRowContext(ctx, `
		INSERT INTO transactions
			(id, reference, type, category, status, failure_reason, review_status,
			 user_id, sender_id, receiver_id, sender_account_id, receiver_account_id,
			 processed_by, amount, currency, balance_before, balance_after,
			 description, metadata, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NULLIF($9, ''), NULLIF($10, ''),
			NULLIF($11, ''), NULLIF($12, ''), $13, $14, $15, $16, $17, $18, $19, $20)
		RETURNING created_at, updated_at
	`, tx.ID, tx.Reference, tx.Type, tx.Category, tx.Status, tx.FailureReason,
		tx.ReviewStatus, tx.UserID, tx.SenderID, tx.ReceiverID, tx.SenderAccountID,
		tx.ReceiverAccountID, tx.ProcessedBy, tx.Amount, tx.Currency,
		tx.BalanceBefore, tx.BalanceAfter, tx.Description, metadata,
		tx.CompletedAt).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "transactions_reference_key") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// CreateSettled moves the money and records the completed transaction in
// one database transaction, so a crash can never leave a balance changed
// without its row or a completed row without its balance change.
func (s *PostgresStore) CreateSettled(ctx context.Context, tx *Transaction, moves []account.BalanceMove) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin settlement: %w", err)
	}
	defer dbtx.Rollback()

	results, err := account.ApplyMoves(ctx, dbtx, moves)
	if err != nil {
		return err
	}

	now := time.Now()
	tx.Status = StatusCompleted
	tx.CompletedAt = &now
	stampTrail(tx, results)
	if err := s.insert(ctx, dbtx, tx); err != nil {
		return err
	}
	return dbtx.Commit()
}

// Settle moves the money and flips the existing row to completed in one
// database transaction. A move failure rolls everything back and leaves
// the row as it was.
func (s *PostgresStore) Settle(ctx context.Context, reference string, moves []account.BalanceMove, completedAt time.Time) (*Transaction, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin settlement: %w", err)
	}
	defer dbtx.Rollback()

	tx, err := scanTx(dbtx.QueryRowContext(ctx, selectTransaction+` WHERE reference = $1 FOR UPDATE`, reference))
	if err != nil {
		return nil, err
	}
	if !completable(tx) {
		return nil, ErrNotPending
	}

	results, err := account.ApplyMoves(ctx, dbtx, moves)
	if err != nil {
		return nil, err
	}
	stampTrail(tx, results)

	err = dbtx.QueryRowContext(ctx, `
		UPDATE transactions SET
			status         = 'completed',
			failure_reason = '',
			balance_before = $2,
			balance_after  = $3,
			completed_at   = $4,
			updated_at     = NOW()
		WHERE reference = $1
		RETURNING updated_at
	`, reference, tx.BalanceBefore, tx.BalanceAfter, completedAt).Scan(&tx.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("settle transaction: %w", err)
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit settlement: %w", err)
	}

	tx.Status = StatusCompleted
	tx.FailureReason = ""
	tx.CompletedAt = &completedAt
	return tx, nil
}

const selectTransaction = `
	SELECT id, reference, type, category, status, failure_reason, review_status, user_id,
	       COALESCE(sender_id::TEXT, ''), COALESCE(receiver_id::TEXT, ''),
	       COALESCE(sender_account_id::TEXT, ''), COALESCE(receiver_account_id::TEXT, ''),
	       processed_by, amount, currency, balance_before, balance_after,
	       description, metadata, created_at, updated_at, completed_at
	FROM transactions`

func (s *PostgresStore) Get(ctx context.Context, id string) (*Transaction, error) {
	return scanTx(s.db.QueryRowContext(ctx, selectTransaction+` WHERE id = $1`, id))
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	return scanTx(s.db.QueryRowContext(ctx, selectTransaction+` WHERE reference = $1`, reference))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTx(row rowScanner) (*Transaction, error) {
	tx := &Transaction{}
	var cur string
	var metadata []byte
	var completedAt sql.NullTime
	err := row.Scan(&tx.ID, &tx.Reference, &tx.Type, &tx.Category, &tx.Status,
		&tx.FailureReason, &tx.ReviewStatus, &tx.UserID, &tx.SenderID, &tx.ReceiverID,
		&tx.SenderAccountID, &tx.ReceiverAccountID, &tx.ProcessedBy,
		&tx.Amount, &cur, &tx.BalanceBefore, &tx.BalanceAfter,
		&tx.Description, &metadata, &tx.CreatedAt, &tx.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan transaction: %w", err)
	}
	tx.Currency = currency.Code(cur)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &tx.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if completedAt.Valid {
		tx.CompletedAt = &completedAt.Time
	}
	return tx, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, reference string, reason FailureReason, details Metadata) error {
	payload, err := json.Marshal(orEmpty(details))
	if err != nil {
		return fmt.Errorf("marshal failure details: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			status         = 'failed',
			failure_reason = $2,
			metadata       = metadata || $3::JSONB,
			updated_at     = NOW()
		WHERE reference = $1 AND status = 'pending'
	`, reference, reason, payload)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return s.requirePending(ctx, reference, result)
}

func (s *PostgresStore) SetReviewStatus(ctx context.Context, id string, status ReviewStatus, audit Metadata) error {
	payload, err := json.Marshal(orEmpty(audit))
	if err != nil {
		return fmt.Errorf("marshal review audit: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transactions SET
			review_status = $2,
			metadata      = metadata || $3::JSONB,
			updated_at    = NOW()
		WHERE id = $1
	`, id, status, payload)
	if err != nil {
		return fmt.Errorf("set review status: %w", err)
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

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Transaction, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	query := selectTransaction + where + fmt.Sprintf(
		" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	rows, err := s.db.QueryContext(ctx, query, append(args, f.Limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tx)
	}
	return out, total, rows.Err()
}

func (s *PostgresStore) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*Transaction, error) {
	rows, err := s.db.QueryContext(ctx,
		selectTransaction+` WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at`,
		userID, since)
	if err != nil {
		return nil, fmt.Errorf("list transactions since: %w", err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		tx, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// requirePending distinguishes a missing reference from a transaction
// that already left the pending state.
func (s *PostgresStore) requirePending(ctx context.Context, reference string, result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM transactions WHERE reference = $1)`, reference).Scan(&exists); err != nil {
		return fmt.Errorf("check transaction: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrNotPending
}

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		args = append(args, f.UserID)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(user_id = $%d OR sender_id = $%d OR receiver_id = $%d)", n, n, n))
	}
	if f.AccountID != "" {
		args = append(args, f.AccountID)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(sender_account_id = $%d OR receiver_account_id = $%d)", n, n))
	}
	if f.Type != "" {
		add("type = $%d", string(f.Type))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if !f.From.IsZero() {
		add("created_at >= $%d", f.From)
	}
	if !f.To.IsZero() {
		add("created_at <= $%d", f.To)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func orEmpty(md Metadata) Metadata {
	if md == nil {
		return Metadata{}
	}
	return md
}
