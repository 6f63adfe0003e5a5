package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/currency"
)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed account store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the accounts table if needed.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id          UUID PRIMARY KEY,
			user_id     UUID NOT NULL,
			number      VARCHAR(16) NOT NULL UNIQUE,
			name        TEXT NOT NULL DEFAULT '',
			kind        TEXT NOT NULL,
			currency    VARCHAR(3) NOT NULL,
			balance     NUMERIC(20,2) NOT NULL DEFAULT 0,
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);
	`)
	if err != nil {
		return fmt.Errorf("migrate accounts: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, a *Account) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO accounts (id, user_id, number, name, kind, currency, balance, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at, updated_at
	`, a.ID, a.UserID, a.Number, a.Name, a.Kind, a.Currency, a.Balance, a.Status).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateNumber
		}
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectAccount+` WHERE id = $1`, id))
}

func (s *PostgresStore) GetByNumber(ctx context.Context, number string) (*Account, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectAccount+` WHERE number = $1`, number))
}

const selectAccount = `
	SELECT id, user_id, number, name, kind, currency, balance, status, created_at, updated_at
	FROM accounts`

func (s *PostgresStore) scanOne(row *sql.Row) (*Account, error) {
	a := &Account{}
	var cur string
	err := row.Scan(&a.ID, &a.UserID, &a.Number, &a.Name, &a.Kind, &cur,
		&a.Balance, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan account: %w", err)
	}
	a.Currency = currency.Code(cur)
	return a, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*Account, error) {
	rows, err := s.db.QueryContext(ctx, selectAccount+` WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []*Account
	for rows.Next() {
		a := &Account{}
		var cur string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Number, &a.Name, &a.Kind, &cur,
			&a.Balance, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		a.Currency = currency.Code(cur)
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetStatus(ctx context.Context, id string, status Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = $2, updated_at = NOW() WHERE id = $1
	`, id, status)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	return requireRow(result)
}

func (s *PostgresStore) Credit(ctx context.Context, id string, amount decimal.Decimal) error {
	_, err := ApplyMoves(ctx, s.db, []BalanceMove{Credited(id, amount)})
	return err
}

func (s *PostgresStore) Debit(ctx context.Context, id string, amount decimal.Decimal) error {
	_, err := ApplyMoves(ctx, s.db, []BalanceMove{Debited(id, amount)})
	return err
}

// Move wraps the debit and credit in one transaction. The conditional
// UPDATE settles concurrent debits: whichever transaction matches the
// balance predicate first wins, the other sees zero rows.
func (s *PostgresStore) Move(ctx context.Context, fromID string, debitAmount decimal.Decimal, toID string, creditAmount decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin move: %w", err)
	}
	defer tx.Rollback()

	if _, err := ApplyMoves(ctx, tx, []BalanceMove{
		Debited(fromID, debitAmount),
		Credited(toID, creditAmount),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// Execer lets balance primitives run on the pool or inside a caller's
// transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ApplyMoves runs each move against db and returns the balance trail.
// Callers needing all-or-nothing semantics pass a *sql.Tx; any error
// then rolls back every earlier move with the enclosing transaction.
func ApplyMoves(ctx context.Context, db Execer, moves []BalanceMove) ([]MoveResult, error) {
	out := make([]MoveResult, len(moves))
	for i, m := range moves {
		r, err := applyMove(ctx, db, m)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func applyMove(ctx context.Context, db Execer, m BalanceMove) (MoveResult, error) {
	var after decimal.Decimal
	if m.Delta.IsNegative() {
		amount := m.Delta.Neg()
		err := db.QueryRowContext(ctx, `
			UPDATE accounts SET
				balance    = balance - $2,
				updated_at = NOW()
			WHERE id = $1 AND status = 'active' AND balance >= $2
			RETURNING balance
		`, m.AccountID, amount).Scan(&after)
		if err == sql.ErrNoRows {
			if serr := statusOrNotFound(ctx, db, m.AccountID); serr != nil {
				return MoveResult{}, serr
			}
			return MoveResult{}, ErrInsufficientBalance
		}
		if err != nil {
			return MoveResult{}, fmt.Errorf("debit account: %w", err)
		}
	} else {
		err := db.QueryRowContext(ctx, `
			UPDATE accounts SET
				balance    = balance + $2,
				updated_at = NOW()
			WHERE id = $1 AND status = 'active'
			RETURNING balance
		`, m.AccountID, m.Delta).Scan(&after)
		if err == sql.ErrNoRows {
			if serr := statusOrNotFound(ctx, db, m.AccountID); serr != nil {
				return MoveResult{}, serr
			}
			return MoveResult{}, ErrNotFound
		}
		if err != nil {
			return MoveResult{}, fmt.Errorf("credit account: %w", err)
		}
	}
	return MoveResult{AccountID: m.AccountID, Before: after.Sub(m.Delta), After: after}, nil
}

// statusOrNotFound distinguishes a missing account from an inactive one
// after a conditional update matched nothing.
func statusOrNotFound(ctx context.Context, db Execer, id string) error {
	var status string
	err := db.QueryRowContext(ctx, `SELECT status FROM accounts WHERE id = $1`, id).Scan(&status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("check account status: %w", err)
	}
	if status != string(StatusActive) {
		return ErrInactive
	}
	return nil
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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
