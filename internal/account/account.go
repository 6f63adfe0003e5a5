// Package account manages the balance-holding entities of the bank: deposit
// accounts and virtual cards. Both share one model and one store; they
// differ only in kind. Balance mutations are store primitives so that the
// sufficient-funds check and the debit happen atomically.
package account

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/currency"
)

var (
	ErrNotFound            = errors.New("account not found")
	ErrInactive            = errors.New("account is not active")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicateNumber     = errors.New("account number already exists")
)

// Kind distinguishes deposit accounts from virtual cards.
type Kind string

const (
	KindBankAccount Kind = "bank_account"
	KindVirtualCard Kind = "virtual_card"
)

// Status is the lifecycle state of an account.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
	StatusPending  Status = "pending"
	StatusClosed   Status = "closed"
	StatusFrozen   Status = "frozen"
)

// Account is a balance-holding entity owned by a user.
type Account struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Number    string          `json:"number"`
	Name      string          `json:"name"`
	Kind      Kind            `json:"kind"`
	Currency  currency.Code   `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CanTransact reports whether the account may send or receive money.
func (a *Account) CanTransact() bool {
	return a.Status == StatusActive
}

// BalanceMove is one balance delta inside a settlement. A positive delta
// credits the account, a negative one debits it.
type BalanceMove struct {
	AccountID string
	Delta     decimal.Decimal
}

// Credited builds a move that credits the account.
func Credited(accountID string, amount decimal.Decimal) BalanceMove {
	return BalanceMove{AccountID: accountID, Delta: amount}
}

// Debited builds a move that debits the account.
func Debited(accountID string, amount decimal.Decimal) BalanceMove {
	return BalanceMove{AccountID: accountID, Delta: amount.Neg()}
}

// MoveResult is the balance trail left by one applied move.
type MoveResult struct {
	AccountID string
	Before    decimal.Decimal
	After     decimal.Decimal
}

// Store persists accounts and performs atomic balance mutations.
type Store interface {
	Create(ctx context.Context, a *Account) error
	Get(ctx context.Context, id string) (*Account, error)
	GetByNumber(ctx context.Context, number string) (*Account, error)
	ListByUser(ctx context.Context, userID string) ([]*Account, error)
	SetStatus(ctx context.Context, id string, status Status) error

	// Credit adds amount to the account balance. The account must be active.
	Credit(ctx context.Context, id string, amount decimal.Decimal) error

	// Debit subtracts amount if the balance covers it, in one atomic step.
	// Returns ErrInsufficientBalance when it does not.
	Debit(ctx context.Context, id string, amount decimal.Decimal) error

	// Move debits fromID by debitAmount and credits toID by creditAmount
	// as a single atomic operation. The amounts differ when the two
	// accounts hold different currencies.
	Move(ctx context.Context, fromID string, debitAmount decimal.Decimal, toID string, creditAmount decimal.Decimal) error
}
