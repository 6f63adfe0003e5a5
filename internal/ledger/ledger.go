// Package ledger is the transactional core of the bank. Every movement of
// money is recorded as an immutable transaction row that only ever moves
// forward through its status lifecycle. Failed transactions keep their row
// and carry a tagged failure reason in metadata.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
)

var (
	ErrNotFound       = errors.New("transaction not found")
	ErrNotPending     = errors.New("transaction is not pending")
	ErrAlreadyExists  = errors.New("transaction reference already exists")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrMissingDetails = errors.New("transaction is missing conversion details")
)

// Type classifies what a transaction does.
type Type string

const (
	TypeDeposit          Type = "deposit"
	TypeWithdrawal       Type = "withdrawal"
	TypeTransfer         Type = "transfer"
	TypeTopUp            Type = "top_up"
	TypeReversal         Type = "reversal"
	TypeFee              Type = "fee"
	TypeLoanDisbursement Type = "loan_disbursement"
	TypeLoanRepayment    Type = "loan_repayment"
	TypeInterestCredit   Type = "interest_credit"
)

// referencePrefix maps a transaction type to its reference prefix.
var referencePrefix = map[Type]string{
	TypeDeposit:          "DEP",
	TypeWithdrawal:       "WTH",
	TypeTransfer:         "TRF",
	TypeTopUp:            "TOP",
	TypeReversal:         "RVS",
	TypeFee:              "FEE",
	TypeLoanDisbursement: "LND",
	TypeLoanRepayment:    "LNR",
	TypeInterestCredit:   "INT",
}

// ReferencePrefix returns the reference prefix for a transaction type.
func ReferencePrefix(t Type) string {
	if p, ok := referencePrefix[t]; ok {
		return p
	}
	return "TXN"
}

// Category records the direction of the movement on the owning account.
type Category string

const (
	CategoryCredit Category = "credit"
	CategoryDebit  Category = "debit"
)

// defaultCategory maps a transaction type to the direction it moves
// money on the owning account.
func defaultCategory(t Type) Category {
	switch t {
	case TypeDeposit, TypeReversal, TypeLoanDisbursement, TypeInterestCredit:
		return CategoryCredit
	default:
		return CategoryDebit
	}
}

// Status is the lifecycle state of a transaction. Terminal states are
// never left; a failed transaction stays failed.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusReversed  Status = "reversed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further status change is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusReversed || s == StatusCancelled
}

// FailureReason tags why a transaction failed.
type FailureReason string

const (
	FailureInvalidAccount      FailureReason = "INVALID_ACCOUNT"
	FailureInvalidOTP          FailureReason = "INVALID_OTP"
	FailureOTPExpired          FailureReason = "OTP_EXPIRED"
	FailureAccountInactive     FailureReason = "ACCOUNT_INACTIVE"
	FailureInsufficientBalance FailureReason = "INSUFFICIENT_BALANCE"
	FailureSystemError         FailureReason = "SYSTEM_ERROR"
	FailureSuspiciousActivity  FailureReason = "SUSPICIOUS_ACTIVITY"
)

// ReviewStatus is the fraud review state of a transaction.
type ReviewStatus string

const (
	ReviewPending        ReviewStatus = "pending"
	ReviewFlagged        ReviewStatus = "flagged"
	ReviewCleared        ReviewStatus = "cleared"
	ReviewConfirmedFraud ReviewStatus = "confirmed_fraud"
)

// Metadata is the free-form JSON payload attached to a transaction. It
// carries locked conversion details, failure details, and review audit.
type Metadata map[string]any

// Transaction is one recorded movement of money. The balance trail
// fields record the owning account's balance around a settled movement;
// they stay zero while the transaction is pending.
type Transaction struct {
	ID                string          `json:"id"`
	Reference         string          `json:"reference"`
	Type              Type            `json:"type"`
	Category          Category        `json:"category"`
	Status            Status          `json:"status"`
	FailureReason     FailureReason   `json:"failure_reason,omitempty"`
	ReviewStatus      ReviewStatus    `json:"review_status"`
	UserID            string          `json:"user_id"`
	SenderID          string          `json:"sender_id,omitempty"`
	ReceiverID        string          `json:"receiver_id,omitempty"`
	SenderAccountID   string          `json:"sender_account_id,omitempty"`
	ReceiverAccountID string          `json:"receiver_account_id,omitempty"`
	ProcessedBy       string          `json:"processed_by,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          currency.Code   `json:"currency"`
	BalanceBefore     decimal.Decimal `json:"balance_before"`
	BalanceAfter      decimal.Decimal `json:"balance_after"`
	Description       string          `json:"description,omitempty"`
	Metadata          Metadata        `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
}

// OwningAccountID is the account whose balance trail the transaction
// records: the debited side when there is one, otherwise the credited
// side.
func (t *Transaction) OwningAccountID() string {
	if t.SenderAccountID != "" {
		return t.SenderAccountID
	}
	return t.ReceiverAccountID
}

// stampTrail copies the owning account's balance trail out of the
// settlement results.
func stampTrail(tx *Transaction, results []account.MoveResult) {
	owner := tx.OwningAccountID()
	for _, r := range results {
		if r.AccountID == owner {
			tx.BalanceBefore = r.Before
			tx.BalanceAfter = r.After
			return
		}
	}
}

// Filter narrows transaction listings.
type Filter struct {
	UserID    string // matches the initiating user or either transfer party
	AccountID string // matches sender or receiver
	Type      Type
	Status    Status
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// Store persists transactions.
type Store interface {
	Create(ctx context.Context, tx *Transaction) error
	Get(ctx context.Context, id string) (*Transaction, error)
	GetByReference(ctx context.Context, reference string) (*Transaction, error)

	// CreateSettled inserts the transaction as completed and applies the
	// balance moves in one atomic unit, stamping the owning account's
	// balance trail. Nothing is written when any move fails.
	CreateSettled(ctx context.Context, tx *Transaction, moves []account.BalanceMove) error

	// Settle applies the balance moves and flips a pending transaction
	// (or a transfer held for review) to completed in one atomic unit,
	// stamping the balance trail and completion time. Returns
	// ErrNotPending if the transaction cannot be completed.
	Settle(ctx context.Context, reference string, moves []account.BalanceMove, completedAt time.Time) (*Transaction, error)

	// MarkFailed records the failure reason and merges details into the
	// transaction metadata. Terminal transactions are left untouched.
	MarkFailed(ctx context.Context, reference string, reason FailureReason, details Metadata) error

	// SetReviewStatus updates the fraud review state and merges the audit
	// payload into metadata.
	SetReviewStatus(ctx context.Context, id string, status ReviewStatus, audit Metadata) error

	// List returns transactions matching the filter, newest first, and
	// the total number of matches before pagination.
	List(ctx context.Context, f Filter) ([]*Transaction, int, error)

	// ListByUserSince returns a user's transactions created at or after
	// since, oldest first. Used by risk scoring.
	ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*Transaction, error)
}
