package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/logging"
	"github.com/pkozlov/bankledger/internal/metrics"
	"github.com/pkozlov/bankledger/internal/notify"
)

// Metadata keys for conversion details locked at transfer initiation.
const (
	MetaConvertedAmount = "converted_amount"
	MetaExchangeRate    = "exchange_rate"
	MetaFee             = "fee"
	MetaTargetCurrency  = "target_currency"
	MetaTellerID        = "teller_id"
	MetaFailureDetails  = "failure_details"
)

// Ledger coordinates transaction records with account balance mutations.
type Ledger struct {
	store     Store
	accounts  account.Store
	publisher notify.Publisher
	logger    *slog.Logger
}

// New creates a ledger service.
func New(store Store, accounts account.Store, publisher notify.Publisher, logger *slog.Logger) *Ledger {
	return &Ledger{store: store, accounts: accounts, publisher: publisher, logger: logger}
}

// DepositParams describes a teller-processed deposit.
type DepositParams struct {
	AccountNumber string
	Amount        decimal.Decimal
	Description   string
	TellerID      string
}

// Deposit credits an account and records a completed deposit transaction.
func (l *Ledger) Deposit(ctx context.Context, p DepositParams) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	acct, err := l.accounts.GetByNumber(ctx, p.AccountNumber)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:                idgen.New(),
		Reference:         idgen.Reference(ReferencePrefix(TypeDeposit)),
		Type:              TypeDeposit,
		Category:          CategoryCredit,
		ReviewStatus:      ReviewPending,
		UserID:            acct.UserID,
		ReceiverID:        acct.UserID,
		ReceiverAccountID: acct.ID,
		ProcessedBy:       p.TellerID,
		Amount:            p.Amount,
		Currency:          acct.Currency,
		Description:       p.Description,
		Metadata:          Metadata{},
	}
	if p.TellerID != "" {
		tx.Metadata[MetaTellerID] = p.TellerID
	}

	// A failed credit writes nothing: validation failures leave no row.
	moves := []account.BalanceMove{account.Credited(acct.ID, p.Amount)}
	if err := l.store.CreateSettled(ctx, tx, moves); err != nil {
		return nil, err
	}
	l.recordSettled(tx)

	l.publish(ctx, notify.EventDepositReceived, tx)
	return tx, nil
}

// WithdrawParams describes a withdrawal from an account the caller owns.
type WithdrawParams struct {
	UserID        string
	AccountNumber string
	Amount        decimal.Decimal
	Description   string
}

// Withdraw debits an account and records a completed withdrawal.
func (l *Ledger) Withdraw(ctx context.Context, p WithdrawParams) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	acct, err := l.accounts.GetByNumber(ctx, p.AccountNumber)
	if err != nil {
		return nil, err
	}
	// An account number belonging to someone else is indistinguishable
	// from a missing one to the caller.
	if acct.UserID != p.UserID {
		return nil, account.ErrNotFound
	}

	tx := &Transaction{
		ID:              idgen.New(),
		Reference:       idgen.Reference(ReferencePrefix(TypeWithdrawal)),
		Type:            TypeWithdrawal,
		Category:        CategoryDebit,
		ReviewStatus:    ReviewPending,
		UserID:          p.UserID,
		SenderID:        p.UserID,
		SenderAccountID: acct.ID,
		Amount:          p.Amount,
		Currency:        acct.Currency,
		Description:     p.Description,
	}

	// Insufficient balance or an inactive account leaves no row behind.
	moves := []account.BalanceMove{account.Debited(acct.ID, p.Amount)}
	if err := l.store.CreateSettled(ctx, tx, moves); err != nil {
		return nil, err
	}
	l.recordSettled(tx)

	l.publish(ctx, notify.EventWithdrawalCompleted, tx)
	return tx, nil
}

// TopUpParams moves money from a bank account onto a virtual card.
type TopUpParams struct {
	UserID    string
	AccountID string
	CardID    string
	Amount    decimal.Decimal
}

// TopUp funds a virtual card from a bank account the same user owns,
// converting currency when the two differ.
func (l *Ledger) TopUp(ctx context.Context, p TopUpParams) (*Transaction, error) {
	if !p.Amount.IsPositive() {
		return nil, ErrInvalidAmount
	}

	acct, err := l.accounts.Get(ctx, p.AccountID)
	if err != nil {
		return nil, err
	}
	card, err := l.accounts.Get(ctx, p.CardID)
	if err != nil {
		return nil, err
	}
	if acct.UserID != p.UserID || card.UserID != p.UserID {
		return nil, account.ErrNotFound
	}
	if card.Kind != account.KindVirtualCard {
		return nil, fmt.Errorf("%w: target is not a virtual card", account.ErrNotFound)
	}

	quote, err := currency.Convert(p.Amount, acct.Currency, card.Currency)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		ID:                idgen.New(),
		Reference:         idgen.Reference(ReferencePrefix(TypeTopUp)),
		Type:              TypeTopUp,
		Category:          CategoryDebit,
		ReviewStatus:      ReviewPending,
		UserID:            p.UserID,
		SenderID:          p.UserID,
		ReceiverID:        p.UserID,
		SenderAccountID:   acct.ID,
		ReceiverAccountID: card.ID,
		Amount:            p.Amount,
		Currency:          acct.Currency,
		Description:       "virtual card top up",
		Metadata:          conversionMetadata(quote, card.Currency),
	}

	moves := []account.BalanceMove{
		account.Debited(acct.ID, p.Amount),
		account.Credited(card.ID, quote.Converted),
	}
	if err := l.store.CreateSettled(ctx, tx, moves); err != nil {
		return nil, err
	}
	l.recordSettled(tx)

	l.publish(ctx, notify.EventCardTopUp, tx)
	return tx, nil
}

// CreatePending records a transaction in the pending state. Used by the
// transfer protocol, which moves money only at completion.
func (l *Ledger) CreatePending(ctx context.Context, tx *Transaction) error {
	if !tx.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	if tx.ID == "" {
		tx.ID = idgen.New()
	}
	if tx.Reference == "" {
		tx.Reference = idgen.Reference(ReferencePrefix(tx.Type))
	}
	tx.Status = StatusPending
	if tx.Category == "" {
		tx.Category = defaultCategory(tx.Type)
	}
	if tx.ReviewStatus == "" {
		tx.ReviewStatus = ReviewPending
	}
	return l.store.Create(ctx, tx)
}

// Finalize settles a pending transfer: the sender is debited the source
// amount, the receiver credited the converted amount locked into the
// transaction metadata at initiation, and the transaction completed.
func (l *Ledger) Finalize(ctx context.Context, reference string) (*Transaction, error) {
	tx, err := l.store.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	held := tx.Status == StatusFailed && tx.FailureReason == FailureSuspiciousActivity
	if tx.Status != StatusPending && !held {
		return nil, ErrNotPending
	}

	converted, err := metadataAmount(tx.Metadata, MetaConvertedAmount)
	if err != nil {
		l.fail(ctx, tx, FailureSystemError, err)
		return nil, fmt.Errorf("%w: %v", ErrMissingDetails, err)
	}

	// Settle flips the row and moves both balances in one atomic unit. A
	// held transfer that fails to settle keeps its SUSPICIOUS_ACTIVITY
	// hold so it stays reviewable.
	moves := []account.BalanceMove{
		account.Debited(tx.SenderAccountID, tx.Amount),
		account.Credited(tx.ReceiverAccountID, converted),
	}
	settled, err := l.store.Settle(ctx, tx.Reference, moves, time.Now())
	if err != nil {
		if tx.Status == StatusPending && !errors.Is(err, ErrNotPending) && !errors.Is(err, ErrNotFound) {
			l.fail(ctx, tx, reasonFor(err), err)
		}
		return nil, err
	}
	l.recordSettled(settled)

	l.publish(ctx, notify.EventTransferCompleted, settled)
	return settled, nil
}

// MarkFailed records a failure reason and details on a transaction.
func (l *Ledger) MarkFailed(ctx context.Context, reference string, reason FailureReason, cause error) error {
	tx, err := l.store.GetByReference(ctx, reference)
	if err != nil {
		return err
	}
	l.fail(ctx, tx, reason, cause)
	return nil
}

// SetReviewStatus updates the fraud review state of a transaction and
// merges the audit payload into its metadata.
func (l *Ledger) SetReviewStatus(ctx context.Context, id string, status ReviewStatus, audit Metadata) error {
	return l.store.SetReviewStatus(ctx, id, status, audit)
}

// Get returns a transaction by ID.
func (l *Ledger) Get(ctx context.Context, id string) (*Transaction, error) {
	return l.store.Get(ctx, id)
}

// GetByReference returns a transaction by its reference.
func (l *Ledger) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	return l.store.GetByReference(ctx, reference)
}

// List returns transactions matching the filter plus the total match count.
func (l *Ledger) List(ctx context.Context, f Filter) ([]*Transaction, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return l.store.List(ctx, f)
}

func (l *Ledger) recordSettled(tx *Transaction) {
	metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(StatusCompleted)).Inc()
}

func (l *Ledger) fail(ctx context.Context, tx *Transaction, reason FailureReason, cause error) {
	details := Metadata{
		"reason":    string(reason),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if cause != nil {
		details["error_message"] = cause.Error()
	}
	if err := l.store.MarkFailed(ctx, tx.Reference, reason, Metadata{MetaFailureDetails: map[string]any(details)}); err != nil {
		logging.L(ctx).Error("mark transaction failed", "reference", tx.Reference, "error", err)
		return
	}
	tx.Status = StatusFailed
	tx.FailureReason = reason
	metrics.TransactionsTotal.WithLabelValues(string(tx.Type), string(StatusFailed)).Inc()
	metrics.TransactionFailuresTotal.WithLabelValues(string(reason)).Inc()
}

func (l *Ledger) publish(ctx context.Context, eventType string, tx *Transaction) {
	if l.publisher == nil {
		return
	}
	err := l.publisher.Publish(ctx, notify.Event{
		Type:       eventType,
		Reference:  tx.Reference,
		UserID:     tx.UserID,
		Amount:     tx.Amount.StringFixed(2),
		Currency:   string(tx.Currency),
		OccurredAt: time.Now(),
	})
	if err != nil {
		logging.L(ctx).Warn("publish notification", "event", eventType, "reference", tx.Reference, "error", err)
	}
}

// PublishEvent emits a notification for a transaction on behalf of a
// collaborating service, for protocol events the ledger does not emit
// itself.
func (l *Ledger) PublishEvent(ctx context.Context, eventType string, tx *Transaction) {
	l.publish(ctx, eventType, tx)
}

// conversionMetadata locks a currency quote into transaction metadata.
func conversionMetadata(q currency.Quote, target currency.Code) Metadata {
	return Metadata{
		MetaConvertedAmount: q.Converted.StringFixed(2),
		MetaExchangeRate:    q.Rate.StringFixed(4),
		MetaFee:             q.Fee.StringFixed(2),
		MetaTargetCurrency:  string(target),
	}
}

// ConversionMetadata is the exported form used by the transfer service.
func ConversionMetadata(q currency.Quote, target currency.Code) Metadata {
	return conversionMetadata(q, target)
}

func metadataAmount(md Metadata, key string) (decimal.Decimal, error) {
	raw, ok := md[key]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("metadata key %s missing", key)
	}
	s, ok := raw.(string)
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("metadata key %s is not a string", key)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("metadata key %s: %w", key, err)
	}
	return d, nil
}

// reasonFor maps a store error to the failure reason recorded on the
// transaction row.
func reasonFor(err error) FailureReason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, account.ErrInsufficientBalance):
		return FailureInsufficientBalance
	case errors.Is(err, account.ErrInactive):
		return FailureAccountInactive
	case errors.Is(err, account.ErrNotFound):
		return FailureInvalidAccount
	default:
		return FailureSystemError
	}
}
