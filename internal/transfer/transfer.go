// Package transfer runs the two-phase transfer protocol. Initiation
// validates the request, locks the conversion terms, scores the transfer,
// and issues a one-time password; completion verifies the password and
// settles atomically. Money never moves during phase one.
package transfer

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pkozlov/bankledger/internal/account"
	"github.com/pkozlov/bankledger/internal/currency"
	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/ledger"
	"github.com/pkozlov/bankledger/internal/logging"
	"github.com/pkozlov/bankledger/internal/metrics"
	"github.com/pkozlov/bankledger/internal/notify"
	"github.com/pkozlov/bankledger/internal/risk"
	"github.com/pkozlov/bankledger/internal/traces"
	"github.com/pkozlov/bankledger/internal/user"
)

const otpLength = 6

var (
	ErrSelfTransfer   = errors.New("cannot transfer to the same account")
	ErrSecurityAnswer = errors.New("security answer verification failed")
	ErrInvalidOTP     = errors.New("invalid OTP")
	ErrOTPExpired     = errors.New("OTP has expired")
)

// HeldError reports a transfer held for fraud review. The assessment is
// included so the API can explain the hold.
type HeldError struct {
	Reference  string
	Assessment risk.Assessment
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("transfer %s held for review (risk score %.2f)", e.Reference, e.Assessment.Score)
}

// Service implements the transfer protocol.
type Service struct {
	accounts  account.Store
	users     user.Store
	ledger    *ledger.Ledger
	risk      *risk.Service
	publisher notify.Publisher
	otpTTL    time.Duration
	logger    *slog.Logger
}

// New creates a transfer service.
func New(accounts account.Store, users user.Store, ldgr *ledger.Ledger, riskSvc *risk.Service, publisher notify.Publisher, otpTTL time.Duration, logger *slog.Logger) *Service {
	return &Service{
		accounts:  accounts,
		users:     users,
		ledger:    ldgr,
		risk:      riskSvc,
		publisher: publisher,
		otpTTL:    otpTTL,
		logger:    logger,
	}
}

// InitiateParams describes phase one of a transfer.
type InitiateParams struct {
	UserID         string
	FromAccount    string
	ToAccount      string
	Amount         decimal.Decimal
	Description    string
	SecurityAnswer string
}

// Initiation is the phase one result handed back to the client. The OTP
// itself goes out through the notification channel, never the API.
type Initiation struct {
	Reference       string          `json:"transaction_ref"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        currency.Code   `json:"currency"`
	ConvertedAmount decimal.Decimal `json:"converted_amount"`
	TargetCurrency  currency.Code   `json:"target_currency"`
	ExchangeRate    decimal.Decimal `json:"exchange_rate"`
	Fee             decimal.Decimal `json:"fee"`
	OTPExpiresAt    time.Time       `json:"otp_expires_at"`
}

// Initiate validates a transfer, locks its conversion terms into a
// pending transaction, scores it, and issues the OTP. A flagged transfer
// comes back as *HeldError with the assessment attached.
func (s *Service) Initiate(ctx context.Context, p InitiateParams) (*Initiation, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.Initiate",
		traces.Amount(p.Amount.StringFixed(2)))
	defer span.End()

	if !p.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}
	if p.FromAccount == p.ToAccount {
		return nil, ErrSelfTransfer
	}

	sender, err := s.accounts.GetByNumber(ctx, p.FromAccount)
	if err != nil {
		return nil, fmt.Errorf("sender account: %w", err)
	}
	if sender.UserID != p.UserID {
		return nil, fmt.Errorf("sender account: %w", account.ErrNotFound)
	}
	receiver, err := s.accounts.GetByNumber(ctx, p.ToAccount)
	if err != nil {
		return nil, fmt.Errorf("receiver account: %w", err)
	}
	if !sender.CanTransact() || !receiver.CanTransact() {
		return nil, account.ErrInactive
	}
	if sender.Balance.LessThan(p.Amount) {
		return nil, account.ErrInsufficientBalance
	}

	sendingUser, err := s.users.Get(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	if !sendingUser.VerifySecurityAnswer(p.SecurityAnswer) {
		return nil, ErrSecurityAnswer
	}

	quote, err := currency.Convert(p.Amount, sender.Currency, receiver.Currency)
	if err != nil {
		return nil, err
	}

	tx := &ledger.Transaction{
		Type:              ledger.TypeTransfer,
		Category:          ledger.CategoryDebit,
		UserID:            p.UserID,
		SenderID:          p.UserID,
		ReceiverID:        receiver.UserID,
		SenderAccountID:   sender.ID,
		ReceiverAccountID: receiver.ID,
		Amount:            p.Amount,
		Currency:          sender.Currency,
		Description:       p.Description,
		Metadata:          ledger.ConversionMetadata(quote, receiver.Currency),
		CreatedAt:         time.Now(),
	}
	if err := s.ledger.CreatePending(ctx, tx); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.Reference(tx.Reference))

	assessment, held := s.risk.ScoreTransfer(ctx, tx)
	span.SetAttributes(traces.RiskScore(assessment.Score))
	if held {
		return nil, &HeldError{Reference: tx.Reference, Assessment: assessment}
	}

	otp := idgen.OTP(otpLength)
	expiresAt := time.Now().Add(s.otpTTL)
	if err := s.users.SetOTP(ctx, p.UserID, otp, expiresAt); err != nil {
		s.failInitiated(ctx, tx.Reference, ledger.FailureSystemError, err)
		return nil, fmt.Errorf("issue OTP: %w", err)
	}

	// The OTP rides the notification channel only, never the API
	// response.
	s.publish(ctx, notify.Event{
		Type:      notify.EventOTPIssued,
		Reference: tx.Reference,
		UserID:    tx.UserID,
		Payload: map[string]any{
			"otp":        otp,
			"expires_at": expiresAt.UTC().Format(time.RFC3339),
		},
	})
	s.ledger.PublishEvent(ctx, notify.EventTransferInitiated, tx)

	logging.L(ctx).Info("transfer initiated",
		"reference", tx.Reference,
		"amount", p.Amount.StringFixed(2),
		"currency", sender.Currency,
		"risk_score", assessment.Score)

	return &Initiation{
		Reference:       tx.Reference,
		Amount:          p.Amount,
		Currency:        sender.Currency,
		ConvertedAmount: quote.Converted,
		TargetCurrency:  receiver.Currency,
		ExchangeRate:    quote.Rate,
		Fee:             quote.Fee,
		OTPExpiresAt:    expiresAt,
	}, nil
}

// CompleteParams describes phase two of a transfer.
type CompleteParams struct {
	UserID    string
	Reference string
	OTP       string
}

// Complete verifies the OTP and settles the pending transfer. Any check
// failure fails the transaction with a tagged reason; the OTP is single
// use either way.
func (s *Service) Complete(ctx context.Context, p CompleteParams) (*ledger.Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.Complete", traces.Reference(p.Reference))
	defer span.End()

	tx, err := s.ledger.GetByReference(ctx, p.Reference)
	if err != nil {
		return nil, err
	}
	if tx.UserID != p.UserID {
		return nil, ledger.ErrNotFound
	}
	if tx.Status != ledger.StatusPending {
		return nil, ledger.ErrNotPending
	}

	sendingUser, err := s.users.Get(ctx, tx.UserID)
	if err != nil {
		s.failInitiated(ctx, tx.Reference, ledger.FailureSystemError, err)
		return nil, err
	}

	if subtle.ConstantTimeCompare([]byte(sendingUser.OTP), []byte(p.OTP)) != 1 || sendingUser.OTP == "" {
		metrics.OTPFailuresTotal.WithLabelValues("invalid").Inc()
		s.failInitiated(ctx, tx.Reference, ledger.FailureInvalidOTP, ErrInvalidOTP)
		return nil, ErrInvalidOTP
	}
	if time.Now().After(sendingUser.OTPExpiresAt) {
		metrics.OTPFailuresTotal.WithLabelValues("expired").Inc()
		s.failInitiated(ctx, tx.Reference, ledger.FailureOTPExpired, ErrOTPExpired)
		return nil, ErrOTPExpired
	}

	// Single use: burn the OTP before settlement so a concurrent retry
	// cannot ride the same code.
	if err := s.users.ClearOTP(ctx, tx.UserID); err != nil {
		s.failInitiated(ctx, tx.Reference, ledger.FailureSystemError, err)
		return nil, fmt.Errorf("clear OTP: %w", err)
	}

	// Finalize re-checks account status and balance at settlement time
	// and tags the transaction itself on failure.
	completed, err := s.ledger.Finalize(ctx, tx.Reference)
	if err != nil {
		return nil, err
	}

	logging.L(ctx).Info("transfer completed",
		"reference", completed.Reference,
		"amount", completed.Amount.StringFixed(2))
	return completed, nil
}

func (s *Service) publish(ctx context.Context, e notify.Event) {
	if s.publisher == nil {
		return
	}
	e.OccurredAt = time.Now()
	if err := s.publisher.Publish(ctx, e); err != nil {
		logging.L(ctx).Warn("publish notification", "event", e.Type, "reference", e.Reference, "error", err)
	}
}

func (s *Service) failInitiated(ctx context.Context, reference string, reason ledger.FailureReason, cause error) {
	if err := s.ledger.MarkFailed(ctx, reference, reason, cause); err != nil {
		logging.L(ctx).Error("mark transfer failed", "reference", reference, "error", err)
	}
}
