package risk

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pkozlov/bankledger/internal/idgen"
	"github.com/pkozlov/bankledger/internal/ledger"
	"github.com/pkozlov/bankledger/internal/logging"
	"github.com/pkozlov/bankledger/internal/metrics"
	"github.com/pkozlov/bankledger/internal/notify"
)

// Service wires the engine, the score store, and the review workflow.
type Service struct {
	engine    *Engine
	scores    Store
	ledger    *ledger.Ledger
	publisher notify.Publisher
	logger    *slog.Logger
}

// NewService creates a risk service.
func NewService(engine *Engine, scores Store, ldgr *ledger.Ledger, publisher notify.Publisher, logger *slog.Logger) *Service {
	return &Service{engine: engine, scores: scores, ledger: ldgr, publisher: publisher, logger: logger}
}

// ScoreTransfer evaluates a pending transfer and, when the engine demands
// review, holds it: the transaction is failed with SUSPICIOUS_ACTIVITY,
// flagged for review, and the assessment returned for the error payload.
// The returned bool reports whether the transfer was held.
func (s *Service) ScoreTransfer(ctx context.Context, tx *ledger.Transaction) (Assessment, bool) {
	assessment := s.engine.Evaluate(ctx, tx)

	metrics.RiskScoreDistribution.Observe(assessment.Score)
	decision := "cleared"
	if assessment.NeedsReview {
		decision = "flagged"
	}
	metrics.RiskScoresTotal.WithLabelValues(decision).Inc()

	score := &Score{
		ID:            idgen.New(),
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Value:         assessment.Score,
		NeedsReview:   assessment.NeedsReview,
		Factors:       assessment.Factors,
		ModelVersion:  assessment.ModelVersion,
	}
	if err := s.scores.Create(ctx, score); err != nil {
		// The score record is audit trail, not a gate.
		logging.L(ctx).Error("persist risk score", "transaction_id", tx.ID, "error", err)
	}

	if !assessment.NeedsReview {
		return assessment, false
	}

	if err := s.ledger.MarkFailed(ctx, tx.Reference, ledger.FailureSuspiciousActivity, nil); err != nil {
		logging.L(ctx).Error("hold flagged transfer", "reference", tx.Reference, "error", err)
	}
	audit := ledger.Metadata{
		"risk_score":    assessment.Score,
		"flagged_at":    time.Now().UTC().Format(time.RFC3339),
		"model_version": assessment.ModelVersion,
	}
	if err := s.setReview(ctx, tx.ID, ledger.ReviewFlagged, audit); err != nil {
		logging.L(ctx).Error("flag transfer for review", "reference", tx.Reference, "error", err)
	}

	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, notify.Event{
			Type:      notify.EventFraudFlagged,
			Reference: tx.Reference,
			UserID:    tx.UserID,
			Amount:    tx.Amount.StringFixed(2),
			Currency:  string(tx.Currency),
		})
	}
	return assessment, true
}

// ReviewParams carries a reviewer verdict on a flagged transfer.
type ReviewParams struct {
	TransactionID string
	IsFraud       bool
	Approve       bool // settle the held transfer when cleared
	Notes         string
	ReviewedBy    string
}

// Review resolves a flagged transfer. Confirming fraud leaves the
// transaction failed; clearing with approval settles it.
func (s *Service) Review(ctx context.Context, p ReviewParams) (*ledger.Transaction, error) {
	tx, err := s.ledger.Get(ctx, p.TransactionID)
	if err != nil {
		return nil, err
	}
	if tx.ReviewStatus != ledger.ReviewFlagged {
		return nil, fmt.Errorf("%w: status is %s", ErrNotReviewable, tx.ReviewStatus)
	}

	audit := ledger.Metadata{
		"fraud_review": map[string]any{
			"reviewed_at": time.Now().UTC().Format(time.RFC3339),
			"reviewed_by": p.ReviewedBy,
			"is_fraud":    p.IsFraud,
			"notes":       p.Notes,
		},
	}

	if p.IsFraud {
		if err := s.setReview(ctx, tx.ID, ledger.ReviewConfirmedFraud, audit); err != nil {
			return nil, err
		}
		if err := s.scores.SetReviewOutcome(ctx, tx.ID, true, p.ReviewedBy); err != nil {
			logging.L(ctx).Error("record fraud outcome", "transaction_id", tx.ID, "error", err)
		}
		metrics.FraudReviewsTotal.WithLabelValues("confirmed_fraud").Inc()
		return s.ledger.Get(ctx, tx.ID)
	}

	// Settle first. If settlement fails the transfer keeps its flagged
	// status and can be reviewed again once the cause is resolved.
	if p.Approve {
		if _, err := s.ledger.Finalize(ctx, tx.Reference); err != nil {
			return nil, fmt.Errorf("settle cleared transfer: %w", err)
		}
	}

	if err := s.setReview(ctx, tx.ID, ledger.ReviewCleared, audit); err != nil {
		return nil, err
	}
	if err := s.scores.SetReviewOutcome(ctx, tx.ID, false, p.ReviewedBy); err != nil {
		logging.L(ctx).Error("record review outcome", "transaction_id", tx.ID, "error", err)
	}
	metrics.FraudReviewsTotal.WithLabelValues("cleared").Inc()
	return s.ledger.Get(ctx, tx.ID)
}

// History lists a user's risk scores, newest first.
func (s *Service) History(ctx context.Context, f HistoryFilter) ([]*Score, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	return s.scores.List(ctx, f)
}

// GetByTransaction returns the score recorded for a transaction.
func (s *Service) GetByTransaction(ctx context.Context, transactionID string) (*Score, error) {
	return s.scores.GetByTransaction(ctx, transactionID)
}

func (s *Service) setReview(ctx context.Context, txID string, status ledger.ReviewStatus, audit ledger.Metadata) error {
	return s.ledger.SetReviewStatus(ctx, txID, status, audit)
}
