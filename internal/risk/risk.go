// Package risk scores transfers for fraud before money moves and runs the
// review workflow for transfers the engine holds. Scoring is rule-based
// and explainable: every signal reports its score, weight, and
// contribution so an analyst can see why a transfer was held.
package risk

import (
	"context"
	"errors"
	"time"
)

// ModelVersion identifies the scoring rule set persisted with each score.
const ModelVersion = "1.0.0"

var (
	ErrNotFound      = errors.New("risk score not found")
	ErrNotReviewable = errors.New("transaction is not flagged for review")
)

// Score is the persisted outcome of one risk evaluation. Exactly one row
// exists per evaluated transaction. IsConfirmedFraud is nil until an
// analyst reviews the transfer, so an unreviewed score is
// distinguishable from one cleared as not fraud.
type Score struct {
	ID               string         `json:"id"`
	TransactionID    string         `json:"transaction_id"`
	UserID           string         `json:"user_id"`
	Value            float64        `json:"risk_score"`
	NeedsReview      bool           `json:"needs_review"`
	Factors          map[string]any `json:"risk_factors"`
	ModelVersion     string         `json:"model_version"`
	IsConfirmedFraud *bool          `json:"is_confirmed_fraud"`
	ReviewedBy       string         `json:"reviewed_by,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// HistoryFilter narrows risk score listings.
type HistoryFilter struct {
	UserID   string
	From     time.Time
	To       time.Time
	MinScore float64
	Limit    int
}

// Store persists risk scores.
type Store interface {
	Create(ctx context.Context, s *Score) error
	GetByTransaction(ctx context.Context, transactionID string) (*Score, error)
	List(ctx context.Context, f HistoryFilter) ([]*Score, error)

	// SetReviewOutcome records the reviewer verdict on the score row.
	SetReviewOutcome(ctx context.Context, transactionID string, isFraud bool, reviewedBy string) error
}
