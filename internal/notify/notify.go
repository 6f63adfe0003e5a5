// Package notify publishes transaction outcome events for downstream
// consumers (email, SMS, statements). Delivery is fire-and-forget: a
// failed publish is logged and never fails the money movement.
package notify

import (
	"context"
	"time"
)

// Event types published by the ledger and transfer services.
const (
	EventDepositReceived     = "deposit.received"
	EventWithdrawalCompleted = "withdrawal.completed"
	EventTransferInitiated   = "transfer.initiated"
	EventTransferCompleted   = "transfer.completed"
	EventTransferFailed      = "transfer.failed"
	EventCardTopUp           = "card.topup"
	EventFraudFlagged        = "fraud.flagged"
	EventOTPIssued           = "otp.issued"
)

// Event is one transaction outcome notification.
type Event struct {
	Type       string         `json:"type"`
	Reference  string         `json:"reference,omitempty"`
	UserID     string         `json:"user_id"`
	Amount     string         `json:"amount,omitempty"`
	Currency   string         `json:"currency,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// Publisher delivers events to the notification pipeline.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}
