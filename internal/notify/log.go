package notify

import (
	"context"
	"log/slog"
	"sync"
)

// LogPublisher logs events instead of delivering them. Used in development
// when no broker is configured.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that writes events to the logger.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e Event) error {
	p.logger.Info("notification",
		"event", e.Type,
		"reference", e.Reference,
		"user_id", e.UserID,
		"amount", e.Amount,
		"currency", e.Currency,
	)
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// CapturePublisher records events in memory for tests.
type CapturePublisher struct {
	mu     sync.Mutex
	events []Event
}

// NewCapturePublisher creates a publisher that captures events.
func NewCapturePublisher() *CapturePublisher {
	return &CapturePublisher{}
}

func (p *CapturePublisher) Publish(ctx context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *CapturePublisher) Close() error { return nil }

// Events returns a copy of everything published so far.
func (p *CapturePublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
