// Package ratelimit throttles the API with fixed-window counters. The
// counter lives in redis when configured so limits hold across replicas,
// with an in-memory fallback for demo mode. Endpoints that move money can
// additionally record a durable violation row when a client blows through
// their limit.
package ratelimit

import (
	"context"
	"time"
)

// EndpointLimit is the window budget for one endpoint.
type EndpointLimit struct {
	MaxRequests int
	Window      time.Duration
	// BlockOnExceed records a durable violation when the limit is hit.
	BlockOnExceed bool
}

// Config maps endpoints to limits, with a default for everything else.
type Config struct {
	Default   EndpointLimit
	Endpoints map[string]EndpointLimit
	Whitelist map[string]bool
}

// DefaultConfig mirrors production limits: tight budgets with violation
// logging on the money paths, a loose default elsewhere.
func DefaultConfig() Config {
	return Config{
		Default: EndpointLimit{MaxRequests: 100, Window: time.Minute},
		Endpoints: map[string]EndpointLimit{
			"/v1/bank-account/transfer/initiate": {MaxRequests: 10, Window: time.Minute, BlockOnExceed: true},
			"/v1/bank-account/transfer/complete": {MaxRequests: 10, Window: time.Minute, BlockOnExceed: true},
			"/v1/bank-account/withdraw":          {MaxRequests: 15, Window: time.Minute, BlockOnExceed: true},
			"/v1/bank-account/deposit":           {MaxRequests: 20, Window: time.Minute},
			"/v1/virtual-card/:id/top-up":        {MaxRequests: 20, Window: time.Minute},
		},
		Whitelist: map[string]bool{
			"/health":       true,
			"/health/ready": true,
			"/metrics":      true,
		},
	}
}

// Limit returns the budget for an endpoint.
func (c Config) Limit(endpoint string) EndpointLimit {
	if l, ok := c.Endpoints[endpoint]; ok {
		return l
	}
	return c.Default
}

// CounterStore counts requests per identity within a fixed window.
type CounterStore interface {
	// Incr bumps the counter for key, starting a fresh window with the
	// given length when none is running. It returns the count within the
	// current window and the time left until the window resets.
	Incr(ctx context.Context, key string, window time.Duration) (count int64, ttl time.Duration, err error)
}

// Violation is one durable record of a blocked client.
type Violation struct {
	ID           string    `json:"id"`
	Identity     string    `json:"identity"`
	Endpoint     string    `json:"endpoint"`
	Count        int64     `json:"count"`
	Limit        int       `json:"limit"`
	WindowStart  time.Time `json:"window_start"`
	WindowEnd    time.Time `json:"window_end"`
	BlockedUntil time.Time `json:"blocked_until"`
	CreatedAt    time.Time `json:"created_at"`
}

// LogStore persists rate limit violations.
type LogStore interface {
	Record(ctx context.Context, v *Violation) error
	ListSince(ctx context.Context, identity string, since time.Time) ([]*Violation, error)
}
