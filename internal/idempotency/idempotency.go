// Package idempotency makes side-effecting endpoints safe to retry. A
// client sends a UUIDv4 Idempotency-Key header; the first request records
// the response, and any retry with the same key on the same endpoint by
// the same user replays it verbatim instead of re-executing.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a recorded response stays replayable.
const DefaultTTL = 24 * time.Hour

// Header carries the client-chosen key.
const Header = "Idempotency-Key"

var (
	ErrNotFound   = errors.New("idempotency key not found")
	ErrInvalidKey = errors.New("idempotency key must be a canonical UUIDv4")
)

// Record is one stored response, scoped to (key, user, endpoint).
type Record struct {
	Key          string    `json:"key"`
	UserID       string    `json:"user_id"`
	Endpoint     string    `json:"endpoint"`
	ResponseCode int       `json:"response_code"`
	ResponseBody []byte    `json:"response_body"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the record is past its TTL at the given time.
func (r *Record) Expired(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ValidateKey accepts only the canonical lowercase UUIDv4 form. Parsing
// alone is too lenient: uuid.Parse also takes braced, URN, and uppercase
// variants, which would let one logical key occupy several rows.
func ValidateKey(key string) error {
	id, err := uuid.Parse(key)
	if err != nil {
		return ErrInvalidKey
	}
	if id.Version() != 4 || id.String() != key {
		return ErrInvalidKey
	}
	return nil
}

// Store persists idempotency records.
type Store interface {
	// Get returns the unexpired record for (key, user, endpoint).
	Get(ctx context.Context, key, userID, endpoint string) (*Record, error)

	// Put stores a record. An existing row for the same scope is
	// overwritten; callers only write after a cache miss, so a
	// concurrent duplicate stores the same response twice at worst.
	Put(ctx context.Context, r *Record) error

	// PurgeExpired removes rows past their TTL and reports how many.
	PurgeExpired(ctx context.Context) (int, error)
}
