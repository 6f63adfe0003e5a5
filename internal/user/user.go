// Package user provides the account-holder lookup the transfer protocol
// depends on: security answer verification and the per-user OTP slot.
// Registration and session handling live elsewhere; this package only
// reads and updates existing holders.
package user

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("user not found")
	ErrSecurityAnswer = errors.New("security answer does not match")
)

// User is an account holder.
type User struct {
	ID                 string    `json:"id"`
	Username           string    `json:"username"`
	Email              string    `json:"email"`
	FullName           string    `json:"full_name"`
	SecurityAnswerHash string    `json:"-"`
	OTP                string    `json:"-"`
	OTPExpiresAt       time.Time `json:"-"`
	CreatedAt          time.Time `json:"created_at"`
}

// HashSecurityAnswer normalizes and hashes a security answer for storage.
// Answers are case- and whitespace-insensitive.
func HashSecurityAnswer(answer string) string {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// VerifySecurityAnswer checks answer against the stored hash.
func (u *User) VerifySecurityAnswer(answer string) bool {
	want := []byte(u.SecurityAnswerHash)
	got := []byte(HashSecurityAnswer(answer))
	return subtle.ConstantTimeCompare(want, got) == 1
}

// Store persists users and their OTP slots.
type Store interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)

	// SetOTP writes a fresh one-time password with its expiry.
	SetOTP(ctx context.Context, id, otp string, expiresAt time.Time) error

	// ClearOTP removes the OTP after use or invalidation.
	ClearOTP(ctx context.Context, id string) error
}
