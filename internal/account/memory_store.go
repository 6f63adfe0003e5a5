package account

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account // by ID
	byNumber map[string]string   // number -> ID
}

// NewMemoryStore creates an empty in-memory account store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		byNumber: make(map[string]string),
	}
}

func (s *MemoryStore) Create(ctx context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byNumber[a.Number]; exists {
		return ErrDuplicateNumber
	}

	now := time.Now()
	cp := *a
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.accounts[cp.ID] = &cp
	s.byNumber[cp.Number] = cp.ID
	*a = cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *MemoryStore) getLocked(id string) (*Account, error) {
	a, ok := s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) GetByNumber(ctx context.Context, number string) (*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byNumber[number]
	if !ok {
		return nil, ErrNotFound
	}
	return s.getLocked(id)
}

func (s *MemoryStore) ListByUser(ctx context.Context, userID string) ([]*Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Account
	for _, a := range s.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SetStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = status
	a.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) Credit(ctx context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.applyMovesLocked([]BalanceMove{Credited(id, amount)})
	return err
}

func (s *MemoryStore) Debit(ctx context.Context, id string, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.applyMovesLocked([]BalanceMove{Debited(id, amount)})
	return err
}

func (s *MemoryStore) Move(ctx context.Context, fromID string, debitAmount decimal.Decimal, toID string, creditAmount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.applyMovesLocked([]BalanceMove{
		Debited(fromID, debitAmount),
		Credited(toID, creditAmount),
	})
	return err
}

// ApplyMoves applies every move or none under one lock and returns the
// balance trail of each account touched.
func (s *MemoryStore) ApplyMoves(ctx context.Context, moves []BalanceMove) ([]MoveResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyMovesLocked(moves)
}

func (s *MemoryStore) applyMovesLocked(moves []BalanceMove) ([]MoveResult, error) {
	// Validate everything first so a failed settlement leaves every
	// balance untouched.
	for _, m := range moves {
		a, ok := s.accounts[m.AccountID]
		if !ok {
			return nil, ErrNotFound
		}
		if a.Status != StatusActive {
			return nil, ErrInactive
		}
		if m.Delta.IsNegative() && a.Balance.LessThan(m.Delta.Neg()) {
			return nil, ErrInsufficientBalance
		}
	}

	now := time.Now()
	out := make([]MoveResult, len(moves))
	for i, m := range moves {
		a := s.accounts[m.AccountID]
		before := a.Balance
		a.Balance = a.Balance.Add(m.Delta)
		a.UpdatedAt = now
		out[i] = MoveResult{AccountID: m.AccountID, Before: before, After: a.Balance}
	}
	return out, nil
}
