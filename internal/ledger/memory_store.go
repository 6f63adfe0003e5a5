package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkozlov/bankledger/internal/account"
)

// MemoryStore is an in-memory Store for development and tests. It
// settles balances through the in-memory account store so a settlement
// writes the row and moves the money as one unit.
type MemoryStore struct {
	mu          sync.RWMutex
	byID        map[string]*Transaction
	byReference map[string]string // reference -> ID
	accounts    *account.MemoryStore
}

// NewMemoryStore creates an empty in-memory transaction store settling
// against the given account store.
func NewMemoryStore(accounts *account.MemoryStore) *MemoryStore {
	return &MemoryStore{
		byID:        make(map[string]*Transaction),
		byReference: make(map[string]string),
		accounts:    accounts,
	}
}

func (s *MemoryStore) Create(ctx context.Context, tx *Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReference[tx.Reference]; exists {
		return ErrAlreadyExists
	}

	now := time.Now()
	cp := copyTx(tx)
	cp.CreatedAt = now
	cp.UpdatedAt = now
	s.byID[cp.ID] = cp
	s.byReference[cp.Reference] = cp.ID
	tx.CreatedAt = now
	tx.UpdatedAt = now
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTx(tx), nil
}

func (s *MemoryStore) GetByReference(ctx context.Context, reference string) (*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byReference[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTx(s.byID[id]), nil
}

func (s *MemoryStore) CreateSettled(ctx context.Context, tx *Transaction, moves []account.BalanceMove) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byReference[tx.Reference]; exists {
		return ErrAlreadyExists
	}
	results, err := s.accounts.ApplyMoves(ctx, moves)
	if err != nil {
		return err
	}

	now := time.Now()
	tx.Status = StatusCompleted
	tx.CompletedAt = &now
	tx.CreatedAt = now
	tx.UpdatedAt = now
	stampTrail(tx, results)

	cp := copyTx(tx)
	s.byID[cp.ID] = cp
	s.byReference[cp.Reference] = cp.ID
	return nil
}

func (s *MemoryStore) Settle(ctx context.Context, reference string, moves []account.BalanceMove, completedAt time.Time) (*Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.lookupLocked(reference)
	if err != nil {
		return nil, err
	}
	if !completable(tx) {
		return nil, ErrNotPending
	}
	results, err := s.accounts.ApplyMoves(ctx, moves)
	if err != nil {
		return nil, err
	}

	tx.Status = StatusCompleted
	tx.FailureReason = ""
	tx.CompletedAt = &completedAt
	tx.UpdatedAt = time.Now()
	stampTrail(tx, results)
	return copyTx(tx), nil
}

// completable reports whether a transaction may still be completed. A
// transfer held for fraud review is failed with SUSPICIOUS_ACTIVITY and
// reopens only through an approving review.
func completable(tx *Transaction) bool {
	if tx.Status == StatusPending {
		return true
	}
	return tx.Status == StatusFailed && tx.FailureReason == FailureSuspiciousActivity
}

func (s *MemoryStore) MarkFailed(ctx context.Context, reference string, reason FailureReason, details Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.lookupLocked(reference)
	if err != nil {
		return err
	}
	if tx.Status != StatusPending {
		return ErrNotPending
	}
	tx.Status = StatusFailed
	tx.FailureReason = reason
	if tx.Metadata == nil {
		tx.Metadata = Metadata{}
	}
	for k, v := range details {
		tx.Metadata[k] = v
	}
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) SetReviewStatus(ctx context.Context, id string, status ReviewStatus, audit Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	tx.ReviewStatus = status
	if tx.Metadata == nil {
		tx.Metadata = Metadata{}
	}
	for k, v := range audit {
		tx.Metadata[k] = v
	}
	tx.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*Transaction, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Transaction
	for _, tx := range s.byID {
		if matches(tx, f) {
			matched = append(matched, tx)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}

	out := make([]*Transaction, 0, end-f.Offset)
	for _, tx := range matched[f.Offset:end] {
		out = append(out, copyTx(tx))
	}
	return out, total, nil
}

func (s *MemoryStore) ListByUserSince(ctx context.Context, userID string, since time.Time) ([]*Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Transaction
	for _, tx := range s.byID {
		if tx.UserID == userID && !tx.CreatedAt.Before(since) {
			out = append(out, copyTx(tx))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) lookupLocked(reference string) (*Transaction, error) {
	id, ok := s.byReference[reference]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id], nil
}

func matches(tx *Transaction, f Filter) bool {
	if f.UserID != "" && tx.UserID != f.UserID && tx.SenderID != f.UserID && tx.ReceiverID != f.UserID {
		return false
	}
	if f.AccountID != "" && tx.SenderAccountID != f.AccountID && tx.ReceiverAccountID != f.AccountID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && tx.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.CreatedAt.After(f.To) {
		return false
	}
	return true
}

func copyTx(tx *Transaction) *Transaction {
	cp := *tx
	if tx.Metadata != nil {
		cp.Metadata = make(Metadata, len(tx.Metadata))
		for k, v := range tx.Metadata {
			cp.Metadata[k] = v
		}
	}
	if tx.CompletedAt != nil {
		t := *tx.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
