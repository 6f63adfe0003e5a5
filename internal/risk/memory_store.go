package risk

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	scores map[string]*Score // by transaction ID
}

// NewMemoryStore creates an empty in-memory score store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scores: make(map[string]*Score)}
}

func (s *MemoryStore) Create(ctx context.Context, sc *Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sc
	cp.CreatedAt = time.Now()
	s.scores[cp.TransactionID] = &cp
	sc.CreatedAt = cp.CreatedAt
	return nil
}

func (s *MemoryStore) GetByTransaction(ctx context.Context, transactionID string) (*Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.scores[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sc
	return &cp, nil
}

func (s *MemoryStore) List(ctx context.Context, f HistoryFilter) ([]*Score, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Score
	for _, sc := range s.scores {
		if f.UserID != "" && sc.UserID != f.UserID {
			continue
		}
		if !f.From.IsZero() && sc.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && sc.CreatedAt.After(f.To) {
			continue
		}
		if sc.Value < f.MinScore {
			continue
		}
		cp := *sc
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) SetReviewOutcome(ctx context.Context, transactionID string, isFraud bool, reviewedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scores[transactionID]
	if !ok {
		return ErrNotFound
	}
	verdict := isFraud
	sc.IsConfirmedFraud = &verdict
	sc.ReviewedBy = reviewedBy
	return nil
}
