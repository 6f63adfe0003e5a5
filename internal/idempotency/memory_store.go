package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store for demo mode and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[scopeKey]*Record
}

type scopeKey struct {
	key      string
	userID   string
	endpoint string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[scopeKey]*Record)}
}

func (s *MemoryStore) Get(ctx context.Context, key, userID, endpoint string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[scopeKey{key, userID, endpoint}]
	if !ok || r.Expired(time.Now()) {
		return nil, ErrNotFound
	}
	cp := *r
	cp.ResponseBody = append([]byte(nil), r.ResponseBody...)
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *r
	cp.ResponseBody = append([]byte(nil), r.ResponseBody...)
	s.records[scopeKey{r.Key, r.UserID, r.Endpoint}] = &cp
	return nil
}

func (s *MemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	purged := 0
	for k, r := range s.records {
		if r.Expired(now) {
			delete(s.records, k)
			purged++
		}
	}
	return purged, nil
}
