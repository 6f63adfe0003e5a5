package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryCounter is a process-local CounterStore for demo mode and tests.
type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*window
}

type window struct {
	count   int64
	resetAt time.Time
}

// NewMemoryCounter creates an empty counter store.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{windows: make(map[string]*window)}
}

func (m *MemoryCounter) Incr(ctx context.Context, key string, windowLen time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	w, ok := m.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(windowLen)}
		m.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// Prune drops finished windows. The middleware calls it opportunistically;
// tests call it directly.
func (m *MemoryCounter) Prune() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, w := range m.windows {
		if !now.Before(w.resetAt) {
			delete(m.windows, key)
		}
	}
}
