package challenge

import (
	"context"
	"sync"
	"time"

	"schoolattendance/internal/clock"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryStore keeps challenges in process memory. Suitable for a single API
// instance; use RedisStore when running several.
type MemoryStore struct {
	clock clock.Clock
	mu    sync.Mutex
	items map[string]entry
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	return &MemoryStore{clock: clk, items: make(map[string]entry)}
}

func (m *MemoryStore) Put(_ context.Context, subject string, challenge []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[subject] = entry{
		value:     append([]byte(nil), challenge...),
		expiresAt: m.clock.Now().Add(ttl),
	}
	return nil
}

func (m *MemoryStore) Take(_ context.Context, subject string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.items[subject]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.items, subject)
	if !m.clock.Now().Before(e.expiresAt) {
		return nil, ErrNotFound
	}
	return e.value, nil
}

// Sweep drops expired challenges and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	n := 0
	for k, e := range m.items {
		if !now.Before(e.expiresAt) {
			delete(m.items, k)
			n++
		}
	}
	return n
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.Sweep()
		}
	}
}
