package recovery

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepository keeps recovery codes in process memory.
type MemoryRepository struct {
	mu     sync.Mutex
	order  []string
	byHash map[string]Code
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byHash: make(map[string]Code)}
}

func (r *MemoryRepository) Insert(_ context.Context, codes ...Code) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range codes {
		if _, ok := r.byHash[c.CodeHash]; ok {
			return errors.New("duplicate recovery code hash")
		}
	}
	for _, c := range codes {
		r.byHash[c.CodeHash] = c
		r.order = append(r.order, c.CodeHash)
	}
	return nil
}

func (r *MemoryRepository) ListUnused(_ context.Context, teacherID string) ([]Code, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Code
	for _, h := range r.order {
		if c := r.byHash[h]; c.TeacherID == teacherID && !c.IsUsed {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *MemoryRepository) MarkUsed(_ context.Context, codeHash, reason string, usedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byHash[codeHash]
	if !ok || c.IsUsed {
		return false, nil
	}
	c.IsUsed, c.Reason, c.UsedAt = true, reason, &usedAt
	r.byHash[codeHash] = c
	return true, nil
}
