package credential

import (
	"context"
	"sync"
	"time"
)

// MemoryRepository keeps credentials in process memory. A single mutex
// serializes counter updates, so the compare-and-swap in AdvanceCounter is atomic.
type MemoryRepository struct {
	mu        sync.Mutex
	byTeacher map[string]Credential
	owners    map[string]string // credential id -> teacher id
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byTeacher: make(map[string]Credential),
		owners:    make(map[string]string),
	}
}

func (r *MemoryRepository) Insert(_ context.Context, c Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byTeacher[c.TeacherID]; ok {
		return ErrAlreadyRegistered
	}
	if _, ok := r.owners[string(c.CredentialID)]; ok {
		return ErrAlreadyRegistered
	}
	r.byTeacher[c.TeacherID] = c
	r.owners[string(c.CredentialID)] = c.TeacherID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, teacherID string) (Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byTeacher[teacherID]
	if !ok {
		return Credential{}, ErrNoCredential
	}
	return c, nil
}

func (r *MemoryRepository) AdvanceCounter(_ context.Context, teacherID string, next uint32, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byTeacher[teacherID]
	if !ok {
		return ErrNoCredential
	}
	if next <= c.Counter {
		return ErrReplayDetected
	}
	c.Counter = next
	c.LastUsedAt = &usedAt
	r.byTeacher[teacherID] = c
	return nil
}

func (r *MemoryRepository) Remove(_ context.Context, teacherID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byTeacher[teacherID]
	if !ok {
		return ErrNoCredential
	}
	delete(r.byTeacher, teacherID)
	delete(r.owners, string(c.CredentialID))
	return nil
}
