package ledger

import (
	"context"
	"sort"
	"sync"
)

type dayKey struct {
	teacher string
	day     string
}

// MemoryRepository keeps records in process memory. A single mutex makes
// insert-if-absent and the check-out transition atomic.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[dayKey]Record
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[dayKey]Record)}
}

func (r *MemoryRepository) Insert(_ context.Context, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := dayKey{rec.TeacherID, rec.Day}
	if _, ok := r.records[k]; ok {
		return ErrAlreadyCheckedIn
	}
	r.records[k] = rec
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, teacherID, day string) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[dayKey{teacherID, day}]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRepository) SetCheckOut(_ context.Context, teacherID, day string, m Mark) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := dayKey{teacherID, day}
	rec, ok := r.records[k]
	if !ok {
		return Record{}, ErrNotCheckedInYet
	}
	if rec.CheckOutTime != nil {
		return Record{}, ErrAlreadyCheckedOut
	}
	at := m.At
	rec.CheckOutTime, rec.CheckOutMethod, rec.CheckOutReason = &at, m.Method, m.Reason
	r.records[k] = rec
	return rec, nil
}

func (r *MemoryRepository) Range(_ context.Context, teacherID, from, to string) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Record
	for k, rec := range r.records {
		// DateLayout strings order the same as the days they name.
		if k.teacher == teacherID && k.day >= from && k.day <= to {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day < out[j].Day })
	return out, nil
}
