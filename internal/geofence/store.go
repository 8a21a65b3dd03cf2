package geofence

import (
	"context"
	"strings"
	"sync"
	"time"

	"schoolattendance/internal/clock"
)

// Repository persists geofences.
type Repository interface {
	Create(ctx context.Context, g Geofence) (Geofence, error)
	// Update replaces name and polygons; returns ErrNotFound when id is unknown.
	Update(ctx context.Context, g Geofence) (Geofence, error)
	// Delete removes and returns the geofence; returns ErrNotFound when id is unknown.
	Delete(ctx context.Context, id string) (Geofence, error)
	Get(ctx context.Context, id string) (Geofence, error)
	List(ctx context.Context) ([]Geofence, error)
}

// Store validates writes and answers containment queries from a short-lived
// snapshot of all geofences. Geofences are read on every check-in and written
// rarely, so the snapshot is dropped on any local write and otherwise kept for ttl.
type Store struct {
	repo  Repository
	clock clock.Clock
	ttl   time.Duration

	mu       sync.Mutex
	snapshot []Geofence
	loadedAt time.Time
	loaded   bool
	// gen counts invalidations; a List that raced with a write is not cached.
	gen uint64
}

// NewStore wraps repo. A ttl of zero disables the snapshot.
func NewStore(repo Repository, clk clock.Clock, ttl time.Duration) *Store {
	return &Store{repo: repo, clock: clk, ttl: ttl}
}

func (s *Store) Create(ctx context.Context, name string, polygons []Polygon) (Geofence, error) {
	name = strings.TrimSpace(name)
	if err := Validate(name, polygons); err != nil {
		return Geofence{}, err
	}
	g, err := s.repo.Create(ctx, Geofence{Name: name, Polygons: polygons})
	if err != nil {
		return Geofence{}, err
	}
	s.invalidate()
	return g, nil
}

func (s *Store) Update(ctx context.Context, id, name string, polygons []Polygon) (Geofence, error) {
	name = strings.TrimSpace(name)
	if err := Validate(name, polygons); err != nil {
		return Geofence{}, err
	}
	g, err := s.repo.Update(ctx, Geofence{ID: id, Name: name, Polygons: polygons})
	if err != nil {
		return Geofence{}, err
	}
	s.invalidate()
	return g, nil
}

func (s *Store) Delete(ctx context.Context, id string) (Geofence, error) {
	g, err := s.repo.Delete(ctx, id)
	if err != nil {
		return Geofence{}, err
	}
	s.invalidate()
	return g, nil
}

func (s *Store) Get(ctx context.Context, id string) (Geofence, error) {
	return s.repo.Get(ctx, id)
}

// ListAll returns every stored geofence, served from the snapshot when fresh.
func (s *Store) ListAll(ctx context.Context) ([]Geofence, error) {
	var gen uint64
	if s.ttl > 0 {
		s.mu.Lock()
		if s.loaded && s.clock.Now().Sub(s.loadedAt) < s.ttl {
			out := s.snapshot
			s.mu.Unlock()
			return out, nil
		}
		gen = s.gen
		s.mu.Unlock()
	}

	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if s.ttl > 0 {
		s.mu.Lock()
		if s.gen == gen {
			s.snapshot, s.loadedAt, s.loaded = all, s.clock.Now(), true
		}
		s.mu.Unlock()
	}
	return all, nil
}

// Locate returns the first geofence containing p. It returns ErrUndefined when
// no geofence exists and ErrOutside when none contains p.
func (s *Store) Locate(ctx context.Context, p Point) (Geofence, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return Geofence{}, err
	}
	if len(all) == 0 {
		return Geofence{}, ErrUndefined
	}
	for _, g := range all {
		if g.Contains(p) {
			return g, nil
		}
	}
	return Geofence{}, ErrOutside
}

// Contains reports whether p lies inside any stored geofence. With no
// geofences defined the answer is false.
func (s *Store) Contains(ctx context.Context, p Point) (bool, error) {
	_, err := s.Locate(ctx, p)
	switch err {
	case nil:
		return true, nil
	case ErrUndefined, ErrOutside:
		return false, nil
	default:
		return false, err
	}
}

func (s *Store) invalidate() {
	s.mu.Lock()
	s.snapshot, s.loaded = nil, false
	s.gen++
	s.mu.Unlock()
}
