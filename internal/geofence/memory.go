package geofence

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryRepository keeps geofences in process memory, in creation order.
type MemoryRepository struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]Geofence
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]Geofence)}
}

func (r *MemoryRepository) Create(_ context.Context, g Geofence) (Geofence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.nameTaken(g.Name, "") {
		return Geofence{}, ErrNameTaken
	}
	g.ID = uuid.NewString()
	g.Polygons = clonePolygons(g.Polygons)
	r.byID[g.ID] = g
	r.order = append(r.order, g.ID)
	return g, nil
}

func (r *MemoryRepository) Update(_ context.Context, g Geofence) (Geofence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[g.ID]; !ok {
		return Geofence{}, ErrNotFound
	}
	if r.nameTaken(g.Name, g.ID) {
		return Geofence{}, ErrNameTaken
	}
	g.Polygons = clonePolygons(g.Polygons)
	r.byID[g.ID] = g
	return g, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) (Geofence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.byID[id]
	if !ok {
		return Geofence{}, ErrNotFound
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return g, nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Geofence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.byID[id]
	if !ok {
		return Geofence{}, ErrNotFound
	}
	return g, nil
}

func (r *MemoryRepository) List(_ context.Context) ([]Geofence, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Geofence, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out, nil
}

func (r *MemoryRepository) nameTaken(name, exceptID string) bool {
	for id, g := range r.byID {
		if id != exceptID && g.Name == name {
			return true
		}
	}
	return false
}

func clonePolygons(in []Polygon) []Polygon {
	out := make([]Polygon, len(in))
	for i, p := range in {
		out[i] = append(Polygon(nil), p...)
	}
	return out
}
