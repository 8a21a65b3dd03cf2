package geofence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/clock"
)

var campus = Polygon{
	{Lat: 13.0287, Lon: 80.0152},
	{Lat: 13.0287, Lon: 80.0161},
	{Lat: 13.0276, Lon: 80.0161},
	{Lat: 13.0276, Lon: 80.0152},
}

func TestPolygonContains(t *testing.T) {
	tests := []struct {
		name string
		pt   Point
		want bool
	}{
		{name: "centre", pt: Point{Lat: 13.0280, Lon: 80.0157}, want: true},
		{name: "far away", pt: Point{Lat: 13.0000, Lon: 80.0000}, want: false},
		{name: "north of box", pt: Point{Lat: 13.0290, Lon: 80.0157}, want: false},
		{name: "east of box", pt: Point{Lat: 13.0280, Lon: 80.0170}, want: false},
		{name: "southern edge", pt: Point{Lat: 13.0276, Lon: 80.0157}, want: true},
		{name: "western edge", pt: Point{Lat: 13.0280, Lon: 80.0152}, want: true},
		{name: "northern edge", pt: Point{Lat: 13.0287, Lon: 80.0157}, want: false},
		{name: "eastern edge", pt: Point{Lat: 13.0280, Lon: 80.0161}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, campus.Contains(tt.pt))
		})
	}
}

func TestPolygonContains_Concave(t *testing.T) {
	// U shape opening north; the notch is outside.
	u := Polygon{
		{Lat: 0, Lon: 0}, {Lat: 0, Lon: 3}, {Lat: 3, Lon: 3}, {Lat: 3, Lon: 2},
		{Lat: 1, Lon: 2}, {Lat: 1, Lon: 1}, {Lat: 3, Lon: 1}, {Lat: 3, Lon: 0},
	}
	assert.True(t, u.Contains(Point{Lat: 2, Lon: 0.5}))
	assert.True(t, u.Contains(Point{Lat: 2, Lon: 2.5}))
	assert.False(t, u.Contains(Point{Lat: 2, Lon: 1.5}))
	assert.True(t, u.Contains(Point{Lat: 0.5, Lon: 1.5}))
}

func TestGeofenceContains_AnyPolygon(t *testing.T) {
	annex := Polygon{{Lat: 1, Lon: 1}, {Lat: 1, Lon: 2}, {Lat: 2, Lon: 2}, {Lat: 2, Lon: 1}}
	g := Geofence{Name: "school", Polygons: []Polygon{campus, annex}}

	assert.True(t, g.Contains(Point{Lat: 13.0280, Lon: 80.0157}))
	assert.True(t, g.Contains(Point{Lat: 1.5, Lon: 1.5}))
	assert.False(t, g.Contains(Point{Lat: 5, Lon: 5}))
}

func TestPointJSON(t *testing.T) {
	raw := `{"id":"x","name":"campus","coordinates":[[[13.0287,80.0152],[13.0287,80.0161],[13.0276,80.0161]]]}`
	var g Geofence
	require.NoError(t, json.Unmarshal([]byte(raw), &g))
	require.Len(t, g.Polygons, 1)
	assert.Equal(t, Point{Lat: 13.0287, Lon: 80.0161}, g.Polygons[0][1])

	out, err := json.Marshal(g)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	var p Point
	assert.Error(t, json.Unmarshal([]byte(`[1,2,3]`), &p))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		gname    string
		polygons []Polygon
		wantErr  bool
	}{
		{name: "ok", gname: "campus", polygons: []Polygon{campus}},
		{name: "blank name", gname: "  ", polygons: []Polygon{campus}, wantErr: true},
		{name: "no polygons", gname: "campus", wantErr: true},
		{name: "degenerate polygon", gname: "campus", polygons: []Polygon{campus[:2]}, wantErr: true},
		{name: "bad latitude", gname: "campus", polygons: []Polygon{{{Lat: 91}, {Lat: 1}, {Lat: 2, Lon: 2}}}, wantErr: true},
		{name: "bad longitude", gname: "campus", polygons: []Polygon{{{Lon: 181}, {Lat: 1}, {Lat: 2, Lon: 2}}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.gname, tt.polygons)
			if tt.wantErr {
				var invalid *InvalidError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestStore_CRUD(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryRepository(), clock.NewFake(time.Now()), time.Minute)

	g, err := s.Create(ctx, " campus ", []Polygon{campus})
	require.NoError(t, err)
	assert.NotEmpty(t, g.ID)
	assert.Equal(t, "campus", g.Name)

	_, err = s.Create(ctx, "campus", []Polygon{campus})
	assert.ErrorIs(t, err, ErrNameTaken)

	got, err := s.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g, got)

	updated, err := s.Update(ctx, g.ID, "main campus", []Polygon{campus})
	require.NoError(t, err)
	assert.Equal(t, "main campus", updated.Name)

	_, err = s.Update(ctx, "missing", "x", []Polygon{campus})
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := s.Delete(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, deleted.ID)

	_, err = s.Delete(ctx, g.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_ContainsFailsClosedWithoutGeofences(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryRepository(), clock.NewFake(time.Now()), 0)

	ok, err := s.Contains(ctx, Point{Lat: 13.0280, Lon: 80.0157})
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Locate(ctx, Point{Lat: 13.0280, Lon: 80.0157})
	assert.ErrorIs(t, err, ErrUndefined)
}

func TestStore_Locate(t *testing.T) {
	ctx := context.Background()
	s := NewStore(NewMemoryRepository(), clock.NewFake(time.Now()), time.Minute)
	_, err := s.Create(ctx, "campus", []Polygon{campus})
	require.NoError(t, err)

	g, err := s.Locate(ctx, Point{Lat: 13.0280, Lon: 80.0157})
	require.NoError(t, err)
	assert.Equal(t, "campus", g.Name)

	_, err = s.Locate(ctx, Point{Lat: 13.0000, Lon: 80.0000})
	assert.ErrorIs(t, err, ErrOutside)

	ok, err := s.Contains(ctx, Point{Lat: 13.0000, Lon: 80.0000})
	require.NoError(t, err)
	assert.False(t, ok)
}

// countingRepository records how often List reaches the backing repository.
type countingRepository struct {
	*MemoryRepository
	lists int
}

func (r *countingRepository) List(ctx context.Context) ([]Geofence, error) {
	r.lists++
	return r.MemoryRepository.List(ctx)
}

func TestStore_SnapshotExpiryAndInvalidation(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	repo := &countingRepository{MemoryRepository: NewMemoryRepository()}
	s := NewStore(repo, clk, time.Minute)

	_, err := s.ListAll(ctx)
	require.NoError(t, err)
	_, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lists)

	clk.Advance(2 * time.Minute)
	_, err = s.ListAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.lists)

	_, err = s.Create(ctx, "campus", []Polygon{campus})
	require.NoError(t, err)
	all, err := s.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
	assert.Equal(t, 3, repo.lists)
}

// pausingRepository holds the first List call after reading, until released.
type pausingRepository struct {
	*MemoryRepository
	once    sync.Once
	read    chan struct{}
	release chan struct{}
}

func (r *pausingRepository) List(ctx context.Context) ([]Geofence, error) {
	all, err := r.MemoryRepository.List(ctx)
	r.once.Do(func() {
		close(r.read)
		<-r.release
	})
	return all, err
}

func TestStore_DeleteDuringReloadIsNotCached(t *testing.T) {
	ctx := context.Background()
	repo := &pausingRepository{
		MemoryRepository: NewMemoryRepository(),
		read:             make(chan struct{}),
		release:          make(chan struct{}),
	}
	s := NewStore(repo, clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)), time.Minute)
	g, err := s.Create(ctx, "campus", []Polygon{campus})
	require.NoError(t, err)

	inside := Point{Lat: 13.0280, Lon: 80.0157}
	done := make(chan error, 1)
	go func() {
		_, err := s.Locate(ctx, inside)
		done <- err
	}()

	<-repo.read
	_, err = s.Delete(ctx, g.ID)
	require.NoError(t, err)
	close(repo.release)
	require.NoError(t, <-done)

	_, err = s.Locate(ctx, inside)
	assert.ErrorIs(t, err, ErrUndefined)
}
