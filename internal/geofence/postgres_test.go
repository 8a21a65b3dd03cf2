package geofence

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattendance/internal/clock"
)

const campusJSON = `[[[13.0287,80.0152],[13.0287,80.0161],[13.0276,80.0161],[13.0276,80.0152]]]`

func newMockRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewPostgresRepository(db), mock
}

func TestPostgresRepository_Create(t *testing.T) {
	t.Run("stores polygons as json", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("INSERT INTO geofences").
			WithArgs(sqlmock.AnyArg(), "campus", []byte(campusJSON)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		g, err := repo.Create(context.Background(), Geofence{Name: "campus", Polygons: []Polygon{campus}})
		require.NoError(t, err)
		assert.NotEmpty(t, g.ID)
	})

	t.Run("duplicate name", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("INSERT INTO geofences").WillReturnError(&pgconn.PgError{Code: "23505"})

		_, err := repo.Create(context.Background(), Geofence{Name: "campus", Polygons: []Polygon{campus}})
		assert.ErrorIs(t, err, ErrNameTaken)
	})
}

func TestPostgresRepository_Update(t *testing.T) {
	tests := []struct {
		name    string
		rows    int64
		execErr error
		wantErr error
	}{
		{name: "updated", rows: 1},
		{name: "unknown id", rows: 0, wantErr: ErrNotFound},
		{name: "name taken", execErr: &pgconn.PgError{Code: "23505"}, wantErr: ErrNameTaken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			exp := mock.ExpectExec("UPDATE geofences").WithArgs("g1", "campus", []byte(campusJSON))
			if tt.execErr != nil {
				exp.WillReturnError(tt.execErr)
			} else {
				exp.WillReturnResult(sqlmock.NewResult(0, tt.rows))
			}

			_, err := repo.Update(context.Background(), Geofence{ID: "g1", Name: "campus", Polygons: []Polygon{campus}})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPostgresRepository_DeleteAndGet(t *testing.T) {
	cols := []string{"id", "name", "polygons"}
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("DELETE FROM geofences WHERE id = \\$1 RETURNING").WithArgs("g1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow("g1", "campus", []byte(campusJSON)))
	mock.ExpectQuery("DELETE FROM geofences").WithArgs("g1").WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectQuery("SELECT id, name, polygons FROM geofences WHERE id").WithArgs("g1").
		WillReturnRows(sqlmock.NewRows(cols))

	g, err := repo.Delete(context.Background(), "g1")
	require.NoError(t, err)
	require.Len(t, g.Polygons, 1)
	assert.Equal(t, campus, g.Polygons[0])

	_, err = repo.Delete(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(context.Background(), "g1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresRepository_ListRejectsCorruptRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id, name, polygons FROM geofences ORDER BY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "polygons"}).
			AddRow("g1", "campus", []byte(campusJSON)).
			AddRow("g2", "broken", []byte(`{`)))

	_, err := repo.List(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode polygons of geofence g2")
}

func TestStore_LocateOverPostgres(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery("SELECT id, name, polygons FROM geofences ORDER BY").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "polygons"}).
			AddRow("g1", "campus", []byte(campusJSON)))

	s := NewStore(repo, clock.NewFake(time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)), time.Minute)
	g, err := s.Locate(context.Background(), Point{Lat: 13.0280, Lon: 80.0157})
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)

	_, err = s.Locate(context.Background(), Point{Lat: 13.0000, Lon: 80.0000})
	assert.ErrorIs(t, err, ErrOutside)
}
