package geofence

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"schoolattendance/internal/store"
)

// PostgresRepository persists geofences in Postgres. Polygons are stored as
// JSON in the same [[[lat, lon], ...]] shape the API uses.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, g Geofence) (Geofence, error) {
	raw, err := json.Marshal(g.Polygons)
	if err != nil {
		return Geofence{}, errors.Wrap(err, "encode polygons")
	}
	g.ID = uuid.NewString()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO geofences (id, name, polygons)
		VALUES ($1, $2, $3)
	`, g.ID, g.Name, raw)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Geofence{}, ErrNameTaken
		}
		return Geofence{}, errors.Wrap(err, "insert geofence")
	}
	return g, nil
}

func (r *PostgresRepository) Update(ctx context.Context, g Geofence) (Geofence, error) {
	raw, err := json.Marshal(g.Polygons)
	if err != nil {
		return Geofence{}, errors.Wrap(err, "encode polygons")
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE geofences
		SET name = $2, polygons = $3, updated_at = NOW()
		WHERE id = $1
	`, g.ID, g.Name, raw)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return Geofence{}, ErrNameTaken
		}
		return Geofence{}, errors.Wrap(err, "update geofence")
	}
	if n, err := res.RowsAffected(); err != nil {
		return Geofence{}, errors.Wrap(err, "update geofence")
	} else if n == 0 {
		return Geofence{}, ErrNotFound
	}
	return g, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id string) (Geofence, error) {
	row := r.db.QueryRowContext(ctx, `
		DELETE FROM geofences WHERE id = $1
		RETURNING id, name, polygons
	`, id)
	g, err := scanGeofence(row)
	if err != nil {
		return Geofence{}, err
	}
	return g, nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (Geofence, error) {
	row := r.db.QueryRowContext(ctx, `SELECT id, name, polygons FROM geofences WHERE id = $1`, id)
	return scanGeofence(row)
}

func (r *PostgresRepository) List(ctx context.Context) ([]Geofence, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, polygons FROM geofences ORDER BY created_at, id`)
	if err != nil {
		return nil, errors.Wrap(err, "list geofences")
	}
	defer rows.Close()

	var out []Geofence
	for rows.Next() {
		g, err := scanGeofence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, errors.Wrap(rows.Err(), "list geofences")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanGeofence(s scanner) (Geofence, error) {
	var (
		g   Geofence
		raw []byte
	)
	if err := s.Scan(&g.ID, &g.Name, &raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Geofence{}, ErrNotFound
		}
		return Geofence{}, errors.Wrap(err, "scan geofence")
	}
	if err := json.Unmarshal(raw, &g.Polygons); err != nil {
		return Geofence{}, errors.Wrapf(err, "decode polygons of geofence %s", g.ID)
	}
	return g, nil
}
