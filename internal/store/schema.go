package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// schema is applied idempotently at startup and by `admin migrate`.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS teachers (
		teacher_id  TEXT PRIMARY KEY,
		name        TEXT NOT NULL DEFAULT '',
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS geofences (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL UNIQUE,
		polygons    JSONB NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS teacher_credentials (
		teacher_id     TEXT PRIMARY KEY,
		credential_id  BYTEA NOT NULL UNIQUE,
		public_key     BYTEA NOT NULL,
		sign_count     BIGINT NOT NULL DEFAULT 0 CHECK (sign_count >= 0),
		transports     TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at   TIMESTAMPTZ
	)`,
	`CREATE TABLE IF NOT EXISTS recovery_codes (
		id          TEXT PRIMARY KEY,
		teacher_id  TEXT NOT NULL,
		code_hash   TEXT NOT NULL UNIQUE,
		is_used     BOOLEAN NOT NULL DEFAULT FALSE,
		reason      TEXT,
		used_at     TIMESTAMPTZ,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recovery_codes_unused ON recovery_codes (teacher_id) WHERE NOT is_used`,
	`CREATE TABLE IF NOT EXISTS teacher_attendance (
		id                TEXT PRIMARY KEY,
		teacher_id        TEXT NOT NULL,
		day               DATE NOT NULL,
		check_in_time     TIMESTAMPTZ NOT NULL,
		check_in_method   TEXT NOT NULL,
		check_out_time    TIMESTAMPTZ,
		check_out_method  TEXT,
		check_in_reason   TEXT,
		check_out_reason  TEXT,
		UNIQUE (teacher_id, day),
		CHECK (check_out_time IS NULL OR check_out_time >= check_in_time)
	)`,
}

// Migrate creates the tables used by the attendance core.
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "migrate")
		}
	}
	return nil
}
