package recovery

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// PostgresRepository stores codes in recovery_codes.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, codes ...Code) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin insert recovery codes")
	}
	defer func() { _ = tx.Rollback() }()

	for _, c := range codes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO recovery_codes (id, teacher_id, code_hash, created_at)
			VALUES ($1, $2, $3, $4)
		`, c.ID, c.TeacherID, c.CodeHash, c.CreatedAt); err != nil {
			return errors.Wrap(err, "insert recovery code")
		}
	}
	return errors.Wrap(tx.Commit(), "commit recovery codes")
}

func (r *PostgresRepository) ListUnused(ctx context.Context, teacherID string) ([]Code, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, teacher_id, code_hash, created_at
		FROM recovery_codes
		WHERE teacher_id = $1 AND NOT is_used
		ORDER BY created_at, id
	`, teacherID)
	if err != nil {
		return nil, errors.Wrap(err, "list recovery codes")
	}
	defer rows.Close()

	var out []Code
	for rows.Next() {
		var c Code
		if err := rows.Scan(&c.ID, &c.TeacherID, &c.CodeHash, &c.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan recovery code")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "list recovery codes")
}

// MarkUsed is a conditional UPDATE; the row lock taken by Postgres makes the
// false-to-true flip exclusive.
func (r *PostgresRepository) MarkUsed(ctx context.Context, codeHash, reason string, usedAt time.Time) (bool, error) {
	var why sql.NullString
	if reason != "" {
		why = sql.NullString{String: reason, Valid: true}
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE recovery_codes
		SET is_used = TRUE, reason = $2, used_at = $3
		WHERE code_hash = $1 AND NOT is_used
	`, codeHash, why, usedAt)
	if err != nil {
		return false, errors.Wrap(err, "mark recovery code used")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "mark recovery code used")
	}
	return n == 1, nil
}
