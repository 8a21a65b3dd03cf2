package credential

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"schoolattendance/internal/store"
)

// PostgresRepository stores credentials in teacher_credentials. The primary
// key on teacher_id enforces one credential per teacher; the counter update
// is a conditional UPDATE so concurrent assertions cannot both win.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, c Credential) error {
	var transports sql.NullString
	if c.Transports != "" {
		transports = sql.NullString{String: c.Transports, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO teacher_credentials (teacher_id, credential_id, public_key, sign_count, transports, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.TeacherID, c.CredentialID, c.PublicKey, int64(c.Counter), transports, c.CreatedAt)
	if err != nil {
		if store.IsUniqueViolation(err) {
			return ErrAlreadyRegistered
		}
		return errors.Wrap(err, "insert credential")
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, teacherID string) (Credential, error) {
	var (
		c          Credential
		counter    int64
		transports sql.NullString
		lastUsed   sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT teacher_id, credential_id, public_key, sign_count, transports, created_at, last_used_at
		FROM teacher_credentials WHERE teacher_id = $1
	`, teacherID).Scan(&c.TeacherID, &c.CredentialID, &c.PublicKey, &counter, &transports, &c.CreatedAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Credential{}, ErrNoCredential
		}
		return Credential{}, errors.Wrap(err, "get credential")
	}
	c.Counter = uint32(counter)
	c.Transports = transports.String
	if lastUsed.Valid {
		c.LastUsedAt = &lastUsed.Time
	}
	return c, nil
}

func (r *PostgresRepository) AdvanceCounter(ctx context.Context, teacherID string, next uint32, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE teacher_credentials
		SET sign_count = $2, last_used_at = $3
		WHERE teacher_id = $1 AND sign_count < $2
	`, teacherID, int64(next), usedAt)
	if err != nil {
		return errors.Wrap(err, "advance counter")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "advance counter")
	}
	if n == 1 {
		return nil
	}
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM teacher_credentials WHERE teacher_id = $1)`, teacherID).Scan(&exists); err != nil {
		return errors.Wrap(err, "advance counter")
	}
	if !exists {
		return ErrNoCredential
	}
	return ErrReplayDetected
}

func (r *PostgresRepository) Remove(ctx context.Context, teacherID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM teacher_credentials WHERE teacher_id = $1`, teacherID)
	if err != nil {
		return errors.Wrap(err, "remove credential")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "remove credential")
	} else if n == 0 {
		return ErrNoCredential
	}
	return nil
}
