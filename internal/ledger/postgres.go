package ledger

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"schoolattendance/internal/clock"
)

// PostgresRepository stores records in teacher_attendance. The
// UNIQUE (teacher_id, day) constraint decides concurrent check-ins.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const recordColumns = `id, teacher_id, day, check_in_time, check_in_method, check_in_reason,
	check_out_time, check_out_method, check_out_reason`

func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO teacher_attendance (id, teacher_id, day, check_in_time, check_in_method, check_in_reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (teacher_id, day) DO NOTHING
	`, rec.ID, rec.TeacherID, rec.Day, rec.CheckInTime, string(rec.CheckInMethod), nullString(rec.CheckInReason))
	if err != nil {
		return errors.Wrap(err, "insert attendance")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "insert attendance")
	}
	if n == 0 {
		return ErrAlreadyCheckedIn
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, teacherID, day string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM teacher_attendance
		WHERE teacher_id = $1 AND day = $2
	`, teacherID, day)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, errors.Wrap(err, "get attendance")
	}
	return rec, nil
}

func (r *PostgresRepository) SetCheckOut(ctx context.Context, teacherID, day string, m Mark) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE teacher_attendance
		SET check_out_time = $3, check_out_method = $4, check_out_reason = $5
		WHERE teacher_id = $1 AND day = $2 AND check_out_time IS NULL
		RETURNING `+recordColumns,
		teacherID, day, m.At, string(m.Method), nullString(m.Reason))
	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrap(err, "check out")
	}

	// Nothing updated: either there is no record or it is already closed.
	if _, err := r.Get(ctx, teacherID, day); err != nil {
		if errors.Is(err, ErrNotFound) {
			return Record{}, ErrNotCheckedInYet
		}
		return Record{}, err
	}
	return Record{}, ErrAlreadyCheckedOut
}

func (r *PostgresRepository) Range(ctx context.Context, teacherID, from, to string) ([]Record, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM teacher_attendance
		WHERE teacher_id = $1 AND day BETWEEN $2 AND $3
		ORDER BY day
	`, teacherID, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list attendance")
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan attendance")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "list attendance")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (Record, error) {
	var (
		rec                 Record
		day                 time.Time
		inMethod            string
		inReason, outReason sql.NullString
		outMethod           sql.NullString
		outTime             sql.NullTime
	)
	if err := s.Scan(&rec.ID, &rec.TeacherID, &day, &rec.CheckInTime, &inMethod, &inReason,
		&outTime, &outMethod, &outReason); err != nil {
		return Record{}, err
	}
	rec.Day = day.Format(clock.DateLayout)
	rec.CheckInMethod = Method(inMethod)
	rec.CheckInReason = inReason.String
	if outTime.Valid {
		t := outTime.Time
		rec.CheckOutTime = &t
	}
	rec.CheckOutMethod = Method(outMethod.String)
	rec.CheckOutReason = outReason.String
	return rec, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
