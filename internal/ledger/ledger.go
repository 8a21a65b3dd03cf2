// Package ledger keeps one attendance record per teacher per calendar day and
// enforces the check-in, check-out order on it.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"schoolattendance/internal/clock"
)

var (
	ErrAlreadyCheckedIn  = errors.New("already checked in today")
	ErrAlreadyCheckedOut = errors.New("already checked out today")
	ErrNotCheckedInYet   = errors.New("not checked in today")
	ErrNotFound          = errors.New("attendance record not found")
	ErrInvalidMethod     = errors.New("invalid attendance method")
	ErrInvalidDay        = errors.New("invalid day")
)

type Method string

const (
	MethodCredential   Method = "credential"
	MethodRecoveryCode Method = "recovery_code"
)

func (m Method) Valid() bool {
	return m == MethodCredential || m == MethodRecoveryCode
}

type State string

const (
	NotCheckedIn State = "NotCheckedIn"
	CheckedIn    State = "CheckedIn"
	CheckedOut   State = "CheckedOut"
)

// Record is the attendance of one teacher on one day. Day uses clock.DateLayout.
type Record struct {
	ID             string     `json:"id"`
	TeacherID      string     `json:"teacher_id"`
	Day            string     `json:"date"`
	CheckInTime    time.Time  `json:"check_in_time"`
	CheckInMethod  Method     `json:"check_in_method"`
	CheckInReason  string     `json:"check_in_reason,omitempty"`
	CheckOutTime   *time.Time `json:"check_out_time,omitempty"`
	CheckOutMethod Method     `json:"check_out_method,omitempty"`
	CheckOutReason string     `json:"check_out_reason,omitempty"`
}

func (r Record) State() State {
	if r.CheckOutTime != nil {
		return CheckedOut
	}
	return CheckedIn
}

// Mark describes one transition: when it happened, how the teacher proved
// presence, and an optional free-text reason.
type Mark struct {
	At     time.Time
	Method Method
	Reason string
}

// Repository persists records. Insert must fail with ErrAlreadyCheckedIn when
// a record exists for (teacher, day); SetCheckOut must only touch a record
// whose check-out is unset and otherwise report ErrNotCheckedInYet or
// ErrAlreadyCheckedOut.
type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, teacherID, day string) (Record, error)
	SetCheckOut(ctx context.Context, teacherID, day string, m Mark) (Record, error)
	Range(ctx context.Context, teacherID, from, to string) ([]Record, error)
}

// Status is the state of a teacher's day.
type Status struct {
	State        State      `json:"status"`
	CheckInTime  *time.Time `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time `json:"check_out_time,omitempty"`
}

type Ledger struct {
	repo Repository
}

func New(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

func (l *Ledger) CheckIn(ctx context.Context, teacherID, day string, m Mark) (Record, error) {
	if !m.Method.Valid() {
		return Record{}, ErrInvalidMethod
	}
	if _, err := clock.ParseDate(day); err != nil {
		return Record{}, ErrInvalidDay
	}
	rec := Record{
		ID:            uuid.NewString(),
		TeacherID:     teacherID,
		Day:           day,
		CheckInTime:   m.At,
		CheckInMethod: m.Method,
		CheckInReason: m.Reason,
	}
	if err := l.repo.Insert(ctx, rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (l *Ledger) CheckOut(ctx context.Context, teacherID, day string, m Mark) (Record, error) {
	if !m.Method.Valid() {
		return Record{}, ErrInvalidMethod
	}
	if _, err := clock.ParseDate(day); err != nil {
		return Record{}, ErrInvalidDay
	}
	return l.repo.SetCheckOut(ctx, teacherID, day, m)
}

func (l *Ledger) Status(ctx context.Context, teacherID, day string) (Status, error) {
	rec, err := l.repo.Get(ctx, teacherID, day)
	if errors.Is(err, ErrNotFound) {
		return Status{State: NotCheckedIn}, nil
	}
	if err != nil {
		return Status{}, err
	}
	in := rec.CheckInTime
	return Status{State: rec.State(), CheckInTime: &in, CheckOutTime: rec.CheckOutTime}, nil
}

// History returns the teacher's records with from <= day <= to, oldest first.
func (l *Ledger) History(ctx context.Context, teacherID, from, to string) ([]Record, error) {
	f, err := clock.ParseDate(from)
	if err != nil {
		return nil, ErrInvalidDay
	}
	t, err := clock.ParseDate(to)
	if err != nil {
		return nil, ErrInvalidDay
	}
	if t.Before(f) {
		return nil, ErrInvalidDay
	}
	return l.repo.Range(ctx, teacherID, from, to)
}
