package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordCols = []string{"id", "teacher_id", "day", "check_in_time", "check_in_method", "check_in_reason",
	"check_out_time", "check_out_method", "check_out_reason"}

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

func TestPostgresRepository_Insert(t *testing.T) {
	in := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	rec := Record{ID: "r1", TeacherID: "t1", Day: "2026-03-02", CheckInTime: in, CheckInMethod: MethodRecoveryCode, CheckInReason: "phone died"}

	tests := []struct {
		name    string
		rows    int64
		wantErr error
	}{
		{name: "first of the day", rows: 1},
		{name: "conflict", rows: 0, wantErr: ErrAlreadyCheckedIn},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMockRepo(t)
			mock.ExpectExec("INSERT INTO teacher_attendance .* ON CONFLICT").
				WithArgs("r1", "t1", "2026-03-02", in, "recovery_code", "phone died").
				WillReturnResult(sqlmock.NewResult(0, tt.rows))

			err := repo.Insert(context.Background(), rec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestPostgresRepository_SetCheckOut(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	in := day.Add(8 * time.Hour)
	out := day.Add(16 * time.Hour)
	mark := Mark{At: out, Method: MethodCredential}

	t.Run("closes open record", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("UPDATE teacher_attendance .* check_out_time IS NULL").
			WithArgs("t1", "2026-03-02", out, "credential", nil).
			WillReturnRows(sqlmock.NewRows(recordCols).
				AddRow("r1", "t1", day, in, "credential", nil, out, "credential", nil))

		rec, err := repo.SetCheckOut(context.Background(), "t1", "2026-03-02", mark)
		require.NoError(t, err)
		assert.Equal(t, "2026-03-02", rec.Day)
		assert.Equal(t, CheckedOut, rec.State())
		require.NotNil(t, rec.CheckOutTime)
		assert.Equal(t, out, *rec.CheckOutTime)
	})

	t.Run("no record", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("UPDATE teacher_attendance").WillReturnRows(sqlmock.NewRows(recordCols))
		mock.ExpectQuery("SELECT .* FROM teacher_attendance").WithArgs("t1", "2026-03-02").
			WillReturnRows(sqlmock.NewRows(recordCols))

		_, err := repo.SetCheckOut(context.Background(), "t1", "2026-03-02", mark)
		assert.ErrorIs(t, err, ErrNotCheckedInYet)
	})

	t.Run("already closed", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("UPDATE teacher_attendance").WillReturnRows(sqlmock.NewRows(recordCols))
		mock.ExpectQuery("SELECT .* FROM teacher_attendance").WithArgs("t1", "2026-03-02").
			WillReturnRows(sqlmock.NewRows(recordCols).
				AddRow("r1", "t1", day, in, "credential", nil, out, "credential", nil))

		_, err := repo.SetCheckOut(context.Background(), "t1", "2026-03-02", mark)
		assert.ErrorIs(t, err, ErrAlreadyCheckedOut)
	})
}

func TestPostgresRepository_GetAndRange(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	in := day.Add(8 * time.Hour)
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT .* FROM teacher_attendance").WithArgs("t1", "2026-03-09").
		WillReturnRows(sqlmock.NewRows(recordCols))
	mock.ExpectQuery("SELECT .* FROM teacher_attendance .* BETWEEN").WithArgs("t1", "2026-03-01", "2026-03-31").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("r1", "t1", day, in, "credential", nil, nil, nil, nil).
			AddRow("r2", "t1", day.AddDate(0, 0, 1), in.AddDate(0, 0, 1), "recovery_code", "lost phone", nil, nil, nil))

	_, err := repo.Get(context.Background(), "t1", "2026-03-09")
	assert.ErrorIs(t, err, ErrNotFound)

	recs, err := repo.Range(context.Background(), "t1", "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, CheckedIn, recs[0].State())
	assert.Equal(t, "2026-03-03", recs[1].Day)
	assert.Equal(t, MethodRecoveryCode, recs[1].CheckInMethod)
	assert.Equal(t, "lost phone", recs[1].CheckInReason)
}

func TestLedger_OverPostgresRejectsSecondCheckIn(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec("INSERT INTO teacher_attendance").WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := New(repo).CheckIn(context.Background(), "t1", "2026-03-02",
		Mark{At: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC), Method: MethodCredential})
	assert.ErrorIs(t, err, ErrAlreadyCheckedIn)
}
