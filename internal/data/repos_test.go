package data

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbu-mindcare/triage-api/internal/core"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// arrayConverter lets []string arguments through the way the pgx driver accepts them.
type arrayConverter struct{}

func (arrayConverter) ConvertValue(v any) (driver.Value, error) {
	if s, ok := v.([]string); ok {
		return s, nil
	}
	return driver.DefaultParameterConverter.ConvertValue(v)
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.ValueConverterOption(arrayConverter{}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestCaseRepo_UpdateStatus(t *testing.T) {
	staff := "staff-1"

	t.Run("acknowledge wins", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewCaseRepo(db)

		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $2")).
			WithArgs("case-1", "open", "acked", staff, testNow, nil, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.UpdateStatus(context.Background(), model.UpdateCaseStatusParams{
			ID: "case-1", Expected: model.CaseStatusOpen, Next: model.CaseStatusAcked,
			AssignedStaffID: &staff, At: testNow,
		})
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("loser observes no row", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewCaseRepo(db)

		mock.ExpectExec("UPDATE cases").WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.UpdateStatus(context.Background(), model.UpdateCaseStatusParams{
			ID: "case-1", Expected: model.CaseStatusOpen, Next: model.CaseStatusAcked,
			AssignedStaffID: &staff, At: testNow,
		})
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("closing stamps closed_at", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewCaseRepo(db)

		mock.ExpectExec("UPDATE cases").
			WithArgs("case-1", "follow_up", "closed", nil, nil, testNow, testNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.UpdateStatus(context.Background(), model.UpdateCaseStatusParams{
			ID: "case-1", Expected: model.CaseStatusFollowUp, Next: model.CaseStatusClosed, At: testNow,
		})
		require.NoError(t, err)
		assert.True(t, ok)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects illegal edge without touching the database", func(t *testing.T) {
		db, mock := newMockDB(t)
		repo := NewCaseRepo(db)

		_, err := repo.UpdateStatus(context.Background(), model.UpdateCaseStatusParams{
			ID: "case-1", Expected: model.CaseStatusOpen, Next: model.CaseStatusClosed, At: testNow,
		})
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCaseRepo_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewCaseRepo(db)

	cols := []string{"id", "student_id", "assessment_id", "priority", "status", "assigned_staff_id",
		"acked_at", "closed_at", "created_at", "updated_at"}
	mock.ExpectQuery("FROM cases WHERE id").WithArgs("case-1").WillReturnRows(
		sqlmock.NewRows(cols).AddRow("case-1", "stu-1", "asm-1", "crisis", "acked", "staff-1",
			testNow, nil, testNow, testNow))
	mock.ExpectQuery("FROM cases WHERE id").WithArgs("nope").WillReturnRows(sqlmock.NewRows(cols))

	c, err := repo.GetByID(context.Background(), "case-1")
	require.NoError(t, err)
	assert.Equal(t, model.CasePriorityCrisis, c.Priority)
	assert.Equal(t, model.CaseStatusAcked, c.Status)
	require.NotNil(t, c.AssignedStaffID)
	assert.Equal(t, "staff-1", *c.AssignedStaffID)
	assert.Nil(t, c.ClosedAt)

	_, err = repo.GetByID(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrCaseNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMetricRepo_Increment(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewMetricRepo(db)

	mock.ExpectExec(regexp.QuoteMeta("DO UPDATE SET risk_crisis_count = daily_metrics.risk_crisis_count + 1")).
		WithArgs("2025-03-01", "Engineering").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Increment(context.Background(), model.DailyMetricKey{
		Date: "2025-03-01", Faculty: "Engineering", RiskLevel: model.RiskCrisis,
	})
	require.NoError(t, err)

	err = repo.Increment(context.Background(), model.DailyMetricKey{Date: "2025-03-01", RiskLevel: "severe"})
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStaffRepo_ActiveContacts(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewStaffRepo(db)

	mock.ExpectQuery(regexp.QuoteMeta("role = ANY($1)")).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "line_user_id"}).
			AddRow("s1", "Anong", "U1").
			AddRow("s2", "Boonmee", "U2"))

	contacts, err := repo.ActiveContacts(context.Background(),
		[]model.StaffRole{model.StaffRoleCounselor, model.StaffRoleSupervisor})
	require.NoError(t, err)
	assert.Equal(t, []model.StaffContact{
		{StaffID: "s1", Name: "Anong", LineUserID: "U1"},
		{StaffID: "s2", Name: "Boonmee", LineUserID: "U2"},
	}, contacts)

	none, err := repo.ActiveContacts(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, none)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStudentRepo_GetByID_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewStudentRepo(db)

	mock.ExpectQuery("FROM students").WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"id", "student_code", "faculty", "line_user_id", "created_at"}))

	_, err := repo.GetByID(context.Background(), "ghost")
	assert.ErrorIs(t, err, model.ErrStudentNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAssessmentRepo_LatestByStudent_None(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAssessmentRepo(db)

	mock.ExpectQuery("ORDER BY created_at DESC").WithArgs("stu-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	a, err := repo.LatestByStudent(context.Background(), "stu-1")
	require.NoError(t, err)
	assert.Nil(t, a)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepo_UpdateStatus(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewAppointmentRepo(db, NewFixedTimeProvider(testNow))

	cols := []string{"id", "student_id", "staff_id", "scheduled_at", "mode", "meeting_url", "status", "created_at", "updated_at"}
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE appointments SET status = $2")).
		WithArgs("appt-1", "cancelled", testNow).
		WillReturnRows(sqlmock.NewRows(cols).AddRow("appt-1", "stu-1", "staff-1", testNow.Add(48*time.Hour),
			"onsite", nil, "cancelled", testNow, testNow))
	mock.ExpectQuery("UPDATE appointments").WillReturnRows(sqlmock.NewRows(cols))

	a, err := repo.UpdateStatus(context.Background(), "appt-1", model.AppointmentCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.AppointmentCancelled, a.Status)
	assert.Nil(t, a.MeetingURL)

	_, err = repo.UpdateStatus(context.Background(), "appt-2", model.AppointmentCompleted)
	assert.ErrorIs(t, err, model.ErrAppointmentNotFound)

	_, err = repo.UpdateStatus(context.Background(), "appt-1", "rescheduled")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTxRunner_WithinTx(t *testing.T) {
	t.Run("commits assessment case and jobs together", func(t *testing.T) {
		db, mock := newMockDB(t)
		jobs := NewJobRepo(db, RepoConfig{TimeProvider: NewFixedTimeProvider(testNow)})
		runner := NewTxRunner(db, jobs)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO assessments").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO cases").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO jobs").WillReturnRows(jobRow("job-1", model.JobStatusPending, testNow))
		mock.ExpectExec("pg_notify").WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectCommit()

		err := runner.WithinTx(context.Background(), func(tx core.TxStore) error {
			ctx := context.Background()
			if err := tx.InsertAssessment(ctx, &model.Assessment{
				ID: "asm-1", StudentID: "stu-1", Instrument: model.InstrumentStressMini,
				Intent: model.IntentStress, RiskLevel: model.RiskHigh, CreatedAt: testNow,
			}); err != nil {
				return err
			}
			if err := tx.InsertCase(ctx, &model.Case{
				ID: "case-1", StudentID: "stu-1", AssessmentID: "asm-1",
				Priority: model.CasePriorityHigh, Status: model.CaseStatusOpen, CreatedAt: testNow,
			}); err != nil {
				return err
			}
			_, err := tx.Enqueue(ctx, &model.CreateJobRequest{
				Type: model.JobTypeNotifyStaff, Payload: json.RawMessage(`{"version":1}`),
			})
			return err
		})
		require.NoError(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reused case tracks the latest assessment", func(t *testing.T) {
		db, mock := newMockDB(t)
		runner := NewTxRunner(db, NewJobRepo(db, RepoConfig{}))

		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET assessment_id = $2, priority = $3")).
			WithArgs("case-1", "asm-2", string(model.CasePriorityCrisis)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE cases SET assessment_id")).
			WithArgs("case-gone", "asm-3", string(model.CasePriorityHigh)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := runner.WithinTx(context.Background(), func(tx core.TxStore) error {
			ctx := context.Background()
			if err := tx.AttachAssessment(ctx, "case-1", "asm-2", model.CasePriorityCrisis); err != nil {
				return err
			}
			return tx.AttachAssessment(ctx, "case-gone", "asm-3", model.CasePriorityHigh)
		})
		require.ErrorIs(t, err, model.ErrCaseNotFound)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rolls back when a later step fails", func(t *testing.T) {
		db, mock := newMockDB(t)
		runner := NewTxRunner(db, NewJobRepo(db, RepoConfig{}))

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO assessments").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO cases").WillReturnError(errors.New("fk violation"))
		mock.ExpectRollback()

		err := runner.WithinTx(context.Background(), func(tx core.TxStore) error {
			ctx := context.Background()
			if err := tx.InsertAssessment(ctx, &model.Assessment{ID: "asm-1", CreatedAt: testNow}); err != nil {
				return err
			}
			return tx.InsertCase(ctx, &model.Case{ID: "case-1", CreatedAt: testNow})
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fk violation")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}
