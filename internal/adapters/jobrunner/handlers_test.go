package jobrunner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	domainjob "github.com/nbu-mindcare/triage-api/internal/domain/job"
	"github.com/nbu-mindcare/triage-api/internal/domain/message"
	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	"github.com/nbu-mindcare/triage-api/internal/mocks"
)

type handlerMocks struct {
	messenger    *mocks.MockMessenger
	cases        *mocks.MockCaseRepository
	staff        *mocks.MockStaffDirectory
	appointments *mocks.MockAppointmentRepository
	daily        *mocks.MockMetricRepository
	h            *Handlers
}

var testLinks = message.Links{AdminURL: "https://care.example.ac.th", BookingURL: "https://care.example.ac.th/book"}

func newHandlerMocks(t *testing.T) *handlerMocks {
	t.Helper()
	ctrl := gomock.NewController(t)
	m := &handlerMocks{
		messenger:    mocks.NewMockMessenger(ctrl),
		cases:        mocks.NewMockCaseRepository(ctrl),
		staff:        mocks.NewMockStaffDirectory(ctrl),
		appointments: mocks.NewMockAppointmentRepository(ctrl),
		daily:        mocks.NewMockMetricRepository(ctrl),
	}
	h, err := NewHandlers(HandlersOptions{
		Messenger:    m.messenger,
		Cases:        m.cases,
		Staff:        m.staff,
		Appointments: m.appointments,
		DailyMetrics: m.daily,
		Links:        testLinks,
	})
	require.NoError(t, err)
	m.h = h
	return m
}

func TestHandlers_NotifyStaffLinksDashboard(t *testing.T) {
	m := newHandlerMocks(t)
	m.messenger.EXPECT().Send(gomock.Any(), "U-staff", gomock.Any()).DoAndReturn(
		func(_ context.Context, _ string, msgs []message.Message) error {
			require.Len(t, msgs, 2)
			require.NotNil(t, msgs[1].Template)
			assert.Equal(t, "https://care.example.ac.th/counselor/cases/case-1", msgs[1].Template.Actions[0].URI)
			return nil
		})

	err := m.h.Dispatch(context.Background(), domainjob.NotifyStaff{
		Recipient: "U-staff", StaffID: "s1", CaseID: "case-1", Priority: model.CasePriorityCrisis,
	})
	require.NoError(t, err)
}

func TestHandlers_DeliverResult(t *testing.T) {
	t.Run("crisis carries safety pack", func(t *testing.T) {
		m := newHandlerMocks(t)
		want := message.Result(testLinks, model.RiskCrisis, "call 1323", false)
		m.messenger.EXPECT().Send(gomock.Any(), "U-student", want).Return(nil)

		err := m.h.Dispatch(context.Background(), domainjob.DeliverResult{
			Recipient: "U-student", AssessmentID: "a1", RiskLevel: model.RiskCrisis, RoutingSuggestion: "call 1323",
		})
		require.NoError(t, err)
	})

	t.Run("send failure is retried", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.messenger.EXPECT().Send(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("429 from LINE"))

		err := m.h.Dispatch(context.Background(), domainjob.DeliverResult{
			Recipient: "U-student", AssessmentID: "a1", RiskLevel: model.RiskLow,
		})
		assert.ErrorContains(t, err, "429 from LINE")
	})
}

func TestHandlers_Reminder(t *testing.T) {
	url := "https://meet.example.com/x"
	scheduled := &model.Appointment{
		ID: "appt-1", Status: model.AppointmentScheduled, Mode: model.AppointmentOnline,
		MeetingURL: &url, ScheduledAt: time.Date(2025, 3, 2, 3, 0, 0, 0, time.UTC),
	}

	t.Run("scheduled appointment gets reminder", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.appointments.EXPECT().GetByID(gomock.Any(), "appt-1").Return(scheduled, nil)
		m.messenger.EXPECT().Send(gomock.Any(), "U-student", message.Reminder(scheduled, 2*time.Hour)).Return(nil)

		err := m.h.Dispatch(context.Background(), domainjob.Reminder{
			AppointmentID: "appt-1", Recipient: "U-student", Window: domainjob.ReminderTwoHoursBefore,
		})
		require.NoError(t, err)
	})

	t.Run("cancelled appointment is skipped", func(t *testing.T) {
		m := newHandlerMocks(t)
		cancelled := *scheduled
		cancelled.Status = model.AppointmentCancelled
		m.appointments.EXPECT().GetByID(gomock.Any(), "appt-1").Return(&cancelled, nil)

		err := m.h.Dispatch(context.Background(), domainjob.Reminder{AppointmentID: "appt-1", Recipient: "U-student"})
		require.NoError(t, err)
	})

	t.Run("deleted appointment is skipped", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.appointments.EXPECT().GetByID(gomock.Any(), "appt-gone").Return(nil, model.ErrAppointmentNotFound)

		err := m.h.Dispatch(context.Background(), domainjob.Reminder{AppointmentID: "appt-gone", Recipient: "U-student"})
		require.NoError(t, err)
	})

	t.Run("lookup failure is retried", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.appointments.EXPECT().GetByID(gomock.Any(), "appt-1").Return(nil, errors.New("db down"))

		err := m.h.Dispatch(context.Background(), domainjob.Reminder{AppointmentID: "appt-1", Recipient: "U-student"})
		assert.ErrorContains(t, err, "db down")
	})
}

func TestHandlers_EscalationCheck(t *testing.T) {
	deadline := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	check := domainjob.EscalationCheck{CaseID: "case-1", Deadline: deadline}
	supervisors := []model.StaffRole{model.StaffRoleSupervisor}

	t.Run("acknowledged case is a no-op", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.cases.EXPECT().GetByID(gomock.Any(), "case-1").Return(&model.Case{ID: "case-1", Status: model.CaseStatusAcked}, nil)
		require.NoError(t, m.h.Dispatch(context.Background(), check))
	})

	t.Run("open case alerts every supervisor", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.cases.EXPECT().GetByID(gomock.Any(), "case-1").Return(&model.Case{ID: "case-1", Status: model.CaseStatusOpen}, nil)
		m.staff.EXPECT().ActiveContacts(gomock.Any(), supervisors).Return([]model.StaffContact{
			{StaffID: "sup-1", LineUserID: "U-sup-1"},
			{StaffID: "sup-2", LineUserID: "U-sup-2"},
		}, nil)
		want := message.EscalationAlert(testLinks, "case-1", deadline)
		m.messenger.EXPECT().Send(gomock.Any(), "U-sup-1", want).Return(nil)
		m.messenger.EXPECT().Send(gomock.Any(), "U-sup-2", want).Return(nil)

		require.NoError(t, m.h.Dispatch(context.Background(), check))
	})

	t.Run("one failed send fails the job so it retries", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.cases.EXPECT().GetByID(gomock.Any(), "case-1").Return(&model.Case{ID: "case-1", Status: model.CaseStatusOpen}, nil)
		m.staff.EXPECT().ActiveContacts(gomock.Any(), supervisors).Return([]model.StaffContact{
			{StaffID: "sup-1", LineUserID: "U-sup-1"},
			{StaffID: "sup-2", LineUserID: "U-sup-2"},
		}, nil)
		m.messenger.EXPECT().Send(gomock.Any(), "U-sup-1", gomock.Any()).Return(nil)
		m.messenger.EXPECT().Send(gomock.Any(), "U-sup-2", gomock.Any()).Return(errors.New("blocked"))

		err := m.h.Dispatch(context.Background(), check)
		require.Error(t, err)
		assert.ErrorContains(t, err, "1 of 2 supervisors not reached")
		assert.ErrorContains(t, err, "blocked")
	})

	t.Run("no supervisors is an error", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.cases.EXPECT().GetByID(gomock.Any(), "case-1").Return(&model.Case{ID: "case-1", Status: model.CaseStatusOpen}, nil)
		m.staff.EXPECT().ActiveContacts(gomock.Any(), supervisors).Return(nil, nil)

		err := m.h.Dispatch(context.Background(), check)
		assert.ErrorIs(t, err, ErrNoSupervisors)
	})

	t.Run("every send failing is an error", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.cases.EXPECT().GetByID(gomock.Any(), "case-1").Return(&model.Case{ID: "case-1", Status: model.CaseStatusOpen}, nil)
		m.staff.EXPECT().ActiveContacts(gomock.Any(), supervisors).Return([]model.StaffContact{{StaffID: "sup-1", LineUserID: "U-sup-1"}}, nil)
		m.messenger.EXPECT().Send(gomock.Any(), "U-sup-1", gomock.Any()).Return(errors.New("timeout"))

		assert.Error(t, m.h.Dispatch(context.Background(), check))
	})

	t.Run("missing case is an error", func(t *testing.T) {
		m := newHandlerMocks(t)
		m.cases.EXPECT().GetByID(gomock.Any(), "case-1").Return(nil, model.ErrCaseNotFound)
		assert.ErrorIs(t, m.h.Dispatch(context.Background(), check), model.ErrCaseNotFound)
	})
}

func TestHandlers_MetricRollup(t *testing.T) {
	m := newHandlerMocks(t)
	m.daily.EXPECT().Increment(gomock.Any(), model.DailyMetricKey{
		Date: "2025-03-01", Faculty: "science", RiskLevel: model.RiskModerate,
	}).Return(nil)

	err := m.h.Dispatch(context.Background(), domainjob.MetricRollup{
		Date: "2025-03-01", Faculty: "science", RiskLevel: model.RiskModerate,
	})
	require.NoError(t, err)
}

func TestHandlers_UnknownPayload(t *testing.T) {
	m := newHandlerMocks(t)
	assert.ErrorIs(t, m.h.Dispatch(context.Background(), nil), domainjob.ErrUnknownJobType)
}
