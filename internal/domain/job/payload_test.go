package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

func TestBuildRequest_StampsVersionAndType(t *testing.T) {
	runAt := time.Date(2025, 3, 1, 8, 30, 0, 0, time.FixedZone("ICT", 7*3600))
	req, err := BuildRequest(EscalationCheck{CaseID: "c1", Deadline: runAt}, runAt)
	require.NoError(t, err)

	assert.Equal(t, model.JobTypeEscalationCheck, req.Type)
	require.NotNil(t, req.RunAt)
	assert.Equal(t, time.UTC, req.RunAt.Location())
	assert.True(t, req.RunAt.Equal(runAt))

	var fields map[string]any
	require.NoError(t, json.Unmarshal(req.Payload, &fields))
	assert.EqualValues(t, PayloadVersion, fields["version"])
	assert.Equal(t, "c1", fields["case_id"])
	assert.NoError(t, req.Validate())
}

func TestDecode_Variants(t *testing.T) {
	t.Run("notify staff", func(t *testing.T) {
		p, err := Decode(model.JobTypeNotifyStaff,
			json.RawMessage(`{"version":1,"recipient":"U1","staff_id":"s1","case_id":"c1","priority":"crisis"}`))
		require.NoError(t, err)
		n, ok := p.(NotifyStaff)
		require.True(t, ok)
		assert.Equal(t, model.CasePriorityCrisis, n.Priority)
	})

	t.Run("reminder tags map to windows", func(t *testing.T) {
		raw := json.RawMessage(`{"version":1,"appointment_id":"a1","recipient":"U2"}`)
		p, err := Decode(model.JobTypeReminder2h, raw)
		require.NoError(t, err)
		assert.Equal(t, ReminderTwoHoursBefore, p.(Reminder).Window)
		assert.Equal(t, model.JobTypeReminder2h, p.Type())

		p, err = Decode(model.JobTypeReminder1d, raw)
		require.NoError(t, err)
		assert.Equal(t, model.JobTypeReminder1d, p.Type())
		assert.Equal(t, 24*time.Hour, p.(Reminder).Window.Lead())
	})

	t.Run("unversioned legacy row reads as v1", func(t *testing.T) {
		p, err := Decode(model.JobTypeMetricRollup,
			json.RawMessage(`{"date":"2025-03-01","faculty":"Science","risk_level":"high"}`))
		require.NoError(t, err)
		assert.Equal(t, model.DailyMetricKey{Date: "2025-03-01", Faculty: "Science", RiskLevel: model.RiskHigh},
			p.(MetricRollup).Key())
	})
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode("send_fax", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownJobType)

	_, err = Decode(model.JobTypeEscalationCheck, json.RawMessage(`{"version":2,"case_id":"c1"}`))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)

	_, err = Decode(model.JobTypeEscalationCheck, json.RawMessage(`{"version":1}`))
	assert.Error(t, err)

	_, err = Decode(model.JobTypeDeliverResult, json.RawMessage(`not json`))
	assert.Error(t, err)

	_, err = Decode(model.JobTypeMetricRollup, json.RawMessage(`{"date":"yesterday","risk_level":"low"}`))
	assert.Error(t, err)
}

func TestEncodeDecode_DeliverResult(t *testing.T) {
	in := DeliverResult{
		Recipient:         "U9",
		AssessmentID:      "a9",
		RiskLevel:         model.RiskModerate,
		RoutingSuggestion: "see your advisor",
		ShowBookingCTA:    true,
	}
	raw, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(model.JobTypeDeliverResult, raw)
	require.NoError(t, err)
	in.Version = PayloadVersion
	assert.Equal(t, in, out)
}

func TestEncode_RejectsInvalid(t *testing.T) {
	_, err := Encode(NotifyStaff{CaseID: "c1"})
	assert.Error(t, err)
	_, err = Encode(nil)
	assert.Error(t, err)
}
