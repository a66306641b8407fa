package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCaseStatus_Transitions(t *testing.T) {
	chain := []CaseStatus{CaseStatusOpen, CaseStatusAcked, CaseStatusContacted, CaseStatusFollowUp, CaseStatusClosed}
	for i := 0; i < len(chain)-1; i++ {
		assert.True(t, chain[i].CanTransitionTo(chain[i+1]), "%s -> %s", chain[i], chain[i+1])
		prev, ok := chain[i+1].Previous()
		require.True(t, ok)
		assert.Equal(t, chain[i], prev)
	}

	assert.False(t, CaseStatusOpen.CanTransitionTo(CaseStatusClosed), "open cannot skip to closed")
	assert.False(t, CaseStatusAcked.CanTransitionTo(CaseStatusOpen), "no backwards edges")
	assert.False(t, CaseStatusClosed.CanTransitionTo(CaseStatusOpen))
	assert.True(t, CaseStatusClosed.Terminal())

	_, ok := CaseStatusOpen.Previous()
	assert.False(t, ok)
}

func TestParseCaseStatus(t *testing.T) {
	s, err := ParseCaseStatus(" Follow_Up ")
	require.NoError(t, err)
	assert.Equal(t, CaseStatusFollowUp, s)

	_, err = ParseCaseStatus("resolved")
	assert.Error(t, err)
}

func TestPriorityForRisk(t *testing.T) {
	p, ok := PriorityForRisk(RiskCrisis)
	assert.True(t, ok)
	assert.Equal(t, CasePriorityCrisis, p)

	p, ok = PriorityForRisk(RiskHigh)
	assert.True(t, ok)
	assert.Equal(t, CasePriorityHigh, p)

	_, ok = PriorityForRisk(RiskModerate)
	assert.False(t, ok)
	_, ok = PriorityForRisk(RiskLow)
	assert.False(t, ok)
}

func TestUpdateCaseStatusParams_Validate(t *testing.T) {
	staff := "staff-1"
	now := time.Now()

	assert.NoError(t, UpdateCaseStatusParams{
		ID: "c1", Expected: CaseStatusOpen, Next: CaseStatusAcked, AssignedStaffID: &staff, At: now,
	}.Validate())

	err := UpdateCaseStatusParams{ID: "c1", Expected: CaseStatusOpen, Next: CaseStatusAcked, At: now}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "assigned staff")

	err = UpdateCaseStatusParams{ID: "c1", Expected: CaseStatusOpen, Next: CaseStatusContacted, At: now}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid case transition")

	assert.Error(t, UpdateCaseStatusParams{Expected: CaseStatusAcked, Next: CaseStatusContacted}.Validate())
}

func TestRiskLevel_Order(t *testing.T) {
	levels := RiskLevels()
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, levels[i].Severity(), levels[i-1].Severity())
		assert.True(t, levels[i].AtLeast(levels[i-1]))
		assert.False(t, levels[i-1].AtLeast(levels[i]))
	}
	assert.False(t, RiskLevel("severe").Valid())
	assert.True(t, RiskHigh.OpensCase())
	assert.True(t, RiskCrisis.OpensCase())
	assert.False(t, RiskModerate.OpensCase())
	assert.False(t, RiskLow.OpensCase())

	var l RiskLevel
	require.NoError(t, l.UnmarshalText([]byte("CRISIS")))
	assert.Equal(t, RiskCrisis, l)
	assert.Error(t, l.UnmarshalText([]byte("none")))
}

func TestSubmitAssessmentRequest_Validate(t *testing.T) {
	ok := SubmitAssessmentRequest{
		StudentID:  "s1",
		Instrument: InstrumentStressMini,
		Intent:     IntentAcademic,
		Answers:    []Answer{{QuestionID: 1, Score: 2}},
	}
	assert.NoError(t, ok.Validate())

	bad := ok
	bad.Instrument = "dass21"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Intent = "money"
	assert.Error(t, bad.Validate())

	bad = ok
	bad.Answers = nil
	assert.Error(t, bad.Validate())

	bad = ok
	bad.StudentID = ""
	assert.Error(t, bad.Validate())
}
