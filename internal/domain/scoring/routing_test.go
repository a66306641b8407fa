package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

func TestRoutingSuggestion(t *testing.T) {
	tests := []struct {
		level  model.RiskLevel
		intent model.Intent
		want   string
	}{
		{model.RiskLow, model.IntentAcademic, SuggestionSelfHelp},
		{model.RiskLow, model.IntentSleep, SuggestionSelfHelp},
		{model.RiskModerate, model.IntentAcademic, SuggestionAdvisor},
		{model.RiskModerate, model.IntentRelationship, SuggestionPsychologist},
		{model.RiskModerate, "astrology", SuggestionPsychologist},
		{model.RiskHigh, model.IntentAcademic, SuggestionCounselor},
		{model.RiskCrisis, model.IntentAcademic, SuggestionEmergency},
		{model.RiskCrisis, model.IntentUnsure, SuggestionEmergency},
		{"unknown", model.IntentOther, SuggestionEmergency},
	}
	for _, tt := range tests {
		t.Run(string(tt.level)+"/"+string(tt.intent), func(t *testing.T) {
			assert.Equal(t, tt.want, RoutingSuggestion(tt.level, tt.intent))
		})
	}
}

func TestRoutingSuggestion_CrisisMentionsHotline(t *testing.T) {
	assert.Contains(t, RoutingSuggestion(model.RiskCrisis, model.IntentOther), "1323")
}

func TestShowBookingCTA(t *testing.T) {
	assert.False(t, ShowBookingCTA(model.RiskLow))
	assert.True(t, ShowBookingCTA(model.RiskModerate))
	assert.True(t, ShowBookingCTA(model.RiskHigh))
	assert.False(t, ShowBookingCTA(model.RiskCrisis))
}
