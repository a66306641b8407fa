package scoring

import "github.com/nbu-mindcare/triage-api/internal/domain/model"

// Routing suggestions shown to the student with their result.
const (
	SuggestionEmergency = "Please call the Department of Mental Health hotline 1323 (24 hours) " +
		"or see a university psychologist today. If you are in immediate danger, call 1669."
	SuggestionCounselor = "We recommend booking a session with a university counselor soon."
	SuggestionAdvisor   = "Your academic advisor is a good first step for study-related worries. " +
		"You can also book a university psychologist at any time."
	SuggestionPsychologist = "We recommend talking with a university psychologist. " +
		"Your academic advisor can also help if things feel overwhelming."
	SuggestionSelfHelp = "Your result is in the healthy range. Self-care resources are available in the menu."
)

// RoutingSuggestion selects the canned guidance for a (level, intent) pair.
// Unknown levels get the emergency text; unknown intents are treated as "other".
func RoutingSuggestion(level model.RiskLevel, intent model.Intent) string {
	switch level {
	case model.RiskLow:
		return SuggestionSelfHelp
	case model.RiskModerate:
		if intent == model.IntentAcademic {
			return SuggestionAdvisor
		}
		return SuggestionPsychologist
	case model.RiskHigh:
		return SuggestionCounselor
	default:
		return SuggestionEmergency
	}
}

// ShowBookingCTA reports whether the result message offers a booking button.
// Crisis results carry the safety pack instead.
func ShowBookingCTA(level model.RiskLevel) bool {
	return level == model.RiskModerate || level == model.RiskHigh
}
