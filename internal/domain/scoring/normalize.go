package scoring

import (
	"fmt"
	"slices"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

// Question id ranges of the two-part instrument.
const (
	firstDepressionQuestion = 1
	lastDepressionQuestion  = 9
	firstAnxietyQuestion    = 10
	lastAnxietyQuestion     = 16
)

// Normalize orders raw answers by question id and buckets them by sub-scale.
func Normalize(instrument model.Instrument, answers []model.Answer) (Responses, error) {
	sorted := slices.Clone(answers)
	slices.SortStableFunc(sorted, func(a, b model.Answer) int {
		return a.QuestionID - b.QuestionID
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i].QuestionID == sorted[i-1].QuestionID {
			return Responses{}, fmt.Errorf("%w: duplicate answer for question %d",
				ErrInvalidResponses, sorted[i].QuestionID)
		}
	}

	switch instrument {
	case model.InstrumentStressMini:
		var r Responses
		for _, a := range sorted {
			r.Stress = append(r.Stress, a.Score)
		}
		return r, nil
	case model.InstrumentPHQ9GAD7:
		var r Responses
		for _, a := range sorted {
			switch {
			case a.QuestionID >= firstDepressionQuestion && a.QuestionID <= lastDepressionQuestion:
				r.Depression = append(r.Depression, a.Score)
			case a.QuestionID >= firstAnxietyQuestion && a.QuestionID <= lastAnxietyQuestion:
				r.Anxiety = append(r.Anxiety, a.Score)
			default:
				return Responses{}, fmt.Errorf("%w: question %d is not part of %s",
					ErrInvalidResponses, a.QuestionID, instrument)
			}
		}
		return r, nil
	default:
		return Responses{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, instrument)
	}
}

// Evaluate normalizes and scores in one step.
func Evaluate(instrument model.Instrument, answers []model.Answer) (Result, error) {
	r, err := Normalize(instrument, answers)
	if err != nil {
		return Result{}, err
	}
	return Score(instrument, r)
}
