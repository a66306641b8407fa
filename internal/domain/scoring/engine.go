// Package scoring converts screening answers into sub-scores and a risk level.
//
// Everything in this package is pure: no I/O, no clock, no globals.
package scoring

import (
	"errors"
	"fmt"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
)

var (
	// ErrUnknownInstrument is returned for an instrument the engine cannot score.
	ErrUnknownInstrument = errors.New("unknown instrument")
	// ErrInvalidResponses is returned when the answer set is malformed for its instrument.
	ErrInvalidResponses = errors.New("invalid responses")
)

// Item ranges and counts per instrument.
const (
	DepressionItems = 9
	AnxietyItems    = 7
	MaxClinicalItem = 3

	MaxStressItems = 20
	MaxStressItem  = 4

	// SelfHarmItemIndex is the zero-based position of the self-harm question in the depression block.
	SelfHarmItemIndex = 8
)

// Thresholds. Changing any of these changes clinical behaviour.
const (
	stressHigh     = 9
	stressModerate = 5

	depressionCrisis = 20
	selfHarmCrisis   = 2
	subscaleHigh     = 15
	subscaleModerate = 10
)

// Responses groups item scores by sub-scale, each in question order.
type Responses struct {
	Depression []int
	Anxiety    []int
	Stress     []int
}

// Result is the engine output.
type Result struct {
	Scores model.Scores
	Level  model.RiskLevel
}

// Score computes sub-scores and the risk level for an instrument.
func Score(instrument model.Instrument, r Responses) (Result, error) {
	switch instrument {
	case model.InstrumentStressMini:
		return scoreStress(r)
	case model.InstrumentPHQ9GAD7:
		return scoreClinical(r)
	default:
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownInstrument, instrument)
	}
}

func scoreStress(r Responses) (Result, error) {
	if len(r.Depression) > 0 || len(r.Anxiety) > 0 {
		return Result{}, fmt.Errorf("%w: stress index takes no depression or anxiety items", ErrInvalidResponses)
	}
	if len(r.Stress) == 0 || len(r.Stress) > MaxStressItems {
		return Result{}, fmt.Errorf("%w: stress index needs 1 to %d items, got %d",
			ErrInvalidResponses, MaxStressItems, len(r.Stress))
	}
	sum, err := sumItems("stress", r.Stress, MaxStressItem)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Scores: model.Scores{Stress: &sum},
		Level:  StressLevel(sum),
	}, nil
}

// StressLevel classifies a stress index total.
func StressLevel(sum int) model.RiskLevel {
	switch {
	case sum >= stressHigh:
		return model.RiskHigh
	case sum >= stressModerate:
		return model.RiskModerate
	default:
		return model.RiskLow
	}
}

func scoreClinical(r Responses) (Result, error) {
	if len(r.Stress) > 0 {
		return Result{}, fmt.Errorf("%w: clinical instrument takes no stress items", ErrInvalidResponses)
	}
	if len(r.Depression) != DepressionItems {
		return Result{}, fmt.Errorf("%w: depression block needs %d items, got %d",
			ErrInvalidResponses, DepressionItems, len(r.Depression))
	}
	if len(r.Anxiety) != AnxietyItems {
		return Result{}, fmt.Errorf("%w: anxiety block needs %d items, got %d",
			ErrInvalidResponses, AnxietyItems, len(r.Anxiety))
	}
	dep, err := sumItems("depression", r.Depression, MaxClinicalItem)
	if err != nil {
		return Result{}, err
	}
	anx, err := sumItems("anxiety", r.Anxiety, MaxClinicalItem)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Scores: model.Scores{Depression: &dep, Anxiety: &anx},
		Level:  ClinicalLevel(dep, anx, r.Depression[SelfHarmItemIndex]),
	}, nil
}

// ClinicalLevel classifies the two-part instrument. The self-harm item overrides the sums.
func ClinicalLevel(depression, anxiety, selfHarm int) model.RiskLevel {
	if selfHarm >= selfHarmCrisis || depression >= depressionCrisis {
		return model.RiskCrisis
	}
	switch {
	case depression >= subscaleHigh || anxiety >= subscaleHigh:
		return model.RiskHigh
	case depression >= subscaleModerate || anxiety >= subscaleModerate:
		return model.RiskModerate
	default:
		return model.RiskLow
	}
}

func sumItems(block string, items []int, maxItem int) (int, error) {
	sum := 0
	for i, v := range items {
		if v < 0 || v > maxItem {
			return 0, fmt.Errorf("%w: %s item %d must be between 0 and %d, got %d",
				ErrInvalidResponses, block, i+1, maxItem, v)
		}
		sum += v
	}
	return sum, nil
}
