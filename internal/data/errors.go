package data

import "github.com/nbu-mindcare/triage-api/internal/domain/model"

// Shared sentinel errors for data-layer repositories. They alias the model
// sentinels so callers above the data layer can match without importing it.
var (
	ErrCaseNotFound       = model.ErrCaseNotFound
	ErrAssessmentNotFound = model.ErrAssessmentNotFound
)
