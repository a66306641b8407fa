package service

import obserrors "github.com/nbu-mindcare/triage-api/internal/observability/errors"

func classify(err error) string {
	return obserrors.Classify(err)
}
