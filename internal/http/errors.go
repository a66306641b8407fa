package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nbu-mindcare/triage-api/internal/domain/model"
	apperrors "github.com/nbu-mindcare/triage-api/internal/errors"
)

var statusByCode = map[apperrors.ErrorCode]int{
	apperrors.ErrCodeValidation:  http.StatusBadRequest,
	apperrors.ErrCodeNotFound:    http.StatusNotFound,
	apperrors.ErrCodeConflict:    http.StatusConflict,
	apperrors.ErrCodeForeignKey:  http.StatusConflict,
	apperrors.ErrCodeRateLimited: http.StatusTooManyRequests,
	apperrors.ErrCodeTimeout:     http.StatusGatewayTimeout,
}

// writeServiceError maps a service error onto a status code. Errors without a
// mapped application code are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	if errors.Is(err, model.ErrCaseAlreadyAcknowledged) {
		WriteError(w, ErrorParams{Code: http.StatusConflict, ErrCode: "already_acknowledged", Err: err})
		return
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		if status, ok := statusByCode[appErr.Code]; ok {
			// Validation causes describe the input; other causes may hold SQL detail.
			clientErr := errors.New(appErr.Message)
			if appErr.Code == apperrors.ErrCodeValidation {
				clientErr = appErr
			}
			WriteError(w, ErrorParams{Code: status, ErrCode: string(appErr.Code), Err: clientErr, Field: appErr.Field})
			return
		}
	}

	if errors.Is(err, model.ErrJobNotFound) {
		WriteError(w, ErrorParams{Code: http.StatusNotFound, ErrCode: "not_found", Err: errors.New("job not found")})
		return
	}

	if logger == nil {
		logger = slog.Default()
	}
	logger.ErrorContext(r.Context(), "request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"error", err,
	)
	WriteError(w, ErrorParams{
		Code:    http.StatusInternalServerError,
		ErrCode: "internal",
		Err:     errors.New("internal server error"),
	})
}
