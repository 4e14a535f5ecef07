package handlers

import (
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
)

// HTTPErrorResponder writes err to w.
type HTTPErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

var httpErrorResponder HTTPErrorResponder = apperrors.RespondWithError

// SetHTTPErrorResponder replaces the error writer used by all handlers.
// nil restores the default envelope writer.
func SetHTTPErrorResponder(fn HTTPErrorResponder) {
	if fn == nil {
		httpErrorResponder = apperrors.RespondWithError
		return
	}
	httpErrorResponder = fn
}

// ResetHTTPErrorResponder restores the default envelope writer.
func ResetHTTPErrorResponder() {
	httpErrorResponder = apperrors.RespondWithError
}

// LoggingResponder writes the default envelope and logs server-side
// failures (5xx) with the request id. Client errors are not logged.
func LoggingResponder(logger *zap.Logger) HTTPErrorResponder {
	if logger == nil {
		return apperrors.RespondWithError
	}
	return func(w http.ResponseWriter, r *http.Request, err error) {
		if e := apperrors.Classify(err); e.Status >= http.StatusInternalServerError {
			logger.Error("Request failed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("request_id", apperrors.RequestIDFromContext(r.Context())),
				zap.Int("status", e.Status),
				zap.String("code", e.Code),
				zap.Error(err))
		}
		apperrors.RespondWithError(w, r, err)
	}
}

func respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	httpErrorResponder(w, r, err)
}
