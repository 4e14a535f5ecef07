// Package middleware holds the HTTP middleware chain of the service.
package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/fulmenhq/gofulmen/errors"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
)

// ErrorResponse is the JSON envelope written for recovered panics.
type ErrorResponse = apperrors.HTTPErrorResponse

// Recovery converts handler panics into INTERNAL_ERROR responses.
//
// The panic and stack are logged through the global zap logger.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			requestID := apperrors.RequestIDFromContext(r.Context())
			zap.L().Error("Recovered from handler panic",
				zap.Any("panic", rec),
				zap.String("request_id", requestID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.ByteString("stack", debug.Stack()))

			envelope := errors.NewErrorEnvelope(apperrors.CodeInternal, fmt.Sprintf("panic: %v", rec))
			if requestID != "" {
				envelope = envelope.WithCorrelationID(requestID)
			}
			envelope, _ = envelope.WithContext(map[string]interface{}{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			writeErrorResponse(w, envelope, http.StatusInternalServerError)
		}()

		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias of Recovery kept for router setups that name
// the error middleware explicitly.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, envelope *errors.ErrorEnvelope, statusCode int) {
	apperrors.WriteError(w, statusCode, envelope)
}
