package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
)

// maxRequestIDLen bounds client-supplied request ids.
const maxRequestIDLen = 128

// RequestID propagates X-Request-ID, generating one when the client did
// not send it. The id is echoed on the response and stored on the context.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(apperrors.RequestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}
		w.Header().Set(apperrors.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(apperrors.WithRequestID(r.Context(), id)))
	})
}
