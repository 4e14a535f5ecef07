// Package apperrors maps domain errors onto the service's JSON error
// envelope and HTTP status codes.
//
// Every non-2xx response body wraps a gofulmen error envelope:
//
//	{"error": {"code": "NOT_FOUND", "message": "...", "timestamp": "...", "correlation_id": "...", "context": {...}}}
//
// The request id travels as the envelope's correlation id.
package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	gferrors "github.com/fulmenhq/gofulmen/errors"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/orchestrator"
)

// Error codes returned in the envelope.
const (
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidState       = "INVALID_STATE"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeMethodNotAllowed   = "METHOD_NOT_ALLOWED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// RequestIDHeader carries the request id in and out of the service.
const RequestIDHeader = "X-Request-ID"

// HTTPErrorResponse is the error envelope written for every failed request.
type HTTPErrorResponse struct {
	Error *gferrors.ErrorEnvelope `json:"error"`
}

// HTTPError is an error that already knows its status and code.
//
// Context holds scalar annotations (strings, numbers, booleans) and ends
// up in the envelope's context; Details may carry nested values.
type HTTPError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
	Context   map[string]any
	Details   map[string]any
	Err       error
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HTTPError) Unwrap() error {
	return e.Err
}

// NewNotFound builds a 404 error.
func NewNotFound(message string) *HTTPError {
	return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// NewInvalidInput builds a 400 error.
func NewInvalidInput(message string, err error) *HTTPError {
	return &HTTPError{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: message, Err: err}
}

// NewMethodNotAllowed builds a 405 error.
func NewMethodNotAllowed(message string) *HTTPError {
	return &HTTPError{Status: http.StatusMethodNotAllowed, Code: CodeMethodNotAllowed, Message: message}
}

// NewServiceUnavailable builds a 503 error with optional details.
func NewServiceUnavailable(message string, details map[string]any) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message, Details: details}
}

// NewExternalServiceError reports a dependency (engine binary, storage)
// that could not be reached.
func NewExternalServiceError(message string) *HTTPError {
	return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: message}
}

// WrapInternal wraps err as a 500 carrying the request id found on ctx.
func WrapInternal(ctx context.Context, err error, message string) *HTTPError {
	return &HTTPError{
		Status:    http.StatusInternalServerError,
		Code:      CodeInternal,
		Message:   message,
		RequestID: RequestIDFromContext(ctx),
		Err:       err,
	}
}

// Envelope converts e into a gofulmen error envelope.
func (e *HTTPError) Envelope() *gferrors.ErrorEnvelope {
	env := gferrors.NewErrorEnvelope(e.Code, e.Message)
	if e.RequestID != "" {
		env = env.WithCorrelationID(e.RequestID)
	}
	if len(e.Context) > 0 {
		// Non-scalar entries are dropped by the envelope; ours are all scalar.
		env, _ = env.WithContext(e.Context)
	}
	if len(e.Details) > 0 {
		env = env.WithDetails(e.Details)
	}
	return env
}

// Classify maps err onto an HTTPError.
//
// Domain sentinels map as follows; everything else is INTERNAL_ERROR/500:
//
//	jobregistry.ErrNotFound        -> NOT_FOUND/404
//	jobregistry.ErrInvalidState    -> INVALID_STATE/409
//	jobregistry.ErrInvalidInput    -> INVALID_INPUT/400
//	orchestrator.ErrShuttingDown   -> SERVICE_UNAVAILABLE/503
func Classify(err error) *HTTPError {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr
	}

	switch {
	case jobregistry.IsNotFound(err):
		return &HTTPError{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error(), Err: err}
	case jobregistry.IsInvalidState(err):
		return &HTTPError{Status: http.StatusConflict, Code: CodeInvalidState, Message: err.Error(), Err: err, Context: stateContext(err)}
	case jobregistry.IsInvalidInput(err):
		return &HTTPError{Status: http.StatusBadRequest, Code: CodeInvalidInput, Message: err.Error(), Err: err}
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return &HTTPError{Status: http.StatusServiceUnavailable, Code: CodeServiceUnavailable, Message: err.Error(), Err: err}
	}
	return &HTTPError{Status: http.StatusInternalServerError, Code: CodeInternal, Message: err.Error(), Err: err}
}

func stateContext(err error) map[string]any {
	var jobErr *jobregistry.JobError
	if errors.As(err, &jobErr) && jobErr.State != "" {
		return map[string]any{"status": string(jobErr.State)}
	}
	return nil
}

// RespondWithError writes err as a JSON error envelope.
func RespondWithError(w http.ResponseWriter, r *http.Request, err error) {
	e := *Classify(err)
	if e.RequestID == "" && r != nil {
		e.RequestID = RequestIDFromContext(r.Context())
		if e.RequestID == "" {
			e.RequestID = r.Header.Get(RequestIDHeader)
		}
	}
	if r != nil {
		e.Context = withRequestContext(e.Context, r)
	}
	WriteError(w, e.Status, e.Envelope())
}

// withRequestContext adds the method and path to a copy of ctx.
func withRequestContext(ctx map[string]any, r *http.Request) map[string]any {
	out := make(map[string]any, len(ctx)+2)
	for k, v := range ctx {
		out[k] = v
	}
	out["method"] = r.Method
	out["path"] = r.URL.Path
	return out
}

// WriteError writes env inside the error envelope with status.
func WriteError(w http.ResponseWriter, status int, env *gferrors.ErrorEnvelope) {
	WriteJSON(w, status, HTTPErrorResponse{Error: env})
}

// WriteJSON writes v as a JSON response with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type requestIDKey struct{}

// WithRequestID returns a context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
