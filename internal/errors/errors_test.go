package apperrors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/orchestrator"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", &jobregistry.JobError{Op: "Get", JobID: "dl_x", Err: jobregistry.ErrNotFound}, http.StatusNotFound, CodeNotFound},
		{"invalid state", &jobregistry.JobError{Op: "Cancel", JobID: "dl_x", State: jobregistry.JobStateCompleted, Err: jobregistry.ErrInvalidState}, http.StatusConflict, CodeInvalidState},
		{"invalid input", jobregistry.InvalidInput("Submit", "url is required"), http.StatusBadRequest, CodeInvalidInput},
		{"shutting down", fmt.Errorf("submit: %w", orchestrator.ErrShuttingDown), http.StatusServiceUnavailable, CodeServiceUnavailable},
		{"http error passthrough", NewNotFound("no such file"), http.StatusNotFound, CodeNotFound},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.code, got.Code)
			assert.NotEmpty(t, got.Message)
		})
	}
}

func TestClassify_InvalidStateDetails(t *testing.T) {
	err := &jobregistry.JobError{Op: "Cancel", JobID: "dl_x", State: jobregistry.JobStateCompleted, Err: jobregistry.ErrInvalidState}
	got := Classify(err)
	assert.Equal(t, "completed", got.Context["status"])

	env := got.Envelope()
	assert.Equal(t, CodeInvalidState, env.Code)
	assert.Equal(t, "completed", env.Context["status"])
}

func TestRespondWithError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/downloads/dl_x", nil)
	req = req.WithContext(WithRequestID(req.Context(), "req-1"))
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, &jobregistry.JobError{Op: "Get", JobID: "dl_x", Err: jobregistry.ErrNotFound})

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeNotFound, body.Error.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "req-1", body.Error.CorrelationID)
	assert.Contains(t, body.Error.Message, "dl_x")
	assert.Equal(t, http.MethodGet, body.Error.Context["method"])
	assert.Equal(t, "/downloads/dl_x", body.Error.Context["path"])
	assert.NotEmpty(t, body.Error.Timestamp)
}

func TestRespondWithError_HeaderRequestID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "from-header")
	rec := httptest.NewRecorder()

	RespondWithError(rec, req, errors.New("boom"))

	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeInternal, body.Error.Code)
	assert.Equal(t, "from-header", body.Error.CorrelationID)
}

func TestWrapInternal(t *testing.T) {
	ctx := WithRequestID(context.Background(), "abc")
	cause := errors.New("disk full")

	err := WrapInternal(ctx, cause, "save settings")
	assert.Equal(t, http.StatusInternalServerError, err.Status)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "abc", err.RequestID)
	assert.Equal(t, "abc", err.Envelope().CorrelationID)
	assert.Contains(t, err.Error(), "disk full")

	assert.Empty(t, WrapInternal(context.Background(), cause, "x").Envelope().CorrelationID)
}

func TestEnvelope_DetailsKeepNestedValues(t *testing.T) {
	err := NewServiceUnavailable("service is unhealthy", map[string]any{
		"checks": map[string]any{"engine": "unhealthy"},
	})

	env := err.Envelope()
	assert.Equal(t, CodeServiceUnavailable, env.Code)
	assert.Equal(t, map[string]any{"engine": "unhealthy"}, env.Details["checks"])
	assert.Nil(t, env.Context)
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(context.Background()))
	assert.Equal(t, "id", RequestIDFromContext(WithRequestID(context.Background(), "id")))
}
