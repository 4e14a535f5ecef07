package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/google/uuid"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
	"github.com/3leaps/tunegrab/internal/server/handlers"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
)

// clientTimeout bounds each request to the service.
const clientTimeout = 30 * time.Second

// apiClient talks to a running tunegrab service.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// apiError is a non-2xx response decoded from the error envelope.
type apiError struct {
	Status   int
	Envelope *gferrors.ErrorEnvelope
}

func (e *apiError) Error() string {
	if e.Envelope == nil || e.Envelope.Message == "" {
		return fmt.Sprintf("service returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Envelope.Message, e.Envelope.Code)
}

func (c *apiClient) Submit(ctx context.Context, req handlers.SubmitRequest) (handlers.SubmitResponse, error) {
	var out handlers.SubmitResponse
	err := c.do(ctx, http.MethodPost, "/downloads", req, &out)
	return out, err
}

func (c *apiClient) List(ctx context.Context) ([]jobregistry.Job, error) {
	var out []jobregistry.Job
	err := c.do(ctx, http.MethodGet, "/downloads", nil, &out)
	return out, err
}

func (c *apiClient) Get(ctx context.Context, jobID string) (jobregistry.Job, error) {
	var out jobregistry.Job
	err := c.do(ctx, http.MethodGet, "/downloads/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

func (c *apiClient) Cancel(ctx context.Context, jobID string) (jobregistry.Job, error) {
	var out jobregistry.Job
	err := c.do(ctx, http.MethodPost, "/downloads/"+url.PathEscape(jobID)+"/cancel", nil, &out)
	return out, err
}

func (c *apiClient) Clear(ctx context.Context, jobID string) (handlers.MessageResponse, error) {
	var out handlers.MessageResponse
	err := c.do(ctx, http.MethodDelete, "/downloads/"+url.PathEscape(jobID), nil, &out)
	return out, err
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set(apperrors.RequestIDHeader, uuid.NewString())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		apiErr := &apiError{Status: resp.StatusCode}
		var envelope apperrors.HTTPErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil {
			apiErr.Envelope = envelope.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
