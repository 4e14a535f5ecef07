package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gferrors "github.com/fulmenhq/gofulmen/errors"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/orchestrator"
)

// fakeJobs drives a real registry without running any worker.
type fakeJobs struct {
	mu        sync.Mutex
	registry  *jobregistry.Registry
	submitted []orchestrator.Submission
	submitErr error
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{registry: jobregistry.New()}
}

func (f *fakeJobs) Submit(sub orchestrator.Submission) (jobregistry.Job, error) {
	f.mu.Lock()
	f.submitted = append(f.submitted, sub)
	f.mu.Unlock()
	if f.submitErr != nil {
		return jobregistry.Job{}, f.submitErr
	}
	if err := orchestrator.ValidateURL(sub.URL, orchestrator.DefaultAllowedHosts); err != nil {
		return jobregistry.Job{}, err
	}
	return f.registry.Create(sub.URL, sub.Batch, sub.Origin), nil
}

func (f *fakeJobs) Get(id string) (jobregistry.Job, error) { return f.registry.Get(id) }
func (f *fakeJobs) List() []jobregistry.Job                { return f.registry.List() }
func (f *fakeJobs) Clear(id string) error                  { return f.registry.Remove(id) }
func (f *fakeJobs) Cancel(id string) (jobregistry.Job, error) {
	job, _, err := f.registry.RequestCancel(id)
	return job, err
}

func downloadRouter(h *DownloadHandlers) http.Handler {
	r := chi.NewRouter()
	r.Post("/downloads", h.Submit)
	r.Get("/downloads", h.List)
	r.Get("/downloads/{id}", h.Get)
	r.Post("/downloads/{id}/cancel", h.Cancel)
	r.Delete("/downloads/{id}", h.Clear)
	return r
}

func doRequest(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.RemoteAddr = "192.168.1.20:51515"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) *gferrors.ErrorEnvelope {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error
}

func TestSubmit_Accepted(t *testing.T) {
	jobs := newFakeJobs()
	h := NewDownloadHandlers(jobs, nil).WithOriginResolver(func(r *http.Request) *jobregistry.Origin {
		return &jobregistry.Origin{RemoteAddr: "192.168.1.20", HardwareAddr: "aa:bb:cc:dd:ee:ff"}
	})

	rec := doRequest(t, downloadRouter(h), http.MethodPost, "/downloads",
		`{"url":" https://www.youtube.com/playlist?list=PL1 ","is_playlist":true,"playlist_name":"Road Trip"}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.DownloadID, jobregistry.IDPrefix))
	assert.Equal(t, jobregistry.JobStateQueued, resp.Status)
	assert.Equal(t, "Download queued successfully", resp.Message)

	require.Len(t, jobs.submitted, 1)
	sub := jobs.submitted[0]
	assert.Equal(t, "https://www.youtube.com/playlist?list=PL1", sub.URL)
	assert.True(t, sub.Batch)
	assert.Equal(t, "Road Trip", sub.FolderName)
	require.NotNil(t, sub.Origin)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", sub.Origin.HardwareAddr)
}

func TestSubmit_Rejected(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"empty body", ``, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"malformed", `{"url":`, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"unknown field", `{"url":"https://youtu.be/x","format":"flac"}`, http.StatusBadRequest, apperrors.CodeInvalidInput},
		{"foreign host", `{"url":"https://vimeo.com/1"}`, http.StatusBadRequest, apperrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewDownloadHandlers(newFakeJobs(), nil).WithOriginResolver(nil)
			rec := doRequest(t, downloadRouter(h), http.MethodPost, "/downloads", tt.body)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Code)
		})
	}
}

func TestSubmit_ShuttingDown(t *testing.T) {
	jobs := newFakeJobs()
	jobs.submitErr = orchestrator.ErrShuttingDown
	h := NewDownloadHandlers(jobs, nil).WithOriginResolver(nil)

	rec := doRequest(t, downloadRouter(h), http.MethodPost, "/downloads", `{"url":"https://youtu.be/x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, apperrors.CodeServiceUnavailable, decodeError(t, rec).Code)
}

func TestListAndGet(t *testing.T) {
	jobs := newFakeJobs()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jobs.registry = jobregistry.New(jobregistry.WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	first := jobs.registry.Create("https://youtu.be/a", false, nil)
	second := jobs.registry.Create("https://youtu.be/b", false, nil)
	router := downloadRouter(NewDownloadHandlers(jobs, nil))

	rec := doRequest(t, router, http.MethodGet, "/downloads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobregistry.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, second.JobID, list[0].JobID, "newest first")
	assert.Equal(t, first.JobID, list[1].JobID)

	rec = doRequest(t, router, http.MethodGet, "/downloads/"+first.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, first.JobID, got["download_id"])
	assert.Equal(t, "queued", got["status"])
	assert.Equal(t, "https://youtu.be/a", got["url"])

	rec = doRequest(t, router, http.MethodGet, "/downloads/dl_missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperrors.CodeNotFound, decodeError(t, rec).Code)
}

func TestCancel(t *testing.T) {
	jobs := newFakeJobs()
	job := jobs.registry.Create("https://youtu.be/a", false, nil)
	router := downloadRouter(NewDownloadHandlers(jobs, nil))

	for i := 0; i < 2; i++ {
		rec := doRequest(t, router, http.MethodPost, "/downloads/"+job.JobID+"/cancel", "")
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i+1)
		var got jobregistry.Job
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, jobregistry.JobStateCancelling, got.State)
	}

	_, err := jobs.registry.Finish(job.JobID, jobregistry.Outcome{State: jobregistry.JobStateCancelled})
	require.NoError(t, err)

	rec := doRequest(t, router, http.MethodPost, "/downloads/"+job.JobID+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperrors.CodeInvalidState, decodeError(t, rec).Code)

	rec = doRequest(t, router, http.MethodPost, "/downloads/dl_nope/cancel", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClear(t *testing.T) {
	jobs := newFakeJobs()
	job := jobs.registry.Create("https://youtu.be/a", false, nil)
	router := downloadRouter(NewDownloadHandlers(jobs, nil))

	rec := doRequest(t, router, http.MethodDelete, "/downloads/"+job.JobID, "")
	assert.Equal(t, http.StatusConflict, rec.Code, "running jobs cannot be cleared")

	_, err := jobs.registry.Transition(job.JobID, jobregistry.JobStateDownloading)
	require.NoError(t, err)
	_, err = jobs.registry.Finish(job.JobID, jobregistry.Outcome{State: jobregistry.JobStateCompleted, Title: "Song"})
	require.NoError(t, err)

	rec = doRequest(t, router, http.MethodDelete, "/downloads/"+job.JobID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Download cleared"}`, rec.Body.String())

	rec = doRequest(t, router, http.MethodDelete, "/downloads/"+job.JobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
