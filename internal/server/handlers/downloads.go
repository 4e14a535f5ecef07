package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/tunegrab/internal/errors"
	"github.com/3leaps/tunegrab/pkg/jobregistry"
	"github.com/3leaps/tunegrab/pkg/orchestrator"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 64 << 10

// JobService is the job surface the download routes drive.
type JobService interface {
	Submit(sub orchestrator.Submission) (jobregistry.Job, error)
	Get(jobID string) (jobregistry.Job, error)
	List() []jobregistry.Job
	Cancel(jobID string) (jobregistry.Job, error)
	Clear(jobID string) error
}

// SubmitRequest is the body of POST /downloads.
type SubmitRequest struct {
	URL          string `json:"url"`
	CustomName   string `json:"custom_name,omitempty"`
	IsPlaylist   bool   `json:"is_playlist,omitempty"`
	PlaylistName string `json:"playlist_name,omitempty"`
}

// SubmitResponse acknowledges a queued job.
type SubmitResponse struct {
	DownloadID string               `json:"download_id"`
	Status     jobregistry.JobState `json:"status"`
	Message    string               `json:"message"`
}

// MessageResponse carries a human-readable result.
type MessageResponse struct {
	Message string `json:"message"`
}

// DownloadHandlers serves the /downloads routes.
type DownloadHandlers struct {
	jobs   JobService
	origin OriginResolver
	logger *zap.Logger
}

// NewDownloadHandlers returns handlers backed by jobs.
func NewDownloadHandlers(jobs JobService, logger *zap.Logger) *DownloadHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandlers{jobs: jobs, origin: ResolveOrigin, logger: logger}
}

// WithOriginResolver replaces the requester lookup (nil disables it).
func (h *DownloadHandlers) WithOriginResolver(fn OriginResolver) *DownloadHandlers {
	h.origin = fn
	return h
}

// Submit serves POST /downloads. The job runs in the background; the
// response only acknowledges that it was queued.
func (h *DownloadHandlers) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	sub := orchestrator.Submission{
		URL:        strings.TrimSpace(req.URL),
		CustomName: req.CustomName,
		Batch:      req.IsPlaylist,
		FolderName: req.PlaylistName,
	}
	if h.origin != nil {
		sub.Origin = h.origin(r)
	}

	job, err := h.jobs.Submit(sub)
	if err != nil {
		respondWithError(w, r, err)
		return
	}

	apperrors.WriteJSON(w, http.StatusAccepted, SubmitResponse{
		DownloadID: job.JobID,
		Status:     job.State,
		Message:    "Download queued successfully",
	})
}

// List serves GET /downloads, newest first.
func (h *DownloadHandlers) List(w http.ResponseWriter, r *http.Request) {
	apperrors.WriteJSON(w, http.StatusOK, h.jobs.List())
}

// Get serves GET /downloads/{id}.
func (h *DownloadHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, job)
}

// Cancel serves POST /downloads/{id}/cancel. Repeating the request while
// the job is still cancelling succeeds.
func (h *DownloadHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.jobs.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, job)
}

// Clear serves DELETE /downloads/{id}. Only finished jobs can be cleared.
func (h *DownloadHandlers) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Clear(chi.URLParam(r, "id")); err != nil {
		respondWithError(w, r, err)
		return
	}
	apperrors.WriteJSON(w, http.StatusOK, MessageResponse{Message: "Download cleared"})
}

// decodeJSON reads one JSON object from r's body, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.NewInvalidInput("request body is required", err)
		}
		return apperrors.NewInvalidInput("malformed JSON body: "+err.Error(), err)
	}
	return nil
}
