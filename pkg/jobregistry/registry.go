// Package jobregistry tracks fetch jobs for the lifetime of the process.
//
// The Registry is the single source of truth for job status and progress.
// The CancelSet holds pending cancellation requests consulted by running
// workers. Both guard their whole map with one mutex; hold times never span
// I/O, so per-entry locking is not needed.
package jobregistry

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// IDPrefix prefixes every generated job id.
const IDPrefix = "dl_"

// Registry is a concurrency-safe, process-local job table.
//
// Records are retained until Remove is called; the registry never evicts.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
	now  func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// New returns an empty registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		jobs: make(map[string]*Job),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewJobID returns a time-ordered unique job id.
func NewJobID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return IDPrefix + uuid.NewString()
	}
	return IDPrefix + id.String()
}

// Create registers a new job in the queued state and returns a copy.
func (r *Registry) Create(sourceURL string, batch bool, origin *Origin) Job {
	job := &Job{
		JobID:     NewJobID(),
		SourceURL: strings.TrimSpace(sourceURL),
		State:     JobStateQueued,
		Batch:     batch,
		CreatedAt: r.now().UTC(),
	}
	if origin != nil {
		o := *origin
		job.Origin = &o
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.JobID] = job
	return copyJob(job)
}

// Get returns a copy of the job with the given id.
func (r *Registry) Get(jobID string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[strings.TrimSpace(jobID)]
	if !ok {
		return Job{}, &JobError{Op: "Get", JobID: jobID, Err: ErrNotFound}
	}
	return copyJob(job), nil
}

// List returns copies of all jobs, most recently created first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	out := make([]Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, copyJob(job))
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			// v7 ids sort by creation order within the same instant.
			return out[i].JobID > out[j].JobID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len returns the number of tracked jobs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Transition moves a job along one edge of the state machine.
func (r *Registry) Transition(jobID string, to JobState) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, &JobError{Op: "Transition", JobID: jobID, Err: ErrNotFound}
	}
	if !CanTransition(job.State, to) {
		return copyJob(job), &JobError{
			Op:    "Transition",
			JobID: jobID,
			State: job.State,
			Err:   fmt.Errorf("%w: cannot move to %s", ErrInvalidState, to),
		}
	}

	job.State = to
	if to == JobStateDownloading {
		now := r.now().UTC()
		job.StartedAt = &now
	}
	return copyJob(job), nil
}

// SetProgress records a progress value for a running job.
//
// Values are clamped to [0,100] and never lower the stored progress, so the
// field is monotonically non-decreasing within a run. It returns the stored
// value.
func (r *Registry) SetProgress(jobID string, progress int) (int, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return 0, &JobError{Op: "SetProgress", JobID: jobID, Err: ErrNotFound}
	}
	if job.State.IsTerminal() {
		return job.Progress, &JobError{Op: "SetProgress", JobID: jobID, State: job.State, Err: ErrInvalidState}
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return job.Progress, nil
}

// SetOutputDir records the resolved destination directory for a job.
func (r *Registry) SetOutputDir(jobID, dir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return &JobError{Op: "SetOutputDir", JobID: jobID, Err: ErrNotFound}
	}
	job.OutputDir = dir
	return nil
}

// RequestCancel marks a queued or downloading job as cancelling.
//
// A repeat request on a job that is already cancelling succeeds without
// change; changed reports whether this call performed the transition.
func (r *Registry) RequestCancel(jobID string) (job Job, changed bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[jobID]
	if !ok {
		return Job{}, false, &JobError{Op: "Cancel", JobID: jobID, Err: ErrNotFound}
	}
	if !rec.State.IsCancellable() {
		return copyJob(rec), false, &JobError{Op: "Cancel", JobID: jobID, State: rec.State, Err: ErrInvalidState}
	}
	if rec.State == JobStateCancelling {
		return copyJob(rec), false, nil
	}
	rec.State = JobStateCancelling
	return copyJob(rec), true, nil
}

// Finish records the terminal outcome of a worker run.
//
// A job observed as cancelling always ends cancelled, whatever the engine
// reported: the worker exiting is the only edge out of cancelling.
func (r *Registry) Finish(jobID string, out Outcome) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return Job{}, &JobError{Op: "Finish", JobID: jobID, Err: ErrNotFound}
	}

	target := out.State
	if job.State == JobStateCancelling {
		target = JobStateCancelled
	}
	// Runs that end before reaching downloading, or that are aborted by the
	// process rather than a client, still walk the state machine edges.
	switch {
	case job.State == JobStateQueued && (target == JobStateError || target == JobStateCompleted):
		job.State = JobStateDownloading
	case (job.State == JobStateQueued || job.State == JobStateDownloading) && target == JobStateCancelled:
		job.State = JobStateCancelling
	}
	if !target.IsTerminal() || !CanTransition(job.State, target) {
		return copyJob(job), &JobError{
			Op:    "Finish",
			JobID: jobID,
			State: job.State,
			Err:   fmt.Errorf("%w: cannot finish as %s", ErrInvalidState, target),
		}
	}

	now := r.now().UTC()
	job.State = target
	job.CompletedAt = &now

	switch target {
	case JobStateCompleted:
		job.Progress = 100
		job.Title = out.Title
		job.ResultMessage = out.ResultMessage
		job.ErrorMessage = ""
	case JobStateCancelled:
		msg := out.ErrorMessage
		if out.State != JobStateCancelled || msg == "" {
			msg = "cancelled by user"
		}
		job.ErrorMessage = msg
		job.ResultMessage = out.ResultMessage
	case JobStateError:
		job.ErrorMessage = out.ErrorMessage
		job.ResultMessage = out.ResultMessage
	}
	return copyJob(job), nil
}

// Remove clears a terminal job from the registry.
func (r *Registry) Remove(jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return &JobError{Op: "Remove", JobID: jobID, Err: ErrNotFound}
	}
	if !job.State.IsTerminal() {
		return &JobError{Op: "Remove", JobID: jobID, State: job.State, Err: ErrInvalidState}
	}
	delete(r.jobs, jobID)
	return nil
}

func copyJob(j *Job) Job {
	out := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	if j.Origin != nil {
		o := *j.Origin
		out.Origin = &o
	}
	return out
}
