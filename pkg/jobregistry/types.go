package jobregistry

import "time"

// JobState is the lifecycle state of a fetch job.
//
// NOTE: These values are returned verbatim by the HTTP API and are part of
// the stable client contract.
type JobState string

const (
	JobStateQueued      JobState = "queued"
	JobStateDownloading JobState = "downloading"
	JobStateCancelling  JobState = "cancelling"
	JobStateCompleted   JobState = "completed"
	JobStateCancelled   JobState = "cancelled"
	JobStateError       JobState = "error"
)

// IsTerminal reports whether no further transitions can occur.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateCancelled || s == JobStateError
}

// IsCancellable reports whether a cancel request is valid in this state.
// Cancelling is included so duplicate requests stay idempotent.
func (s JobState) IsCancellable() bool {
	return s == JobStateQueued || s == JobStateDownloading || s == JobStateCancelling
}

// transitions lists the allowed forward edges of the state machine.
var transitions = map[JobState][]JobState{
	JobStateQueued:      {JobStateDownloading, JobStateCancelling},
	JobStateDownloading: {JobStateCancelling, JobStateCompleted, JobStateError},
	JobStateCancelling:  {JobStateCancelled},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to JobState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Origin is a best-effort description of who submitted a job.
//
// It is informational only and never used for authorization.
type Origin struct {
	RemoteAddr   string `json:"remote_addr,omitempty"`
	HardwareAddr string `json:"hardware_addr,omitempty"`
}

// Job is the in-memory record of one fetch request.
//
// Records handed out by the Registry are copies; mutate through Registry
// methods only.
type Job struct {
	JobID         string     `json:"download_id"`
	SourceURL     string     `json:"url"`
	State         JobState   `json:"status"`
	Progress      int        `json:"progress"`
	Title         string     `json:"title,omitempty"`
	ErrorMessage  string     `json:"error,omitempty"`
	ResultMessage string     `json:"result_message,omitempty"`
	OutputDir     string     `json:"output_dir,omitempty"`
	Batch         bool       `json:"batch,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Origin        *Origin    `json:"origin,omitempty"`
}

// Outcome describes how a worker run ended.
type Outcome struct {
	State         JobState
	Title         string
	ErrorMessage  string
	ResultMessage string
}
