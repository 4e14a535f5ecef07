package jobregistry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrNotFound indicates the job id is not tracked.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidState indicates the operation is not valid for the job's
	// current status.
	ErrInvalidState = errors.New("invalid job state")

	// ErrInvalidInput indicates a malformed or unsafe URL, name or path.
	ErrInvalidInput = errors.New("invalid input")
)

// JobError wraps registry errors with the operation and job id.
type JobError struct {
	// Op is the operation that failed (e.g., "Get", "Cancel").
	Op string

	// JobID is the job the operation targeted, if any.
	JobID string

	// State is the job's status when the error was raised, if known.
	State JobState

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *JobError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("%s %s: %v (status=%s)", e.Op, e.JobID, e.Err, e.State)
	}
	if e.JobID != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.JobID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *JobError) Unwrap() error {
	return e.Err
}

// InvalidInput builds an ErrInvalidInput with a reason.
func InvalidInput(op, reason string) error {
	return &JobError{Op: op, Err: fmt.Errorf("%w: %s", ErrInvalidInput, reason)}
}

// IsNotFound returns true if the error indicates an unknown job id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalidState returns true if the error indicates a status conflict.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsInvalidInput returns true if the error indicates rejected input.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}
