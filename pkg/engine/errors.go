package engine

import (
	"errors"
	"strings"
)

// CancelledMessage is the failure message engines use when a fetch is
// aborted by the cancellation probe.
const CancelledMessage = "Download cancelled by user"

// Cancelled returns the error an engine reports for a user-initiated abort.
func Cancelled() error {
	return errors.New(CancelledMessage)
}

// IsCancellation reports whether err is a user-initiated abort.
//
// Engines do not expose a structured cancellation error, so this is the
// single place that inspects failure messages.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, strings.ToLower(CancelledMessage))
}

// Failure wraps an engine error with the source URL.
type Failure struct {
	URL string
	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.URL == "" {
		return f.Err.Error()
	}
	return f.Err.Error() + " (" + f.URL + ")"
}

// Unwrap returns the underlying error.
func (f *Failure) Unwrap() error {
	return f.Err
}
