package display

import "errors"

var (
	// ErrAlreadyActive is returned when a DisplaySession already exists for
	// the workflow. Surfaced immediately to the caller, never retried.
	ErrAlreadyActive = errors.New("display session already active for workflow")

	// ErrCapacityExceeded is returned when the process-wide concurrent
	// session ceiling is reached.
	ErrCapacityExceeded = errors.New("display session capacity exceeded")

	// ErrSessionNotFound is returned for operations on unknown session ids.
	ErrSessionNotFound = errors.New("display session not found")
)
