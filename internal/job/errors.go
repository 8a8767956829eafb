package job

import (
	"errors"
	"fmt"
)

// ErrUnknownJob is returned for a job id the registry never issued.
var ErrUnknownJob = errors.New("unknown job id")

// ErrSelfWait is returned when a job waits for its own completion.
// Self-wait is a programming error, not a transient condition.
var ErrSelfWait = errors.New("job cannot wait for itself")

// FailedError wraps the original cause of a failed job. Retrieving a
// failed job's result surfaces it; the failure never satisfies future
// cache matches.
type FailedError struct {
	JobID string
	Cause error
}

// Error implements the error interface.
func (e *FailedError) Error() string {
	return fmt.Sprintf("job %s failed: %v", e.JobID, e.Cause)
}

// Unwrap exposes the original cause.
func (e *FailedError) Unwrap() error { return e.Cause }

// IsFailed reports whether err carries a job failure.
func IsFailed(err error) bool {
	var fe *FailedError
	return errors.As(err, &fe)
}

// AmbiguityError reports more than one distinct job record matching one
// inputs manifest. This is a storage-layer invariant violation and
// fatal, not recoverable.
type AmbiguityError struct {
	Message   string
	JobHashes []string
}

// Error implements the error interface.
func (e *AmbiguityError) Error() string {
	return fmt.Sprintf("AMBIGUOUS: %s (%d job records)", e.Message, len(e.JobHashes))
}

// IsAmbiguityError reports whether err is a multi-record match.
func IsAmbiguityError(err error) bool {
	var ae *AmbiguityError
	return errors.As(err, &ae)
}
