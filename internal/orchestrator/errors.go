package orchestrator

import "errors"

var (
	// ErrNotFound is returned when a build, tag or release does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotRetryable is returned when a retry targets a record that is not
	// failed or cancelled.
	ErrNotRetryable = errors.New("build is not in a retryable state")

	// ErrCorrelationTimeout is the failure reason of records whose CI run
	// could not be identified within the OS timeout.
	ErrCorrelationTimeout = errors.New("workflow run was not found before the timeout")

	// ErrReleaseWaitTimeout is the failure reason of successful builds whose
	// artifact never appeared on the release.
	ErrReleaseWaitTimeout = errors.New("artifact was not published before the timeout")

	// ErrRunUnavailable is the failure reason of records whose CI run could
	// not be queried before the OS timeout.
	ErrRunUnavailable = errors.New("workflow run could not be queried before the timeout")
)
