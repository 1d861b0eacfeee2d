package models

import "time"

// BuildStatus represents the lifecycle state of a build record.
type BuildStatus string

const (
	// BuildStatusPending indicates the record exists and a dispatch is outstanding
	// or has been accepted but the CI run has not reported progress.
	BuildStatusPending BuildStatus = "pending"
	// BuildStatusInProgress indicates the CI run is executing.
	BuildStatusInProgress BuildStatus = "in_progress"
	// BuildStatusBuildSuccess indicates the CI run succeeded and the artifact
	// has not been located yet.
	BuildStatusBuildSuccess BuildStatus = "build_success"
	// BuildStatusCompleted indicates a download URL is known.
	BuildStatusCompleted BuildStatus = "completed"
	BuildStatusFailed    BuildStatus = "failed"
	// BuildStatusCancelled is reserved; nothing transitions into it today.
	BuildStatusCancelled BuildStatus = "cancelled"
)

// String returns the string representation of the status.
func (s BuildStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known lifecycle state.
func (s BuildStatus) IsValid() bool {
	switch s {
	case BuildStatusPending, BuildStatusInProgress, BuildStatusBuildSuccess,
		BuildStatusCompleted, BuildStatusFailed, BuildStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive returns true while the CI run may still change the record.
func (s BuildStatus) IsActive() bool {
	switch s {
	case BuildStatusPending, BuildStatusInProgress, BuildStatusBuildSuccess:
		return true
	default:
		return false
	}
}

// IsRetryable returns true if a user may re-dispatch a record in this state.
func (s BuildStatus) IsRetryable() bool {
	return s == BuildStatusFailed || s == BuildStatusCancelled
}

// ActiveBuildStatuses returns the states watched by the reconciler.
func ActiveBuildStatuses() []BuildStatus {
	return []BuildStatus{BuildStatusPending, BuildStatusInProgress, BuildStatusBuildSuccess}
}

// RetryableBuildStatuses returns the states a retry may start from.
func RetryableBuildStatuses() []BuildStatus {
	return []BuildStatus{BuildStatusFailed, BuildStatusCancelled}
}

// ValidBuildStatuses returns every lifecycle state.
func ValidBuildStatuses() []BuildStatus {
	return []BuildStatus{
		BuildStatusPending,
		BuildStatusInProgress,
		BuildStatusBuildSuccess,
		BuildStatusCompleted,
		BuildStatusFailed,
		BuildStatusCancelled,
	}
}

// BuildRecord is the persisted state of one build request.
type BuildRecord struct {
	ID string `json:"id"`
	Criteria
	Status BuildStatus `json:"status"`
	// CorrelationToken is embedded in the CI run title so run events can be
	// attributed back to this record.
	CorrelationToken string `json:"correlation_token,omitempty"`
	// ExternalJobID is the CI run id, set once it is resolved.
	ExternalJobID    string    `json:"external_job_id,omitempty"`
	DownloadURL      string    `json:"download_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	AttemptStartedAt time.Time `json:"attempt_started_at"`
}

// Artifact is a downloadable file attached to a release.
type Artifact struct {
	Name        string `json:"name"`
	DownloadURL string `json:"download_url"`
	SizeBytes   int64  `json:"size_bytes"`
}
