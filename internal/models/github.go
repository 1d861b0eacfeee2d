package models

import "time"

// Release is a published release of the builder repository.
type Release struct {
	ID          int64      `json:"id"`
	TagName     string     `json:"tag_name"`
	Name        string     `json:"name"`
	HTMLURL     string     `json:"html_url"`
	Draft       bool       `json:"draft"`
	Prerelease  bool       `json:"prerelease"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Assets      []Artifact `json:"assets"`
}

// Tag is a version tag of the source repository.
type Tag struct {
	Name      string    `json:"name" db:"name"`
	CommitSha string    `json:"commit_sha" db:"commit_sha"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// WorkflowRun is the CI view of a dispatched job.
type WorkflowRun struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Title      string    `json:"display_title"`
	Status     string    `json:"status"`
	Conclusion string    `json:"conclusion"`
	HTMLURL    string    `json:"html_url"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Workflow run statuses reported by the CI host.
const (
	RunStatusRequested  = "requested"
	RunStatusQueued     = "queued"
	RunStatusInProgress = "in_progress"
	RunStatusCompleted  = "completed"
)

// Workflow run conclusions reported by the CI host.
const (
	RunConclusionSuccess        = "success"
	RunConclusionFailure        = "failure"
	RunConclusionCancelled      = "cancelled"
	RunConclusionTimedOut       = "timed_out"
	RunConclusionStartupFailure = "startup_failure"
)
