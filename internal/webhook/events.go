package webhook

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Event names carried in the X-GitHub-Event header.
const (
	EventPing        = "ping"
	EventWorkflowRun = "workflow_run"
	EventRelease     = "release"
)

// Release actions that may publish new assets.
const (
	ReleaseActionPublished   = "published"
	ReleaseActionEdited      = "edited"
	ReleaseActionPrereleased = "prereleased"
)

// Repository identifies the repository an event originated from.
type Repository struct {
	FullName string `json:"full_name"`
}

// WorkflowRun is the workflow_run object of a workflow_run event.
type WorkflowRun struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	DisplayTitle string    `json:"display_title"`
	Status       string    `json:"status"`
	Conclusion   string    `json:"conclusion"`
	HeadBranch   string    `json:"head_branch"`
	Event        string    `json:"event"`
	CreatedAt    time.Time `json:"created_at"`
}

// WorkflowRunEvent is the payload of a workflow_run delivery.
type WorkflowRunEvent struct {
	Action      string      `json:"action"`
	WorkflowRun WorkflowRun `json:"workflow_run"`
	Repository  Repository  `json:"repository"`
}

// ReleaseAsset is a file attached to a release.
type ReleaseAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
	Size               int64  `json:"size"`
}

// Release is the release object of a release event.
type Release struct {
	ID         int64          `json:"id"`
	TagName    string         `json:"tag_name"`
	Draft      bool           `json:"draft"`
	Prerelease bool           `json:"prerelease"`
	Assets     []ReleaseAsset `json:"assets"`
}

// ReleaseEvent is the payload of a release delivery.
type ReleaseEvent struct {
	Action     string     `json:"action"`
	Release    Release    `json:"release"`
	Repository Repository `json:"repository"`
}

// ParseWorkflowRunEvent decodes a workflow_run payload.
func ParseWorkflowRunEvent(payload []byte) (*WorkflowRunEvent, error) {
	var e WorkflowRunEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decoding workflow_run event: %w", err)
	}
	if e.WorkflowRun.ID == 0 {
		return nil, fmt.Errorf("decoding workflow_run event: missing workflow_run.id")
	}
	return &e, nil
}

// ParseReleaseEvent decodes a release payload.
func ParseReleaseEvent(payload []byte) (*ReleaseEvent, error) {
	var e ReleaseEvent
	if err := json.Unmarshal(payload, &e); err != nil {
		return nil, fmt.Errorf("decoding release event: %w", err)
	}
	if e.Release.TagName == "" {
		return nil, fmt.Errorf("decoding release event: missing release.tag_name")
	}
	return &e, nil
}

// IsAssetAction reports whether a release action can carry new assets.
func IsAssetAction(action string) bool {
	switch action {
	case ReleaseActionPublished, ReleaseActionEdited, ReleaseActionPrereleased:
		return true
	default:
		return false
	}
}

// releaseTagRegex splits "<version>-<sha7>" release tags.
var releaseTagRegex = regexp.MustCompile(`^(.+)-([a-f0-9]{7})$`)

// ParseReleaseTag splits a release tag into version tag and short commit sha.
func ParseReleaseTag(tag string) (versionTag, shortSha string, ok bool) {
	m := releaseTagRegex.FindStringSubmatch(tag)
	if m == nil {
		return "", "", false
	}
	return m[1], m[2], true
}
