package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

// DispatchWorkflow triggers a workflow_dispatch event. GitHub does not
// return the id of the run it creates.
func (c *Client) DispatchWorkflow(ctx context.Context, repo Repo, workflowID, ref string, inputs map[string]string) error {
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/dispatches",
		repo.Owner, repo.Name, url.PathEscape(workflowID))

	body := struct {
		Ref    string            `json:"ref"`
		Inputs map[string]string `json:"inputs,omitempty"`
	}{Ref: ref, Inputs: inputs}

	return c.do(ctx, http.MethodPost, path, body, nil)
}

// GetWorkflowRun fetches a single workflow run.
func (c *Client) GetWorkflowRun(ctx context.Context, repo Repo, runID int64) (*models.WorkflowRun, error) {
	path := fmt.Sprintf("/repos/%s/%s/actions/runs/%d", repo.Owner, repo.Name, runID)

	var run models.WorkflowRun
	if err := c.do(ctx, http.MethodGet, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// ListWorkflowRuns lists dispatch-triggered runs of a workflow created at or after since.
func (c *Client) ListWorkflowRuns(ctx context.Context, repo Repo, workflowID string, since time.Time) ([]models.WorkflowRun, error) {
	q := url.Values{}
	q.Set("event", "workflow_dispatch")
	q.Set("per_page", "50")
	if !since.IsZero() {
		q.Set("created", ">="+since.UTC().Format(time.RFC3339))
	}
	path := fmt.Sprintf("/repos/%s/%s/actions/workflows/%s/runs?%s",
		repo.Owner, repo.Name, url.PathEscape(workflowID), q.Encode())

	var resp struct {
		TotalCount   int                  `json:"total_count"`
		WorkflowRuns []models.WorkflowRun `json:"workflow_runs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.WorkflowRuns, nil
}

// ParseRunID parses a workflow run id as carried in build records.
func ParseRunID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid workflow run id %q", s)
	}
	return id, nil
}
