package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/narvanalabs/conflux-builder/internal/dispatch"
	"github.com/narvanalabs/conflux-builder/internal/matcher"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/store"
	"github.com/narvanalabs/conflux-builder/internal/webhook"
)

// EventResult reports how an inbound event was handled. Ignored events are
// not errors.
type EventResult struct {
	Handled  bool
	BuildIDs []string
	Message  string
}

func ignored(msg string) EventResult {
	return EventResult{Message: msg}
}

// HandleWorkflowRun applies a workflow_run event to the build it belongs to.
func (o *Orchestrator) HandleWorkflowRun(ctx context.Context, e *webhook.WorkflowRunEvent) (EventResult, error) {
	if !o.ownRepository(e.Repository) {
		return ignored("event from another repository"), nil
	}
	if e.Action == models.RunStatusRequested {
		return ignored("run requested"), nil
	}

	run := models.WorkflowRun{
		ID:         e.WorkflowRun.ID,
		Name:       e.WorkflowRun.Name,
		Title:      e.WorkflowRun.DisplayTitle,
		Status:     e.WorkflowRun.Status,
		Conclusion: e.WorkflowRun.Conclusion,
		CreatedAt:  e.WorkflowRun.CreatedAt,
	}
	if run.Status == "" {
		run.Status = e.Action
	}

	rec, err := o.findRunRecord(ctx, run)
	if errors.Is(err, store.ErrNotFound) {
		o.logger.Info("no matching build for workflow run",
			"run_id", run.ID,
			"title", run.Title,
		)
		return ignored("no matching build"), nil
	}
	if err != nil {
		return EventResult{}, err
	}

	updated, err := o.applyRun(ctx, rec, run)
	if err != nil {
		return EventResult{}, err
	}
	return EventResult{
		Handled:  true,
		BuildIDs: []string{updated.ID},
		Message:  "build is " + updated.Status.String(),
	}, nil
}

// findRunRecord locates the record of a run by the token in its title,
// falling back to a previously stored run id.
func (o *Orchestrator) findRunRecord(ctx context.Context, run models.WorkflowRun) (*models.BuildRecord, error) {
	runID := strconv.FormatInt(run.ID, 10)

	if token, ok := dispatch.ExtractCorrelationToken(run.Title); ok {
		rec, err := o.builds.FindByCorrelationToken(ctx, token)
		switch {
		case err == nil && (rec.ExternalJobID == "" || rec.ExternalJobID == runID):
			return rec, nil
		case err == nil:
			o.logger.Warn("correlation token bound to another run",
				"build_id", rec.ID,
				"run_id", runID,
				"external_job_id", rec.ExternalJobID,
			)
		case !errors.Is(err, store.ErrNotFound):
			return nil, fmt.Errorf("finding build by token: %w", err)
		}
	}

	rec, err := o.builds.FindByExternalJobID(ctx, runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("finding build by run id: %w", err)
	}
	return rec, err
}

// applyRun maps a run's state onto its record. Every transition is guarded
// so repeated or stale signals never move a record backwards.
func (o *Orchestrator) applyRun(ctx context.Context, rec *models.BuildRecord, run models.WorkflowRun) (*models.BuildRecord, error) {
	runID := store.String(strconv.FormatInt(run.ID, 10))

	switch run.Status {
	case models.RunStatusRequested:
		return rec, nil

	case models.RunStatusInProgress:
		updated, _, err := o.transition(ctx, rec, store.Transition{
			From:              []models.BuildStatus{models.BuildStatusPending, models.BuildStatusInProgress},
			To:                models.BuildStatusInProgress,
			ExternalJobID:     runID,
			KeepExternalJobID: true,
		}, "")
		return updated, err

	case models.RunStatusCompleted:
		return o.applyConclusion(ctx, rec, run, runID)

	default:
		// Queued or waiting: bind the run without changing the status.
		if rec.ExternalJobID != "" {
			return rec, nil
		}
		updated, _, err := o.transition(ctx, rec, store.Transition{
			From:              []models.BuildStatus{models.BuildStatusPending},
			To:                models.BuildStatusPending,
			ExternalJobID:     runID,
			KeepExternalJobID: true,
		}, "run "+run.Status)
		return updated, err
	}
}

func (o *Orchestrator) applyConclusion(ctx context.Context, rec *models.BuildRecord, run models.WorkflowRun, runID *string) (*models.BuildRecord, error) {
	switch run.Conclusion {
	case models.RunConclusionSuccess:
		updated, applied, err := o.transition(ctx, rec, store.Transition{
			From:              []models.BuildStatus{models.BuildStatusPending, models.BuildStatusInProgress},
			To:                models.BuildStatusBuildSuccess,
			ExternalJobID:     runID,
			KeepExternalJobID: true,
		}, "run succeeded")
		if err != nil {
			return nil, err
		}
		if !applied {
			if updated, err = o.Get(ctx, rec.ID); err != nil {
				return nil, err
			}
		}
		if updated.Status != models.BuildStatusBuildSuccess {
			return updated, nil
		}
		completed, _, err := o.tryComplete(ctx, updated)
		if err != nil {
			// The release webhook or the poller will pick it up.
			o.logger.Warn("artifact lookup failed", "build_id", updated.ID, "error", err)
			return updated, nil
		}
		return completed, nil

	case models.RunConclusionFailure, models.RunConclusionCancelled,
		models.RunConclusionTimedOut, models.RunConclusionStartupFailure:
		updated, _, err := o.transition(ctx, rec, store.Transition{
			From:              []models.BuildStatus{models.BuildStatusPending, models.BuildStatusInProgress},
			To:                models.BuildStatusFailed,
			ExternalJobID:     runID,
			KeepExternalJobID: true,
		}, "run "+run.Conclusion)
		return updated, err

	default:
		o.logger.Info("ignoring run conclusion",
			"build_id", rec.ID,
			"conclusion", run.Conclusion,
		)
		return rec, nil
	}
}

// HandleRelease matches the assets of a published release against every
// build of its version and commit that still awaits a download URL.
func (o *Orchestrator) HandleRelease(ctx context.Context, e *webhook.ReleaseEvent) (EventResult, error) {
	if !o.ownRepository(e.Repository) {
		return ignored("event from another repository"), nil
	}
	if !webhook.IsAssetAction(e.Action) {
		return ignored("release action " + e.Action), nil
	}
	if e.Release.Draft {
		return ignored("draft release"), nil
	}

	versionTag, shortSha, ok := webhook.ParseReleaseTag(e.Release.TagName)
	if !ok {
		o.logger.Info("release tag not recognized", "tag", e.Release.TagName)
		return ignored("release tag not recognized"), nil
	}

	o.releases.InvalidateRelease(e.Release.TagName)

	records, err := o.builds.ListAwaitingDownload(ctx, versionTag, shortSha)
	if err != nil {
		return EventResult{}, fmt.Errorf("listing builds awaiting %s: %w", e.Release.TagName, err)
	}

	assets := make([]models.Artifact, 0, len(e.Release.Assets))
	for _, a := range e.Release.Assets {
		assets = append(assets, models.Artifact{Name: a.Name, DownloadURL: a.BrowserDownloadURL, SizeBytes: a.Size})
	}

	result := EventResult{Handled: true}
	for _, rec := range records {
		a, ok := matcher.FindMatch(assets, rec.Criteria)
		if !ok {
			continue
		}
		updated, applied, err := o.complete(ctx, rec, a)
		if err != nil {
			return EventResult{}, err
		}
		if applied {
			result.BuildIDs = append(result.BuildIDs, updated.ID)
		}
	}

	result.Message = fmt.Sprintf("%d of %d waiting builds completed", len(result.BuildIDs), len(records))
	o.logger.Info("release processed",
		"tag", e.Release.TagName,
		"waiting", len(records),
		"completed", len(result.BuildIDs),
	)
	return result, nil
}

func (o *Orchestrator) ownRepository(r webhook.Repository) bool {
	if r.FullName == "" || o.cfg.BuilderRepo.Owner == "" {
		return true
	}
	return strings.EqualFold(r.FullName, o.cfg.BuilderRepo.String())
}
