// Package orchestrator drives build records through their lifecycle: it
// accepts build requests, dispatches CI runs, and reconciles webhook and
// polled signals into conditional state transitions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/narvanalabs/conflux-builder/internal/events"
	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/store"
	"github.com/narvanalabs/conflux-builder/internal/validation"
)

// DefaultReleaseWaitTimeout bounds how long a successful build may wait for
// its artifact.
const DefaultReleaseWaitTimeout = 2 * time.Hour

// DefaultTimeouts returns how long a record of each OS may stay unresolved.
func DefaultTimeouts() map[models.OS]time.Duration {
	return map[models.OS]time.Duration{
		models.OSWindows: 30 * time.Minute,
		models.OSLinux:   20 * time.Minute,
		models.OSMacOS:   15 * time.Minute,
	}
}

// Dispatcher starts CI runs tagged with a correlation token.
type Dispatcher interface {
	NewToken() (string, error)
	Dispatch(ctx context.Context, c models.Criteria, token string) error
	Workflow(os models.OS) (string, bool)
}

// Releases resolves commits and published artifacts.
type Releases interface {
	CommitForTag(ctx context.Context, versionTag string) (string, error)
	FindArtifact(ctx context.Context, c models.Criteria) (models.Artifact, bool, error)
	InvalidateRelease(releaseTag string)
}

// WorkflowRuns queries CI runs.
type WorkflowRuns interface {
	GetWorkflowRun(ctx context.Context, repo github.Repo, runID int64) (*models.WorkflowRun, error)
	ListWorkflowRuns(ctx context.Context, repo github.Repo, workflowID string, since time.Time) ([]models.WorkflowRun, error)
}

// Config holds the orchestrator configuration.
type Config struct {
	// BuilderRepo runs the workflows and publishes the artifacts. Events
	// from other repositories are ignored.
	BuilderRepo        github.Repo
	Timeouts           map[models.OS]time.Duration
	ReleaseWaitTimeout time.Duration
	GlibcVersions      []string
}

// Deps are the collaborators of an Orchestrator. Broker and Logger are optional.
type Deps struct {
	Builds     store.BuildStore
	Dispatcher Dispatcher
	Releases   Releases
	Runs       WorkflowRuns
	Broker     *events.Broker
	Logger     *slog.Logger
}

// Orchestrator owns the build record lifecycle.
type Orchestrator struct {
	builds     store.BuildStore
	dispatcher Dispatcher
	releases   Releases
	runs       WorkflowRuns
	broker     *events.Broker
	validator  *validation.CriteriaValidator
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Orchestrator.
func New(deps Deps, cfg Config) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeouts := DefaultTimeouts()
	for os, d := range cfg.Timeouts {
		if d > 0 {
			timeouts[os] = d
		}
	}
	cfg.Timeouts = timeouts
	if cfg.ReleaseWaitTimeout == 0 {
		cfg.ReleaseWaitTimeout = DefaultReleaseWaitTimeout
	}
	return &Orchestrator{
		builds:     deps.Builds,
		dispatcher: deps.Dispatcher,
		releases:   deps.Releases,
		runs:       deps.Runs,
		broker:     deps.Broker,
		validator:  validation.NewCriteriaValidator(cfg.GlibcVersions),
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// Validator returns the criteria validator in use.
func (o *Orchestrator) Validator() *validation.CriteriaValidator {
	return o.validator
}

// Timeout returns how long a record of the OS may stay without a resolved run.
func (o *Orchestrator) Timeout(os models.OS) time.Duration {
	return o.cfg.Timeouts[os]
}

// Get retrieves a build record.
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.BuildRecord, error) {
	rec, err := o.builds.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("build %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting build %s: %w", id, err)
	}
	return rec, nil
}

// transition applies a conditional transition. A rejected guard is not an
// error: it returns the record unchanged and applied=false.
func (o *Orchestrator) transition(ctx context.Context, rec *models.BuildRecord, t store.Transition, reason string) (*models.BuildRecord, bool, error) {
	updated, err := o.builds.Transition(ctx, rec.ID, t)
	if errors.Is(err, store.ErrTransitionRejected) {
		o.logger.Debug("transition rejected",
			"build_id", rec.ID,
			"status", rec.Status,
			"to", t.To,
		)
		return rec, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("transitioning build %s to %s: %w", rec.ID, t.To, err)
	}

	attrs := []any{
		"build_id", updated.ID,
		"from", rec.Status,
		"to", updated.Status,
	}
	if reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if updated.Status == models.BuildStatusFailed {
		o.logger.Warn("build transitioned", attrs...)
	} else {
		o.logger.Info("build transitioned", attrs...)
	}

	o.publish(updated, reason)
	return updated, true, nil
}

// fail moves an active record to failed.
func (o *Orchestrator) fail(ctx context.Context, rec *models.BuildRecord, cause error) (*models.BuildRecord, error) {
	updated, _, err := o.transition(ctx, rec, store.Transition{
		From: models.ActiveBuildStatuses(),
		To:   models.BuildStatusFailed,
	}, cause.Error())
	return updated, err
}

// complete records a located artifact. Records that already have a
// download URL are left alone.
func (o *Orchestrator) complete(ctx context.Context, rec *models.BuildRecord, a models.Artifact) (*models.BuildRecord, bool, error) {
	return o.transition(ctx, rec, store.Transition{
		From:                 models.ActiveBuildStatuses(),
		To:                   models.BuildStatusCompleted,
		DownloadURL:          store.String(a.DownloadURL),
		RequireNoDownloadURL: true,
	}, "artifact "+a.Name)
}

// tryComplete looks for the record's artifact on its release.
func (o *Orchestrator) tryComplete(ctx context.Context, rec *models.BuildRecord) (*models.BuildRecord, bool, error) {
	a, ok, err := o.releases.FindArtifact(ctx, rec.Criteria)
	if err != nil {
		return rec, false, fmt.Errorf("finding artifact for build %s: %w", rec.ID, err)
	}
	if !ok {
		return rec, false, nil
	}
	return o.complete(ctx, rec, a)
}

func (o *Orchestrator) publish(rec *models.BuildRecord, reason string) {
	if o.broker != nil {
		o.broker.Publish(events.FromRecord(rec, reason))
	}
}
