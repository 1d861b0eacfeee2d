package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/releases"
	"github.com/narvanalabs/conflux-builder/internal/store"
	"github.com/narvanalabs/conflux-builder/internal/validation"
)

// Outcome describes what a submission or retry did.
type Outcome string

const (
	// OutcomeCreated means a new record was created and its run dispatched.
	OutcomeCreated Outcome = "created"
	// OutcomeAvailable means a matching artifact was already published.
	OutcomeAvailable Outcome = "available"
	// OutcomeAlreadyInProgress means an equivalent build is underway.
	OutcomeAlreadyInProgress Outcome = "already_in_progress"
	// OutcomeAlreadyCompleted means an equivalent build already finished.
	OutcomeAlreadyCompleted Outcome = "already_completed"
	// OutcomeRetried means a failed equivalent build was dispatched again.
	OutcomeRetried Outcome = "retried"
	// OutcomeDispatchFailed means the record exists but its run could not
	// be started; the record is failed and may be retried.
	OutcomeDispatchFailed Outcome = "dispatch_failed"
)

// Result is the answer to a submission or retry.
type Result struct {
	Build   *models.BuildRecord
	Outcome Outcome
	Message string
}

// Submit validates a build request and makes sure exactly one record exists
// for its equivalence class, dispatching a CI run when a new build is needed.
//
// Validation failures are returned as validation.ValidationErrors. An unknown
// version tag wraps ErrNotFound. Dispatch failures are not errors: the
// result carries the failed record.
func (o *Orchestrator) Submit(ctx context.Context, req validation.BuildRequest) (*Result, error) {
	c, err := o.validator.Validate(req)
	if err != nil {
		return nil, err
	}

	if c.CommitSha == "" {
		sha, err := o.releases.CommitForTag(ctx, c.VersionTag)
		if errors.Is(err, releases.ErrTagNotFound) {
			return nil, fmt.Errorf("tag %s: %w", c.VersionTag, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		c.CommitSha = sha
	}

	return o.submit(ctx, c)
}

func (o *Orchestrator) submit(ctx context.Context, c models.Criteria) (*Result, error) {
	existing, err := o.builds.FindEquivalent(ctx, c)
	switch {
	case err == nil:
		if existing.Status.IsRetryable() {
			return o.retry(ctx, existing)
		}
		return existingResult(existing), nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("finding equivalent build: %w", err)
	}

	if a, ok, err := o.releases.FindArtifact(ctx, c); err != nil {
		o.logger.Warn("artifact lookup failed, dispatching build",
			"release_tag", c.ReleaseTag(),
			"error", err,
		)
	} else if ok {
		rec, err := o.builds.CreateCompleted(ctx, c, a.DownloadURL)
		if errors.Is(err, store.ErrDuplicate) {
			return o.winner(ctx, c)
		}
		if err != nil {
			return nil, fmt.Errorf("recording available build: %w", err)
		}
		o.logger.Info("build already available", "build_id", rec.ID, "artifact", a.Name)
		o.publish(rec, "artifact "+a.Name)
		return &Result{Build: rec, Outcome: OutcomeAvailable, Message: "build is already available"}, nil
	}

	token, err := o.dispatcher.NewToken()
	if err != nil {
		return nil, fmt.Errorf("creating build: %w", err)
	}

	rec, err := o.builds.CreatePending(ctx, c)
	if errors.Is(err, store.ErrDuplicate) {
		return o.winner(ctx, c)
	}
	if err != nil {
		return nil, fmt.Errorf("creating build: %w", err)
	}
	o.logger.Info("build created",
		"build_id", rec.ID,
		"version_tag", c.VersionTag,
		"os", c.OS,
		"arch", c.Arch,
	)
	o.publish(rec, "")

	// The token is stored before the run starts, so no event of the run can
	// arrive for a record that does not carry it yet.
	tokened, applied, err := o.transition(ctx, rec, store.Transition{
		From:             []models.BuildStatus{models.BuildStatusPending},
		To:               models.BuildStatusPending,
		CorrelationToken: store.String(token),
	}, "token assigned")
	if err != nil {
		o.logger.Error("failed to store correlation token, build not dispatched",
			"build_id", rec.ID,
			"error", err,
		)
		return nil, err
	}
	if !applied {
		current, err := o.Get(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		return existingResult(current), nil
	}

	return o.dispatch(ctx, tokened, OutcomeCreated)
}

// winner reads the record of a concurrent submission that won the insert.
func (o *Orchestrator) winner(ctx context.Context, c models.Criteria) (*Result, error) {
	rec, err := o.builds.FindEquivalent(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("reading concurrent build: %w", err)
	}
	return existingResult(rec), nil
}

func existingResult(rec *models.BuildRecord) *Result {
	if rec.Status == models.BuildStatusCompleted {
		return &Result{Build: rec, Outcome: OutcomeAlreadyCompleted, Message: "build already completed"}
	}
	return &Result{Build: rec, Outcome: OutcomeAlreadyInProgress, Message: "build already in progress"}
}

// Retry re-dispatches a failed or cancelled build.
func (o *Orchestrator) Retry(ctx context.Context, id string) (*Result, error) {
	rec, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !rec.Status.IsRetryable() {
		return nil, fmt.Errorf("build %s is %s: %w", id, rec.Status, ErrNotRetryable)
	}
	return o.retry(ctx, rec)
}

// retry claims a retryable record for a new attempt. The claim replaces the
// correlation token and clears the run id of the previous attempt, so its
// late events no longer match the record while the new run's events do.
func (o *Orchestrator) retry(ctx context.Context, rec *models.BuildRecord) (*Result, error) {
	token, err := o.dispatcher.NewToken()
	if err != nil {
		return nil, fmt.Errorf("retrying build %s: %w", rec.ID, err)
	}

	claimed, applied, err := o.transition(ctx, rec, store.Transition{
		From:             models.RetryableBuildStatuses(),
		To:               models.BuildStatusPending,
		CorrelationToken: store.String(token),
		ExternalJobID:    store.String(""),
		DownloadURL:      store.String(""),
		ResetAttempt:     true,
	}, "retry")
	if err != nil {
		return nil, err
	}
	if !applied {
		// Another request claimed the record first.
		current, err := o.Get(ctx, rec.ID)
		if err != nil {
			return nil, err
		}
		return existingResult(current), nil
	}
	return o.dispatch(ctx, claimed, OutcomeRetried)
}

// dispatch starts the CI run of a pending record whose correlation token is
// already stored. A failed dispatch fails the record.
func (o *Orchestrator) dispatch(ctx context.Context, rec *models.BuildRecord, outcome Outcome) (*Result, error) {
	if err := o.dispatcher.Dispatch(ctx, rec.Criteria, rec.CorrelationToken); err != nil {
		o.logger.Error("dispatch failed", "build_id", rec.ID, "error", err)
		failed, applied, terr := o.transition(ctx, rec, store.Transition{
			From: []models.BuildStatus{models.BuildStatusPending},
			To:   models.BuildStatusFailed,
		}, err.Error())
		if terr != nil {
			return nil, terr
		}
		if !applied {
			if failed, terr = o.Get(ctx, rec.ID); terr != nil {
				return nil, terr
			}
		}
		return &Result{Build: failed, Outcome: OutcomeDispatchFailed, Message: err.Error()}, nil
	}

	msg := "build dispatched"
	if outcome == OutcomeRetried {
		msg = "build dispatched again"
	}
	return &Result{Build: rec, Outcome: outcome, Message: msg}, nil
}
