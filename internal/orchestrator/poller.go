package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/narvanalabs/conflux-builder/internal/dispatch"
	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/models"
)

// Poller defaults.
const (
	DefaultPollInterval    = time.Minute
	DefaultPollConcurrency = 4
)

// runLookback widens the run search window to absorb clock skew between
// this host and the CI host.
const runLookback = 2 * time.Minute

// Poller periodically reconciles every active build with the CI host. It
// covers lost webhook deliveries and enforces the OS timeouts.
type Poller struct {
	orch        *Orchestrator
	interval    time.Duration
	concurrency int
	logger      *slog.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
}

// NewPoller creates a Poller.
func NewPoller(orch *Orchestrator, interval time.Duration, concurrency int, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if concurrency <= 0 {
		concurrency = DefaultPollConcurrency
	}
	return &Poller{
		orch:        orch,
		interval:    interval,
		concurrency: concurrency,
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start runs the reconciliation loop until ctx is cancelled or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	stop := p.stopChan
	p.mu.Unlock()

	p.logger.Info("starting build poller",
		"interval", p.interval,
		"concurrency", p.concurrency,
	)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("build poller stopped by context")
			return ctx.Err()
		case <-stop:
			p.logger.Info("build poller stopped")
			return nil
		case <-ticker.C:
			if err := p.Reconcile(ctx); err != nil {
				p.logger.Error("reconciliation pass failed", "error", err)
			}
		}
	}
}

// Stop stops the poller.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		close(p.stopChan)
		p.running = false
	}
}

// Reconcile runs one pass over every active build. Failures of single
// records are logged and do not abort the pass.
func (p *Poller) Reconcile(ctx context.Context) error {
	records, err := p.orch.builds.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("listing active builds: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	p.logger.Debug("reconciling builds", "count", len(records))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, rec := range records {
		rec := rec
		g.Go(func() error {
			if err := p.orch.ReconcileBuild(gctx, rec); err != nil {
				p.logger.Error("failed to reconcile build",
					"build_id", rec.ID,
					"status", rec.Status,
					"error", err,
				)
			}
			return nil
		})
	}
	return g.Wait()
}

// ReconcileBuild checks one active record against the CI host and its
// release, applying the OS timeout to records whose run cannot be resolved.
func (o *Orchestrator) ReconcileBuild(ctx context.Context, rec *models.BuildRecord) error {
	now := o.now()

	if rec.Status == models.BuildStatusBuildSuccess {
		updated, completed, err := o.tryComplete(ctx, rec)
		if err != nil || completed {
			return err
		}
		if o.cfg.ReleaseWaitTimeout > 0 && now.Sub(updated.UpdatedAt) > o.cfg.ReleaseWaitTimeout {
			_, err := o.fail(ctx, updated, ErrReleaseWaitTimeout)
			return err
		}
		return nil
	}

	expired := now.Sub(rec.AttemptStartedAt) > o.Timeout(rec.OS)

	if rec.ExternalJobID == "" {
		run, err := o.findRun(ctx, rec)
		if err != nil {
			if expired {
				_, ferr := o.fail(ctx, rec, ErrRunUnavailable)
				return ferr
			}
			return err
		}
		if run == nil {
			if expired {
				_, err := o.fail(ctx, rec, ErrCorrelationTimeout)
				return err
			}
			return nil
		}
		_, err = o.applyRun(ctx, rec, *run)
		return err
	}

	runID, err := github.ParseRunID(rec.ExternalJobID)
	if err != nil {
		return err
	}
	run, err := o.runs.GetWorkflowRun(ctx, o.cfg.BuilderRepo, runID)
	if err != nil {
		if expired {
			_, ferr := o.fail(ctx, rec, ErrRunUnavailable)
			return ferr
		}
		return fmt.Errorf("querying run %d: %w", runID, err)
	}
	_, err = o.applyRun(ctx, rec, *run)
	return err
}

// findRun searches the record's workflow for the run carrying its
// correlation token. It returns nil when no such run exists yet.
func (o *Orchestrator) findRun(ctx context.Context, rec *models.BuildRecord) (*models.WorkflowRun, error) {
	if rec.CorrelationToken == "" {
		return nil, nil
	}
	workflow, ok := o.dispatcher.Workflow(rec.OS)
	if !ok {
		return nil, fmt.Errorf("no workflow configured for os %q", rec.OS)
	}

	runs, err := o.runs.ListWorkflowRuns(ctx, o.cfg.BuilderRepo, workflow, rec.AttemptStartedAt.Add(-runLookback))
	if err != nil {
		return nil, fmt.Errorf("listing runs of %s: %w", workflow, err)
	}
	for i := range runs {
		if token, ok := dispatch.ExtractCorrelationToken(runs[i].Title); ok && token == rec.CorrelationToken {
			o.logger.Info("resolved workflow run",
				"build_id", rec.ID,
				"run_id", strconv.FormatInt(runs[i].ID, 10),
			)
			return &runs[i], nil
		}
	}
	return nil, nil
}
