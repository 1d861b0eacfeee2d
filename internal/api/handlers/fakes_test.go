package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/orchestrator"
	"github.com/narvanalabs/conflux-builder/internal/releases"
	"github.com/narvanalabs/conflux-builder/internal/validation"
	"github.com/narvanalabs/conflux-builder/internal/webhook"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBuilds implements BuildService over an in-memory map.
type fakeBuilds struct {
	mu        sync.Mutex
	records   map[string]*models.BuildRecord
	submitRes *orchestrator.Result
	submitErr error
	retryRes  *orchestrator.Result
	retryErr  error
	submitted []validation.BuildRequest
}

func newFakeBuilds() *fakeBuilds {
	return &fakeBuilds{records: make(map[string]*models.BuildRecord)}
}

func (f *fakeBuilds) put(rec *models.BuildRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[rec.ID] = rec
}

func (f *fakeBuilds) Submit(_ context.Context, req validation.BuildRequest) (*orchestrator.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.submitRes, f.submitErr
}

func (f *fakeBuilds) Get(_ context.Context, id string) (*models.BuildRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return nil, fmt.Errorf("build %s: %w", id, orchestrator.ErrNotFound)
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeBuilds) Retry(_ context.Context, id string) (*orchestrator.Result, error) {
	return f.retryRes, f.retryErr
}

// fakeEvents records the events handed to it.
type fakeEvents struct {
	mu       sync.Mutex
	runs     []*webhook.WorkflowRunEvent
	releases []*webhook.ReleaseEvent
	result   orchestrator.EventResult
	err      error
}

func (f *fakeEvents) HandleWorkflowRun(_ context.Context, e *webhook.WorkflowRunEvent) (orchestrator.EventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, e)
	return f.result, f.err
}

func (f *fakeEvents) HandleRelease(_ context.Context, e *webhook.ReleaseEvent) (orchestrator.EventResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, e)
	return f.result, f.err
}

// fakeReleases serves fixed releases and tags.
type fakeReleases struct {
	releases map[string]*models.Release
	tags     []models.Tag
	err      error
}

func (f *fakeReleases) ReleaseByTag(_ context.Context, tag string) (*models.Release, error) {
	if f.err != nil {
		return nil, f.err
	}
	rel, ok := f.releases[tag]
	if !ok {
		return nil, fmt.Errorf("release %s: %w", tag, releases.ErrReleaseNotFound)
	}
	return rel, nil
}

func (f *fakeReleases) ListTags(context.Context) ([]models.Tag, error) {
	return f.tags, f.err
}

const testSha = "0123456789abcdef0123456789abcdef01234567"

func testRecord(id string, status models.BuildStatus) *models.BuildRecord {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &models.BuildRecord{
		ID: id,
		Criteria: models.Criteria{
			VersionTag:     "v2.4.0",
			CommitSha:      testSha,
			OS:             models.OSLinux,
			Arch:           models.ArchX86_64,
			StaticOpenssl:  true,
			GlibcVersion:   models.DefaultGlibcVersion,
			OpensslVersion: models.DefaultOpensslVersion,
		},
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
		AttemptStartedAt: now,
	}
}
