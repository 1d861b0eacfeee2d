package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/narvanalabs/conflux-builder/internal/dispatch"
	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/matcher"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/releases"
	"github.com/narvanalabs/conflux-builder/internal/store"
	"github.com/narvanalabs/conflux-builder/internal/store/memory"
	"github.com/narvanalabs/conflux-builder/internal/validation"
	"github.com/narvanalabs/conflux-builder/internal/webhook"
)

const testSha = "0123456789abcdef0123456789abcdef01234567"

var errUpstream = errors.New("upstream unavailable")

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []models.Criteria
	tokens []string
	issued int
	err    error
	// onDispatch runs before a dispatch is recorded, with the lock released.
	onDispatch func(c models.Criteria, token string)
}

func (f *fakeDispatcher) NewToken() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return fmt.Sprintf("tk%03d", f.issued), nil
}

func (f *fakeDispatcher) Dispatch(_ context.Context, c models.Criteria, token string) error {
	f.mu.Lock()
	hook := f.onDispatch
	f.mu.Unlock()
	if hook != nil {
		hook(c, token)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	f.tokens = append(f.tokens, token)
	if f.err != nil {
		return &dispatch.DispatchError{OS: c.OS, Workflow: string(c.OS) + ".yml", Err: f.err}
	}
	return nil
}

func (f *fakeDispatcher) Workflow(os models.OS) (string, bool) {
	return string(os) + ".yml", os.IsValid()
}

func (f *fakeDispatcher) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// failingTokenStore rejects every transition that sets a correlation token.
type failingTokenStore struct {
	store.BuildStore
	err error
}

func (f *failingTokenStore) Transition(ctx context.Context, id string, t store.Transition) (*models.BuildRecord, error) {
	if t.CorrelationToken != nil && *t.CorrelationToken != "" {
		return nil, f.err
	}
	return f.BuildStore.Transition(ctx, id, t)
}

type fakeReleases struct {
	mu          sync.Mutex
	commits     map[string]string
	assets      map[string][]models.Artifact
	err         error
	invalidated []string
}

func newFakeReleases() *fakeReleases {
	return &fakeReleases{
		commits: map[string]string{"v2.4.0": testSha},
		assets:  make(map[string][]models.Artifact),
	}
}

func (f *fakeReleases) CommitForTag(_ context.Context, versionTag string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sha, ok := f.commits[versionTag]
	if !ok {
		return "", releases.ErrTagNotFound
	}
	return sha, nil
}

func (f *fakeReleases) FindArtifact(_ context.Context, c models.Criteria) (models.Artifact, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.Artifact{}, false, f.err
	}
	a, ok := matcher.FindMatch(f.assets[c.ReleaseTag()], c)
	return a, ok, nil
}

func (f *fakeReleases) InvalidateRelease(releaseTag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, releaseTag)
}

func (f *fakeReleases) publish(releaseTag string, names ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range names {
		f.assets[releaseTag] = append(f.assets[releaseTag], models.Artifact{
			Name:        n,
			DownloadURL: "https://example.com/" + releaseTag + "/" + n,
			SizeBytes:   1024,
		})
	}
}

type fakeRuns struct {
	mu   sync.Mutex
	runs map[int64]models.WorkflowRun
	err  error
}

func newFakeRuns() *fakeRuns {
	return &fakeRuns{runs: make(map[int64]models.WorkflowRun)}
}

func (f *fakeRuns) GetWorkflowRun(_ context.Context, _ github.Repo, runID int64) (*models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	run, ok := f.runs[runID]
	if !ok {
		return nil, github.ErrNotFound
	}
	return &run, nil
}

func (f *fakeRuns) ListWorkflowRuns(_ context.Context, _ github.Repo, _ string, _ time.Time) ([]models.WorkflowRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.WorkflowRun, 0, len(f.runs))
	for _, r := range f.runs {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuns) set(run models.WorkflowRun) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
}

func (f *fakeRuns) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

type harness struct {
	orch       *Orchestrator
	store      *memory.Store
	dispatcher *fakeDispatcher
	releases   *fakeReleases
	runs       *fakeRuns
	clock      *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := newClock()
	h := &harness{
		store:      memory.NewWithClock(clk.Now),
		dispatcher: &fakeDispatcher{},
		releases:   newFakeReleases(),
		runs:       newFakeRuns(),
		clock:      clk,
	}
	h.orch = New(Deps{
		Builds:     h.store.Builds(),
		Dispatcher: h.dispatcher,
		Releases:   h.releases,
		Runs:       h.runs,
	}, Config{BuilderRepo: github.Repo{Owner: "narvanalabs", Name: "conflux-builder"}})
	h.orch.now = clk.Now
	return h
}

// useBuilds rebuilds the orchestrator over a different build store.
func (h *harness) useBuilds(builds store.BuildStore) {
	h.orch = New(Deps{
		Builds:     builds,
		Dispatcher: h.dispatcher,
		Releases:   h.releases,
		Runs:       h.runs,
	}, Config{BuilderRepo: github.Repo{Owner: "narvanalabs", Name: "conflux-builder"}})
	h.orch.now = h.clock.Now
}

func boolPtr(b bool) *bool {
	return &b
}

func linuxRequest() validation.BuildRequest {
	return validation.BuildRequest{VersionTag: "v2.4.0", CommitSha: testSha, OS: "linux", Arch: "x86_64"}
}

func runEvent(action string, rec *models.BuildRecord, runID int64, conclusion string) *webhook.WorkflowRunEvent {
	return &webhook.WorkflowRunEvent{
		Action: action,
		WorkflowRun: webhook.WorkflowRun{
			ID:           runID,
			DisplayTitle: dispatch.RunTitle(rec.Criteria, rec.CorrelationToken),
			Status:       action,
			Conclusion:   conclusion,
		},
		Repository: webhook.Repository{FullName: "narvanalabs/conflux-builder"},
	}
}

func releaseEvent(tag string, names ...string) *webhook.ReleaseEvent {
	e := &webhook.ReleaseEvent{
		Action:     webhook.ReleaseActionPublished,
		Release:    webhook.Release{TagName: tag},
		Repository: webhook.Repository{FullName: "narvanalabs/conflux-builder"},
	}
	for _, n := range names {
		e.Release.Assets = append(e.Release.Assets, webhook.ReleaseAsset{
			Name:               n,
			BrowserDownloadURL: "https://example.com/" + tag + "/" + n,
		})
	}
	return e
}
