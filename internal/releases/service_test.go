package releases

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/store/memory"
)

const testSha = "0123456789abcdef0123456789abcdef01234567"

// mockGitHub is a mock implementation of GitHubAPI for testing.
type mockGitHub struct {
	mu           sync.Mutex
	commits      map[string]string
	releases     map[string]*models.Release
	tags         []models.Tag
	tagsErr      error
	releaseCalls int
	commitCalls  int
}

func (m *mockGitHub) GetReleaseByTag(_ context.Context, _ github.Repo, tag string) (*models.Release, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releaseCalls++
	if r, ok := m.releases[tag]; ok {
		return r, nil
	}
	return nil, github.ErrNotFound
}

func (m *mockGitHub) GetCommitForTag(_ context.Context, _ github.Repo, tag string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commitCalls++
	if sha, ok := m.commits[tag]; ok {
		return sha, nil
	}
	return "", github.ErrNotFound
}

func (m *mockGitHub) ListTags(context.Context, github.Repo, int) ([]models.Tag, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tags, m.tagsErr
}

func newTestService(gh *mockGitHub) (*Service, *memory.Store) {
	st := memory.New()
	return NewService(gh, st.Tags(), nil, Config{}, nil), st
}

func TestCommitForTagCachesHitsAndMisses(t *testing.T) {
	gh := &mockGitHub{commits: map[string]string{"v2.4.0": testSha}}
	s, _ := newTestService(gh)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		sha, err := s.CommitForTag(ctx, "v2.4.0")
		if err != nil || sha != testSha {
			t.Fatalf("CommitForTag() = %q, %v", sha, err)
		}
		if _, err := s.CommitForTag(ctx, "v9.9.9"); !errors.Is(err, ErrTagNotFound) {
			t.Fatalf("CommitForTag(missing) error = %v, want ErrTagNotFound", err)
		}
	}
	if gh.commitCalls != 2 {
		t.Errorf("commit lookups = %d, want 2", gh.commitCalls)
	}
}

func TestFindArtifact(t *testing.T) {
	releaseTag := models.ReleaseTag("v2.4.0", testSha)
	gh := &mockGitHub{releases: map[string]*models.Release{
		releaseTag: {TagName: releaseTag, Assets: []models.Artifact{
			{Name: "conflux-v2.4.0-linux-x86_64-glibc2.39.tar.gz", DownloadURL: "https://example.com/linux"},
		}},
	}}
	s, _ := newTestService(gh)
	ctx := context.Background()

	c := models.Criteria{VersionTag: "v2.4.0", CommitSha: testSha, OS: models.OSLinux, Arch: models.ArchX86_64, StaticOpenssl: true, GlibcVersion: "2.39", OpensslVersion: "3"}
	a, ok, err := s.FindArtifact(ctx, c)
	if err != nil || !ok || a.DownloadURL != "https://example.com/linux" {
		t.Fatalf("FindArtifact() = %+v, %v, %v", a, ok, err)
	}

	c.CommitSha = "fedcba9876543210fedcba9876543210fedcba98"
	if _, ok, err := s.FindArtifact(ctx, c); ok || err != nil {
		t.Errorf("FindArtifact() without release = %v, %v, want false, nil", ok, err)
	}
}

func TestInvalidateReleaseRefetches(t *testing.T) {
	releaseTag := models.ReleaseTag("v2.4.0", testSha)
	gh := &mockGitHub{releases: map[string]*models.Release{}}
	s, _ := newTestService(gh)
	ctx := context.Background()

	if _, err := s.ReleaseByTag(ctx, releaseTag); !errors.Is(err, ErrReleaseNotFound) {
		t.Fatalf("ReleaseByTag() error = %v, want ErrReleaseNotFound", err)
	}

	gh.mu.Lock()
	gh.releases[releaseTag] = &models.Release{TagName: releaseTag}
	gh.mu.Unlock()

	if _, err := s.ReleaseByTag(ctx, releaseTag); !errors.Is(err, ErrReleaseNotFound) {
		t.Fatalf("cached miss should persist until invalidated, got %v", err)
	}

	s.InvalidateRelease(releaseTag)
	rel, err := s.ReleaseByTag(ctx, releaseTag)
	if err != nil || rel.TagName != releaseTag {
		t.Errorf("ReleaseByTag() after invalidation = %+v, %v", rel, err)
	}
}

func TestListTagsPersistsAndFallsBack(t *testing.T) {
	gh := &mockGitHub{tags: []models.Tag{
		{Name: "v2.3.10", CommitSha: "a"},
		{Name: "v2.4.0", CommitSha: "b"},
		{Name: "nightly", CommitSha: "c"},
		{Name: "v2.3.9", CommitSha: "d"},
	}}
	s, st := newTestService(gh)
	ctx := context.Background()

	tags, err := s.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags() error = %v", err)
	}
	want := []string{"v2.4.0", "v2.3.10", "v2.3.9", "nightly"}
	for i, name := range want {
		if tags[i].Name != name {
			t.Errorf("tags[%d] = %q, want %q", i, tags[i].Name, name)
		}
	}

	stored, _ := st.Tags().List(ctx, 0)
	if len(stored) != 4 {
		t.Errorf("stored %d tags, want 4", len(stored))
	}

	gh.mu.Lock()
	gh.tagsErr = errors.New("rate limited")
	gh.mu.Unlock()

	fresh := NewService(gh, st.Tags(), nil, Config{}, nil)
	tags, err = fresh.ListTags(ctx)
	if err != nil {
		t.Fatalf("ListTags() fallback error = %v", err)
	}
	if len(tags) != 4 || tags[0].Name != "v2.4.0" {
		t.Errorf("fallback tags = %+v", tags)
	}
}
