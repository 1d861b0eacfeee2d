// Package releases resolves source tags to commits and finds published
// build artifacts, memoizing GitHub reads.
package releases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/narvanalabs/conflux-builder/internal/cache"
	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/matcher"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/store"
)

// Lookup errors.
var (
	ErrTagNotFound     = errors.New("tag not found")
	ErrReleaseNotFound = errors.New("release not found")
)

// Default cache lifetimes.
const (
	DefaultCommitTTL  = 10 * time.Minute
	DefaultReleaseTTL = 3 * time.Minute
	DefaultTagsTTL    = 5 * time.Minute
	DefaultTagLimit   = 10
)

// GitHubAPI is the subset of the GitHub client used here.
type GitHubAPI interface {
	GetReleaseByTag(ctx context.Context, repo github.Repo, tag string) (*models.Release, error)
	GetCommitForTag(ctx context.Context, repo github.Repo, tag string) (string, error)
	ListTags(ctx context.Context, repo github.Repo, limit int) ([]models.Tag, error)
}

// Config holds the service configuration.
type Config struct {
	// BuilderRepo publishes the build artifacts.
	BuilderRepo github.Repo
	// SourceRepo holds the version tags being built.
	SourceRepo github.Repo
	CommitTTL  time.Duration
	ReleaseTTL time.Duration
	TagsTTL    time.Duration
	TagLimit   int
}

// Service answers release and tag questions.
type Service struct {
	gh     GitHubAPI
	tags   store.TagStore
	cache  *cache.Cache
	cfg    Config
	logger *slog.Logger
}

// NewService creates a release service. tags may be nil, in which case the
// tag catalogue is not persisted.
func NewService(gh GitHubAPI, tags store.TagStore, c *cache.Cache, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.New()
	}
	if cfg.CommitTTL <= 0 {
		cfg.CommitTTL = DefaultCommitTTL
	}
	if cfg.ReleaseTTL <= 0 {
		cfg.ReleaseTTL = DefaultReleaseTTL
	}
	if cfg.TagsTTL <= 0 {
		cfg.TagsTTL = DefaultTagsTTL
	}
	if cfg.TagLimit <= 0 {
		cfg.TagLimit = DefaultTagLimit
	}
	return &Service{gh: gh, tags: tags, cache: c, cfg: cfg, logger: logger}
}

// CommitCacheTag is the cache tag of a version tag's commit lookup.
func CommitCacheTag(versionTag string) string {
	return "commit-sha:" + versionTag
}

// ReleaseCacheTag is the cache tag of a release lookup.
func ReleaseCacheTag(releaseTag string) string {
	return "github-release:" + releaseTag
}

// CommitForTag resolves a source version tag to its commit sha.
func (s *Service) CommitForTag(ctx context.Context, versionTag string) (string, error) {
	key := CommitCacheTag(versionTag)
	sha, err := cache.GetOrCompute(ctx, s.cache, key, s.cfg.CommitTTL, []string{key},
		func(ctx context.Context) (string, error) {
			sha, err := s.gh.GetCommitForTag(ctx, s.cfg.SourceRepo, versionTag)
			if errors.Is(err, github.ErrNotFound) {
				s.logger.Warn("tag not found", "tag", versionTag, "repo", s.cfg.SourceRepo.String())
				return "", nil
			}
			return sha, err
		})
	if err != nil {
		return "", fmt.Errorf("resolving commit for tag %s: %w", versionTag, err)
	}
	if sha == "" {
		return "", ErrTagNotFound
	}
	return sha, nil
}

// ReleaseByTag fetches the builder release with the given release tag.
// Absent releases are cached too, until InvalidateRelease is called.
func (s *Service) ReleaseByTag(ctx context.Context, releaseTag string) (*models.Release, error) {
	key := ReleaseCacheTag(releaseTag)
	rel, err := cache.GetOrCompute(ctx, s.cache, key, s.cfg.ReleaseTTL, []string{key},
		func(ctx context.Context) (*models.Release, error) {
			rel, err := s.gh.GetReleaseByTag(ctx, s.cfg.BuilderRepo, releaseTag)
			if errors.Is(err, github.ErrNotFound) {
				return nil, nil
			}
			return rel, err
		})
	if err != nil {
		return nil, fmt.Errorf("fetching release %s: %w", releaseTag, err)
	}
	if rel == nil {
		return nil, ErrReleaseNotFound
	}
	return rel, nil
}

// ReleaseForVersion resolves a version tag to its commit and fetches the
// matching builder release.
func (s *Service) ReleaseForVersion(ctx context.Context, versionTag string) (*models.Release, error) {
	sha, err := s.CommitForTag(ctx, versionTag)
	if err != nil {
		return nil, err
	}
	return s.ReleaseByTag(ctx, models.ReleaseTag(versionTag, sha))
}

// FindArtifact looks for a published artifact matching the criteria. A
// missing release is not an error.
func (s *Service) FindArtifact(ctx context.Context, c models.Criteria) (models.Artifact, bool, error) {
	rel, err := s.ReleaseByTag(ctx, c.ReleaseTag())
	if errors.Is(err, ErrReleaseNotFound) {
		return models.Artifact{}, false, nil
	}
	if err != nil {
		return models.Artifact{}, false, err
	}
	a, ok := matcher.FindMatch(rel.Assets, c)
	return a, ok, nil
}

// InvalidateRelease forgets the cached lookup of a release tag.
func (s *Service) InvalidateRelease(releaseTag string) {
	s.cache.InvalidateTag(ReleaseCacheTag(releaseTag))
}

const tagsCacheKey = "source-tags"

// ListTags returns the latest source tags, newest version first. Fetched
// tags are persisted, and persisted tags are served when GitHub is unavailable.
func (s *Service) ListTags(ctx context.Context) ([]models.Tag, error) {
	tags, err := cache.GetOrCompute(ctx, s.cache, tagsCacheKey, s.cfg.TagsTTL, nil,
		func(ctx context.Context) ([]models.Tag, error) {
			tags, err := s.gh.ListTags(ctx, s.cfg.SourceRepo, s.cfg.TagLimit)
			if err != nil {
				return nil, err
			}
			if s.tags != nil {
				if err := s.tags.Upsert(ctx, tags); err != nil {
					s.logger.Error("failed to persist tags", "error", err)
				}
			}
			return tags, nil
		})
	if err != nil {
		if s.tags == nil {
			return nil, fmt.Errorf("listing tags: %w", err)
		}
		s.logger.Warn("serving stored tags", "error", err)
		stored, storeErr := s.tags.List(ctx, s.cfg.TagLimit)
		if storeErr != nil || len(stored) == 0 {
			return nil, fmt.Errorf("listing tags: %w", err)
		}
		tags = stored
	}

	out := make([]models.Tag, len(tags))
	copy(out, tags)
	SortTags(out)
	return out, nil
}

// SortTags orders tags by semantic version, newest first. Tags that are not
// valid versions sort after all versions, by name.
func SortTags(tags []models.Tag) {
	versions := make(map[string]*semver.Version, len(tags))
	for _, t := range tags {
		if v, err := semver.NewVersion(t.Name); err == nil {
			versions[t.Name] = v
		}
	}
	sort.SliceStable(tags, func(i, j int) bool {
		vi, iok := versions[tags[i].Name]
		vj, jok := versions[tags[j].Name]
		switch {
		case iok && jok:
			return vi.GreaterThan(vj)
		case iok != jok:
			return iok
		default:
			return tags[i].Name > tags[j].Name
		}
	})
}
