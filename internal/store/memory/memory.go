// Package memory provides an in-process implementation of the store
// interfaces. It enforces the same equivalence-class uniqueness as the
// PostgreSQL schema and is used for development and tests.
package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/store"
)

// Store implements store.Store in memory.
type Store struct {
	builds *BuildStore
	tags   *TagStore
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		builds: NewBuildStore(time.Now),
		tags:   &TagStore{byName: make(map[string]models.Tag)},
	}
}

// NewWithClock creates an empty store that stamps records using now.
func NewWithClock(now func() time.Time) *Store {
	s := New()
	s.builds.now = now
	return s
}

func (s *Store) Builds() store.BuildStore { return s.builds }
func (s *Store) Tags() store.TagStore     { return s.tags }

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

// BuildStore implements store.BuildStore in memory.
type BuildStore struct {
	mu      sync.RWMutex
	now     func() time.Time
	records map[string]*models.BuildRecord
	byKey   map[string]string
}

// NewBuildStore creates an empty build store.
func NewBuildStore(now func() time.Time) *BuildStore {
	return &BuildStore{
		now:     now,
		records: make(map[string]*models.BuildRecord),
		byKey:   make(map[string]string),
	}
}

func (s *BuildStore) Get(_ context.Context, id string) (*models.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(r), nil
}

func (s *BuildStore) FindEquivalent(_ context.Context, c models.Criteria) (*models.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[c.Key()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(s.records[id]), nil
}

func (s *BuildStore) CreatePending(_ context.Context, c models.Criteria) (*models.BuildRecord, error) {
	return s.insert(c, models.BuildStatusPending, "")
}

func (s *BuildStore) CreateCompleted(_ context.Context, c models.Criteria, downloadURL string) (*models.BuildRecord, error) {
	return s.insert(c, models.BuildStatusCompleted, downloadURL)
}

func (s *BuildStore) insert(c models.Criteria, status models.BuildStatus, downloadURL string) (*models.BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := c.Key()
	if _, exists := s.byKey[key]; exists {
		return nil, store.ErrDuplicate
	}

	now := s.now().UTC()
	r := &models.BuildRecord{
		ID:               uuid.New().String(),
		Criteria:         c,
		Status:           status,
		DownloadURL:      downloadURL,
		CreatedAt:        now,
		UpdatedAt:        now,
		AttemptStartedAt: now,
	}
	s.records[r.ID] = r
	s.byKey[key] = r.ID
	return clone(r), nil
}

func (s *BuildStore) Transition(_ context.Context, id string, t store.Transition) (*models.BuildRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if !slices.Contains(t.From, r.Status) {
		return nil, store.ErrTransitionRejected
	}
	if t.RequireNoDownloadURL && r.DownloadURL != "" {
		return nil, store.ErrTransitionRejected
	}

	now := s.now().UTC()
	r.Status = t.To
	if t.CorrelationToken != nil {
		r.CorrelationToken = *t.CorrelationToken
	}
	if t.ExternalJobID != nil && !(t.KeepExternalJobID && r.ExternalJobID != "") {
		r.ExternalJobID = *t.ExternalJobID
	}
	if t.DownloadURL != nil {
		r.DownloadURL = *t.DownloadURL
	}
	if t.ResetAttempt {
		r.AttemptStartedAt = now
	}
	r.UpdatedAt = now
	return clone(r), nil
}

func (s *BuildStore) FindByCorrelationToken(_ context.Context, token string) (*models.BuildRecord, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	return s.findFirst(func(r *models.BuildRecord) bool { return r.CorrelationToken == token })
}

func (s *BuildStore) FindByExternalJobID(_ context.Context, externalJobID string) (*models.BuildRecord, error) {
	if externalJobID == "" {
		return nil, store.ErrNotFound
	}
	return s.findFirst(func(r *models.BuildRecord) bool { return r.ExternalJobID == externalJobID })
}

func (s *BuildStore) ListActive(_ context.Context) ([]*models.BuildRecord, error) {
	return s.list(func(r *models.BuildRecord) bool { return r.Status.IsActive() }), nil
}

func (s *BuildStore) ListAwaitingDownload(_ context.Context, versionTag, shortSha string) ([]*models.BuildRecord, error) {
	return s.list(func(r *models.BuildRecord) bool {
		return r.Status.IsActive() &&
			r.DownloadURL == "" &&
			r.VersionTag == versionTag &&
			r.ShortSha() == shortSha
	}), nil
}

// findFirst returns the most recently updated record matching fn.
func (s *BuildStore) findFirst(fn func(*models.BuildRecord) bool) (*models.BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *models.BuildRecord
	for _, r := range s.records {
		if fn(r) && (found == nil || r.UpdatedAt.After(found.UpdatedAt)) {
			found = r
		}
	}
	if found == nil {
		return nil, store.ErrNotFound
	}
	return clone(found), nil
}

func (s *BuildStore) list(fn func(*models.BuildRecord) bool) []*models.BuildRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BuildRecord
	for _, r := range s.records {
		if fn(r) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func clone(r *models.BuildRecord) *models.BuildRecord {
	c := *r
	return &c
}

// TagStore implements store.TagStore in memory.
type TagStore struct {
	mu     sync.RWMutex
	byName map[string]models.Tag
}

func (s *TagStore) Upsert(_ context.Context, tags []models.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	for _, t := range tags {
		if existing, ok := s.byName[t.Name]; ok {
			t.CreatedAt = existing.CreatedAt
		} else {
			t.CreatedAt = now
		}
		t.UpdatedAt = now
		s.byName[t.Name] = t
	}
	return nil
}

func (s *TagStore) List(_ context.Context, limit int) ([]models.Tag, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Tag, 0, len(s.byName))
	for _, t := range s.byName {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].Name > out[j].Name
		}
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
