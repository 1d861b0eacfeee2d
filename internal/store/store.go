// Package store provides persistence interfaces for build records and tags.
package store

import (
	"context"
	"errors"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

// Common store errors shared by every implementation.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicate is returned when an insert collides with an existing
	// record of the same equivalence class.
	ErrDuplicate = errors.New("equivalent build already exists")

	// ErrTransitionRejected is returned when a conditional transition's
	// guard does not hold for the current record state.
	ErrTransitionRejected = errors.New("transition rejected by current record state")
)

// Transition is a conditional state change. The update applies only when the
// record's current status is one of From, and, if RequireNoDownloadURL is
// set, the record has no download URL yet.
//
// Pointer fields are left untouched when nil. A pointer to an empty string
// clears the column.
type Transition struct {
	From []models.BuildStatus
	To   models.BuildStatus

	CorrelationToken *string
	ExternalJobID    *string
	DownloadURL      *string

	// KeepExternalJobID leaves an already resolved external job id in place
	// instead of overwriting it with ExternalJobID.
	KeepExternalJobID bool
	// RequireNoDownloadURL guards against overwriting a located artifact.
	RequireNoDownloadURL bool
	// ResetAttempt restarts the attempt clock used for timeouts.
	ResetAttempt bool
}

// String returns a pointer to s, for use in Transition fields.
func String(s string) *string {
	return &s
}

// BuildStore defines operations on build records.
type BuildStore interface {
	// Get retrieves a record by ID.
	Get(ctx context.Context, id string) (*models.BuildRecord, error)
	// FindEquivalent retrieves the record of the criteria's equivalence class.
	FindEquivalent(ctx context.Context, c models.Criteria) (*models.BuildRecord, error)
	// CreatePending inserts a pending record. Returns ErrDuplicate if the
	// equivalence class is already taken.
	CreatePending(ctx context.Context, c models.Criteria) (*models.BuildRecord, error)
	// CreateCompleted inserts a record that already has its artifact.
	CreateCompleted(ctx context.Context, c models.Criteria, downloadURL string) (*models.BuildRecord, error)
	// Transition applies a conditional state change atomically and returns
	// the updated record.
	Transition(ctx context.Context, id string, t Transition) (*models.BuildRecord, error)
	// FindByCorrelationToken retrieves the record dispatched with the token.
	FindByCorrelationToken(ctx context.Context, token string) (*models.BuildRecord, error)
	// FindByExternalJobID retrieves the record bound to a CI run.
	FindByExternalJobID(ctx context.Context, externalJobID string) (*models.BuildRecord, error)
	// ListActive retrieves every record the reconciler still watches,
	// oldest first.
	ListActive(ctx context.Context) ([]*models.BuildRecord, error)
	// ListAwaitingDownload retrieves active records for a version and short
	// commit sha that have no download URL.
	ListAwaitingDownload(ctx context.Context, versionTag, shortSha string) ([]*models.BuildRecord, error)
}

// TagStore defines operations on the cached source tag catalogue.
type TagStore interface {
	// Upsert inserts or refreshes tags by name.
	Upsert(ctx context.Context, tags []models.Tag) error
	// List retrieves stored tags, most recently updated first.
	List(ctx context.Context, limit int) ([]models.Tag, error)
}

// Store is the main interface for persistence.
type Store interface {
	// Builds returns the BuildStore for build record operations.
	Builds() BuildStore
	// Tags returns the TagStore for tag operations.
	Tags() TagStore
	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error
	// Close releases the underlying resources.
	Close() error
}
