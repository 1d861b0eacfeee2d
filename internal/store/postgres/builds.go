package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/store"
)

// BuildStore implements store.BuildStore using PostgreSQL. Every timestamp
// is taken from now, never from the database clock, because the reconciler
// compares them against its own clock.
type BuildStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

const buildColumns = `id, version_tag, commit_sha, os, arch, static_openssl, compatibility_mode,
	glibc_version, openssl_version, status, correlation_token, external_job_id, download_url,
	created_at, updated_at, attempt_started_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanBuild(row rowScanner) (*models.BuildRecord, error) {
	r := &models.BuildRecord{}
	var glibc, openssl, token, externalID, downloadURL sql.NullString

	err := row.Scan(
		&r.ID,
		&r.VersionTag,
		&r.CommitSha,
		&r.OS,
		&r.Arch,
		&r.StaticOpenssl,
		&r.CompatibilityMode,
		&glibc,
		&openssl,
		&r.Status,
		&token,
		&externalID,
		&downloadURL,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.AttemptStartedAt,
	)
	if err != nil {
		return nil, err
	}

	r.GlibcVersion = glibc.String
	r.OpensslVersion = openssl.String
	r.CorrelationToken = token.String
	r.ExternalJobID = externalID.String
	r.DownloadURL = downloadURL.String
	return r, nil
}

func (s *BuildStore) queryOne(ctx context.Context, op, query string, args ...any) (*models.BuildRecord, error) {
	r, err := scanBuild(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

func (s *BuildStore) queryMany(ctx context.Context, op, query string, args ...any) ([]*models.BuildRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []*models.BuildRecord
	for rows.Next() {
		r, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating builds: %w", err)
	}
	return records, nil
}

// Get retrieves a build record by ID.
func (s *BuildStore) Get(ctx context.Context, id string) (*models.BuildRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + buildColumns + ` FROM builds WHERE id = $1`
	return s.queryOne(ctx, "querying build", query, id)
}

// FindEquivalent retrieves the record of the criteria's equivalence class.
// Unset OS-conditional fields match NULL columns.
func (s *BuildStore) FindEquivalent(ctx context.Context, c models.Criteria) (*models.BuildRecord, error) {
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE commit_sha = $1
			AND version_tag = $2
			AND os = $3
			AND arch = $4
			AND glibc_version IS NOT DISTINCT FROM $5
			AND openssl_version IS NOT DISTINCT FROM $6
			AND static_openssl = $7
			AND compatibility_mode = $8`

	return s.queryOne(ctx, "querying equivalent build", query,
		c.CommitSha,
		c.VersionTag,
		c.OS,
		c.Arch,
		nullString(c.GlibcVersion),
		nullString(c.OpensslVersion),
		c.StaticOpenssl,
		c.CompatibilityMode,
	)
}

// CreatePending inserts a pending record.
func (s *BuildStore) CreatePending(ctx context.Context, c models.Criteria) (*models.BuildRecord, error) {
	return s.insert(ctx, c, models.BuildStatusPending, "")
}

// CreateCompleted inserts a record whose artifact is already known.
func (s *BuildStore) CreateCompleted(ctx context.Context, c models.Criteria, downloadURL string) (*models.BuildRecord, error) {
	return s.insert(ctx, c, models.BuildStatusCompleted, downloadURL)
}

func (s *BuildStore) insert(ctx context.Context, c models.Criteria, status models.BuildStatus, downloadURL string) (*models.BuildRecord, error) {
	query := `
		INSERT INTO builds (id, version_tag, commit_sha, os, arch, static_openssl,
			compatibility_mode, glibc_version, openssl_version, status, download_url,
			created_at, updated_at, attempt_started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12)
		RETURNING ` + buildColumns

	r, err := scanBuild(s.db.QueryRowContext(ctx, query,
		uuid.New().String(),
		c.VersionTag,
		c.CommitSha,
		c.OS,
		c.Arch,
		c.StaticOpenssl,
		c.CompatibilityMode,
		nullString(c.GlibcVersion),
		nullString(c.OpensslVersion),
		status,
		nullString(downloadURL),
		s.now().UTC(),
	))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicate
		}
		return nil, fmt.Errorf("inserting build: %w", err)
	}

	s.logger.Debug("build record created", "build_id", r.ID, "status", r.Status)
	return r, nil
}

// Transition applies a conditional state change in a single UPDATE.
func (s *BuildStore) Transition(ctx context.Context, id string, t store.Transition) (*models.BuildRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, store.ErrNotFound
	}

	from := make([]string, len(t.From))
	for i, st := range t.From {
		from[i] = string(st)
	}

	args := []any{id, pq.Array(from), t.To, s.now().UTC()}
	set := []string{"status = $3", "updated_at = $4"}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if t.CorrelationToken != nil {
		set = append(set, "correlation_token = "+arg(nullString(*t.CorrelationToken)))
	}
	if t.ExternalJobID != nil {
		if t.KeepExternalJobID {
			set = append(set, "external_job_id = COALESCE(external_job_id, "+arg(nullString(*t.ExternalJobID))+")")
		} else {
			set = append(set, "external_job_id = "+arg(nullString(*t.ExternalJobID)))
		}
	}
	if t.DownloadURL != nil {
		set = append(set, "download_url = "+arg(nullString(*t.DownloadURL)))
	}
	if t.ResetAttempt {
		set = append(set, "attempt_started_at = $4")
	}

	where := "id = $1 AND status = ANY($2::text[])"
	if t.RequireNoDownloadURL {
		where += " AND download_url IS NULL"
	}

	query := `UPDATE builds SET ` + strings.Join(set, ", ") + ` WHERE ` + where + ` RETURNING ` + buildColumns

	r, err := scanBuild(s.db.QueryRowContext(ctx, query, args...))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("updating build status: %w", err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM builds WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("checking build existence: %w", err)
	}
	if !exists {
		return nil, store.ErrNotFound
	}
	return nil, store.ErrTransitionRejected
}

// FindByCorrelationToken retrieves the most recently updated record carrying the token.
func (s *BuildStore) FindByCorrelationToken(ctx context.Context, token string) (*models.BuildRecord, error) {
	if token == "" {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE correlation_token = $1
		ORDER BY updated_at DESC
		LIMIT 1`
	return s.queryOne(ctx, "querying build by correlation token", query, token)
}

// FindByExternalJobID retrieves the record bound to a CI run.
func (s *BuildStore) FindByExternalJobID(ctx context.Context, externalJobID string) (*models.BuildRecord, error) {
	if externalJobID == "" {
		return nil, store.ErrNotFound
	}
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE external_job_id = $1
		ORDER BY updated_at DESC
		LIMIT 1`
	return s.queryOne(ctx, "querying build by external job id", query, externalJobID)
}

// ListActive retrieves records the reconciler still watches.
func (s *BuildStore) ListActive(ctx context.Context) ([]*models.BuildRecord, error) {
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE status = ANY($1::text[])
		ORDER BY created_at ASC`
	return s.queryMany(ctx, "listing active builds", query, pq.Array(activeStatuses()))
}

// ListAwaitingDownload retrieves active records of a release without a download URL.
func (s *BuildStore) ListAwaitingDownload(ctx context.Context, versionTag, shortSha string) ([]*models.BuildRecord, error) {
	query := `SELECT ` + buildColumns + ` FROM builds
		WHERE version_tag = $1
			AND LEFT(commit_sha, 7) = $2
			AND download_url IS NULL
			AND status = ANY($3::text[])
		ORDER BY created_at ASC`
	return s.queryMany(ctx, "listing builds awaiting download", query, versionTag, shortSha, pq.Array(activeStatuses()))
}

func activeStatuses() []string {
	active := models.ActiveBuildStatuses()
	out := make([]string, len(active))
	for i, st := range active {
		out[i] = string(st)
	}
	return out
}
