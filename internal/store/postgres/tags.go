package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/narvanalabs/conflux-builder/internal/models"
)

// TagStore implements store.TagStore using PostgreSQL.
type TagStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// Upsert inserts or refreshes tags by name in one transaction.
func (s *TagStore) Upsert(ctx context.Context, tags []models.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	query := `
		INSERT INTO tags (name, commit_sha, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (name) DO UPDATE
		SET commit_sha = EXCLUDED.commit_sha, updated_at = NOW()`

	for _, t := range tags {
		if _, err := tx.ExecContext(ctx, query, t.Name, t.CommitSha); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.logger.Error("failed to rollback transaction", "error", rbErr)
			}
			return fmt.Errorf("upserting tag %s: %w", t.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// List retrieves stored tags, most recently updated first.
func (s *TagStore) List(ctx context.Context, limit int) ([]models.Tag, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT name, commit_sha, created_at, updated_at
		FROM tags
		ORDER BY updated_at DESC, name DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing tags: %w", err)
	}
	defer rows.Close()

	var tags []models.Tag
	for rows.Next() {
		var t models.Tag
		if err := rows.Scan(&t.Name, &t.CommitSha, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tags: %w", err)
	}
	return tags, nil
}
