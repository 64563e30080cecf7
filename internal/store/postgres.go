// Package store reads the blog platform's published posts out of
// PostgreSQL. The engine treats it as the source of truth during full
// rebuilds; steady-state updates arrive through the change feed instead.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bloghive/relevance/internal/engine"
	"github.com/bloghive/relevance/pkg/logger"
	"github.com/bloghive/relevance/pkg/postgres"
)

const listPublishedQuery = `
SELECT id, blog_id, title, COALESCE(summary, ''), content, COALESCE(tags, '[]'), status, published_at, updated_at
FROM posts
WHERE status = 'published'`

// PostStore loads published posts from PostgreSQL.
type PostStore struct {
	client *postgres.Client
	logger *slog.Logger
}

// NewPostStore wraps the shared postgres client.
func NewPostStore(client *postgres.Client) *PostStore {
	return &PostStore{
		client: client,
		logger: logger.WithComponent("post-store"),
	}
}

// ListPublished returns every published post, optionally restricted to one
// blog. Tags are stored as a JSON array in a text column and decoded here;
// a row with undecodable tags is returned tagless rather than dropped.
func (s *PostStore) ListPublished(ctx context.Context, tenantID string) ([]engine.Document, error) {
	query := listPublishedQuery
	var args []any
	if tenantID != "" {
		query += " AND blog_id = $1"
		args = append(args, tenantID)
	}
	query += " ORDER BY published_at DESC"

	rows, err := s.client.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing published posts: %w", err)
	}
	defer rows.Close()

	var docs []engine.Document
	for rows.Next() {
		var (
			doc         engine.Document
			status      string
			tagsJSON    string
			publishedAt sql.NullTime
		)
		if err := rows.Scan(
			&doc.ID,
			&doc.TenantID,
			&doc.Title,
			&doc.Summary,
			&doc.Body,
			&tagsJSON,
			&status,
			&publishedAt,
			&doc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning post row: %w", err)
		}
		doc.Status = engine.Status(status)
		if publishedAt.Valid {
			doc.PublishedAt = publishedAt.Time
		}
		doc.Tags = s.decodeTags(doc.ID, tagsJSON)
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating post rows: %w", err)
	}
	return docs, nil
}

// CountPublished returns the number of published posts visible to the
// engine, used by the readiness check to detect index drift.
func (s *PostStore) CountPublished(ctx context.Context) (int, error) {
	var n int
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM posts WHERE status = 'published'`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting published posts: %w", err)
	}
	return n, nil
}

// Ping reports store connectivity for health checks.
func (s *PostStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.client.Ping(ctx)
}

func (s *PostStore) decodeTags(postID, tagsJSON string) []string {
	tagsJSON = strings.TrimSpace(tagsJSON)
	if tagsJSON == "" || tagsJSON == "[]" {
		return nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(tagsJSON), &tags); err != nil {
		s.logger.Warn("ignoring undecodable tags column", "post_id", postID, "error", err)
		return nil
	}
	return tags
}
