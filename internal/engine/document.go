// Package engine ties the tokenizer, lexical index, vector index, and
// related-posts scorer together behind a single coordinator that owns the
// published-document cache and applies post change events to every
// structure as a unit.
package engine

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "github.com/bloghive/relevance/pkg/errors"
)

// Status is a post's publication state. Only published posts are indexed.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Document is the engine's view of a blog post. TenantID is the owning
// blog's id; all queries are scoped to one tenant unless the caller asks
// for a global search. Body is rendered plain text, not markdown.
type Document struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"blog_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Body        string    `json:"body"`
	Tags        []string  `json:"tags"`
	Status      Status    `json:"status"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks the boundary invariants for a document entering the
// engine. It does not require a published status; callers decide how to
// treat drafts.
func (d Document) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return apperrors.New(apperrors.ErrInvalidInput, 400, "document id is required")
	}
	if strings.TrimSpace(d.TenantID) == "" {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "document %s has no blog id", d.ID)
	}
	if strings.TrimSpace(d.Title) == "" {
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "document %s has no title", d.ID)
	}
	switch d.Status {
	case StatusDraft, StatusPublished:
	default:
		return apperrors.Newf(apperrors.ErrInvalidInput, 400, "document %s has unknown status %q", d.ID, d.Status)
	}
	return nil
}

// SearchResult is a query hit resolved against the document cache. Score is
// the BM25 score for lexical hits, the cosine similarity for semantic hits,
// and the overlap score for related posts. Snippet is set on lexical hits
// only.
type SearchResult struct {
	DocID       string    `json:"id"`
	TenantID    string    `json:"blog_id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Tags        []string  `json:"tags"`
	Score       float64   `json:"score"`
	Snippet     string    `json:"snippet,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (d Document) String() string {
	return fmt.Sprintf("doc %s (blog %s, %s)", d.ID, d.TenantID, d.Status)
}

// LogValue keeps full post bodies out of structured logs.
func (d Document) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", d.ID),
		slog.String("blog_id", d.TenantID),
		slog.String("status", string(d.Status)),
	)
}
