// Package httpapi exposes the engine's read-only query surface: lexical
// search, semantic search, and related posts, with a Redis-backed response
// cache in front of the engine.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bloghive/relevance/internal/analytics"
	"github.com/bloghive/relevance/internal/engine"
	"github.com/bloghive/relevance/pkg/config"
	apperrors "github.com/bloghive/relevance/pkg/errors"
	"github.com/bloghive/relevance/pkg/logger"
)

// Searcher is the query surface of the engine coordinator.
type Searcher interface {
	LexicalSearch(ctx context.Context, query, tenantID string, limit, offset int) ([]engine.SearchResult, bool)
	SemanticSearch(ctx context.Context, query, tenantID string, limit int) []engine.SearchResult
	Related(ctx context.Context, tenantID, postID string, limit int) ([]engine.SearchResult, error)
}

// Recorder receives analytics events for executed queries.
type Recorder interface {
	Record(event analytics.QueryEvent)
}

// Handler serves the query API. Cache and recorder may be nil, in which
// case every request hits the engine and no analytics are emitted.
type Handler struct {
	searcher     Searcher
	cache        *QueryCache
	recorder     Recorder
	defaultLimit int
	maxResults   int
	logger       *slog.Logger
}

// NewHandler builds the query API handler.
func NewHandler(searcher Searcher, cache *QueryCache, recorder Recorder, cfg config.EngineConfig) *Handler {
	return &Handler{
		searcher:     searcher,
		cache:        cache,
		recorder:     recorder,
		defaultLimit: cfg.DefaultLimit,
		maxResults:   cfg.MaxResults,
		logger:       logger.WithComponent("httpapi"),
	}
}

// Routes registers the query endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.handleSearch)
	mux.HandleFunc("GET /api/v1/search/semantic", h.handleSemanticSearch)
	mux.HandleFunc("GET /api/v1/blogs/{blogID}/posts/{postID}/related", h.handleRelated)
}

type searchResponse struct {
	Query    string                `json:"query"`
	BlogID   string                `json:"blog_id,omitempty"`
	Results  []engine.SearchResult `json:"results"`
	Count    int                   `json:"count"`
	Fallback bool                  `json:"fallback,omitempty"`
}

type relatedResponse struct {
	PostID  string                `json:"post_id"`
	BlogID  string                `json:"blog_id"`
	Results []engine.SearchResult `json:"results"`
	Count   int                   `json:"count"`
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	blogID := r.URL.Query().Get("blog_id")
	limit := h.parseLimit(r)
	offset := parseNonNegative(r.URL.Query().Get("offset"), 0)

	key := ""
	if h.cache != nil {
		key = h.cache.Key("lexical", blogID, query, strconv.Itoa(limit), strconv.Itoa(offset))
	}
	h.serveCached(w, r, key, func() ([]byte, error) {
		start := time.Now()
		results, fallback := h.searcher.LexicalSearch(r.Context(), query, blogID, limit, offset)
		h.record(analytics.QueryEvent{
			Mode:        "lexical",
			TenantID:    blogID,
			Query:       query,
			ResultCount: len(results),
			Fallback:    fallback,
			DurationMS:  float64(time.Since(start).Microseconds()) / 1000,
		})
		return json.Marshal(searchResponse{
			Query:    query,
			BlogID:   blogID,
			Results:  results,
			Count:    len(results),
			Fallback: fallback,
		})
	})
}

func (h *Handler) handleSemanticSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	blogID := r.URL.Query().Get("blog_id")
	limit := h.parseLimit(r)

	key := ""
	if h.cache != nil {
		key = h.cache.Key("semantic", blogID, query, strconv.Itoa(limit))
	}
	h.serveCached(w, r, key, func() ([]byte, error) {
		start := time.Now()
		results := h.searcher.SemanticSearch(r.Context(), query, blogID, limit)
		h.record(analytics.QueryEvent{
			Mode:        "semantic",
			TenantID:    blogID,
			Query:       query,
			ResultCount: len(results),
			DurationMS:  float64(time.Since(start).Microseconds()) / 1000,
		})
		return json.Marshal(searchResponse{
			Query:   query,
			BlogID:  blogID,
			Results: results,
			Count:   len(results),
		})
	})
}

func (h *Handler) handleRelated(w http.ResponseWriter, r *http.Request) {
	blogID := r.PathValue("blogID")
	postID := r.PathValue("postID")
	limit := h.parseLimit(r)

	start := time.Now()
	results, err := h.searcher.Related(r.Context(), blogID, postID, limit)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		if status >= 500 {
			logger.FromContext(r.Context()).Error("related query failed",
				"blog_id", blogID, "post_id", postID, "error", err)
			writeError(w, status, "internal error")
			return
		}
		writeError(w, status, err.Error())
		return
	}
	h.record(analytics.QueryEvent{
		Mode:        "related",
		TenantID:    blogID,
		Query:       postID,
		ResultCount: len(results),
		DurationMS:  float64(time.Since(start).Microseconds()) / 1000,
	})
	writeJSON(w, http.StatusOK, relatedResponse{
		PostID:  postID,
		BlogID:  blogID,
		Results: results,
		Count:   len(results),
	})
}

// serveCached writes the cached response for key, computing and storing it
// on a miss. An empty key bypasses the cache entirely.
func (h *Handler) serveCached(w http.ResponseWriter, r *http.Request, key string, compute func() ([]byte, error)) {
	var (
		body []byte
		err  error
	)
	if h.cache != nil && key != "" {
		body, err = h.cache.GetOrCompute(r.Context(), key, compute)
	} else {
		body, err = compute()
	}
	if err != nil {
		logger.FromContext(r.Context()).Error("search request failed",
			"path", r.URL.Path, "error", err)
		writeError(w, apperrors.HTTPStatusCode(err), "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *Handler) record(event analytics.QueryEvent) {
	if h.recorder != nil {
		h.recorder.Record(event)
	}
}

// parseLimit reads limit from the query string, applying the default and
// clamping to the configured maximum.
func (h *Handler) parseLimit(r *http.Request) int {
	limit := parseNonNegative(r.URL.Query().Get("limit"), h.defaultLimit)
	if limit == 0 {
		limit = h.defaultLimit
	}
	if limit > h.maxResults {
		limit = h.maxResults
	}
	return limit
}

func parseNonNegative(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
