package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bloghive/relevance/internal/engine/lexical"
	"github.com/bloghive/relevance/internal/engine/related"
	"github.com/bloghive/relevance/internal/engine/tokenizer"
	"github.com/bloghive/relevance/internal/engine/vector"
	apperrors "github.com/bloghive/relevance/pkg/errors"
	"github.com/bloghive/relevance/pkg/logger"
	"github.com/bloghive/relevance/pkg/metrics"
	"github.com/bloghive/relevance/pkg/resilience"
)

// Store is the engine's view of the document store: the published posts of
// one blog, or of every blog when tenantID is empty. Used for full rebuilds.
type Store interface {
	ListPublished(ctx context.Context, tenantID string) ([]Document, error)
}

// Options tunes index behaviour. Zero values select defaults.
type Options struct {
	SnippetRadius     int
	MinSimilarity     float64
	ReweightThreshold float64
	RetryConfig       resilience.RetryConfig
}

// Coordinator owns the lexical index, the vector index, and the cache of
// published documents, and keeps the three consistent. Mutations (Apply,
// Rebuild) are serialized by a single write path; reads run concurrently
// against the per-structure read locks.
type Coordinator struct {
	store   Store
	lexical *lexical.Index
	vector  *vector.Index

	mu   sync.RWMutex
	docs map[string]Document

	// writeMu serializes all mutations so the two indexes and the cache
	// never observe a half-applied event.
	writeMu sync.Mutex

	rebuildPending atomic.Bool
	ready          atomic.Bool

	retryCfg      resilience.RetryConfig
	metrics       *metrics.Metrics
	logger        *slog.Logger
	lastReweights uint64

	// onMutate runs after every applied mutation, outside the write lock.
	// The HTTP layer hooks query-cache invalidation here.
	onMutate func()
}

// NewCoordinator builds a coordinator over empty indexes. Call Rebuild to
// load the published corpus from the store. Metrics may be nil in tests.
func NewCoordinator(store Store, opts Options, m *metrics.Metrics) *Coordinator {
	if opts.RetryConfig.MaxAttempts == 0 {
		opts.RetryConfig = resilience.DefaultRetryConfig()
	}
	return &Coordinator{
		store:    store,
		lexical:  lexical.NewIndex(opts.SnippetRadius),
		vector:   vector.NewIndex(opts.MinSimilarity, opts.ReweightThreshold),
		docs:     make(map[string]Document),
		retryCfg: opts.RetryConfig,
		metrics:  m,
		logger:   logger.WithComponent("coordinator"),
	}
}

// OnMutation registers a hook invoked after every applied mutation and
// after every completed rebuild.
func (c *Coordinator) OnMutation(fn func()) {
	c.onMutate = fn
}

// Ready reports whether the initial rebuild has completed.
func (c *Coordinator) Ready() bool {
	return c.ready.Load()
}

// DocCount returns the number of published documents currently indexed.
func (c *Coordinator) DocCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.docs)
}

// Apply folds one change event into the indexes and the document cache.
// Publish and update both upsert; a post whose payload is no longer
// published is removed instead, so status transitions arriving as updates
// are handled. Removal of an unknown post is a no-op. Application is
// idempotent.
func (c *Coordinator) Apply(ctx context.Context, event ChangeEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	switch event.Type {
	case EventPostPublished, EventPostUpdated:
		if event.Post.Status != StatusPublished {
			return c.remove(ctx, event.DocID())
		}
		return c.index(ctx, *event.Post)
	case EventPostUnpublished, EventPostDeleted:
		return c.remove(ctx, event.DocID())
	}
	return nil
}

func (c *Coordinator) index(ctx context.Context, doc Document) error {
	c.writeMu.Lock()
	err := c.lexical.Add(lexical.Document{
		ID:          doc.ID,
		TenantID:    doc.TenantID,
		Title:       doc.Title,
		Body:        doc.Body,
		UpdatedAt:   doc.UpdatedAt,
		PublishedAt: doc.PublishedAt,
	})
	if err != nil {
		c.writeMu.Unlock()
		return c.handleInconsistency(ctx, fmt.Errorf("indexing doc %s: %w", doc.ID, err))
	}
	c.vector.Upsert(vector.Document{
		ID:          doc.ID,
		TenantID:    doc.TenantID,
		Title:       doc.Title,
		Summary:     doc.Summary,
		Body:        doc.Body,
		Tags:        doc.Tags,
		UpdatedAt:   doc.UpdatedAt,
		PublishedAt: doc.PublishedAt,
	})
	c.mu.Lock()
	c.docs[doc.ID] = doc
	total := len(c.docs)
	c.mu.Unlock()
	c.recordMutation(true, total)
	c.writeMu.Unlock()

	c.notifyMutation()
	return nil
}

func (c *Coordinator) remove(ctx context.Context, docID string) error {
	c.writeMu.Lock()
	existed := true
	if err := c.lexical.Remove(docID); err != nil {
		if !errors.Is(err, apperrors.ErrUnknownDocument) {
			c.writeMu.Unlock()
			return c.handleInconsistency(ctx, fmt.Errorf("removing doc %s: %w", docID, err))
		}
		// Replayed or out-of-order event for a doc that was never indexed.
		existed = false
	}
	c.vector.Remove(docID)
	c.mu.Lock()
	delete(c.docs, docID)
	total := len(c.docs)
	c.mu.Unlock()
	if existed {
		c.recordMutation(false, total)
	}
	c.writeMu.Unlock()

	if existed {
		c.notifyMutation()
	}
	return nil
}

// handleInconsistency logs an invariant violation and schedules a background
// rebuild to restore the indexes from the store.
func (c *Coordinator) handleInconsistency(ctx context.Context, err error) error {
	if !errors.Is(err, apperrors.ErrIndexInconsistent) {
		return err
	}
	logger.FromContext(ctx).Error("index invariant violated, scheduling rebuild", "error", err)
	c.scheduleRebuild()
	return err
}

// scheduleRebuild starts at most one background rebuild at a time.
func (c *Coordinator) scheduleRebuild() {
	if !c.rebuildPending.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer c.rebuildPending.Store(false)
		if err := c.Rebuild(context.Background()); err != nil {
			c.logger.Error("background rebuild failed", "error", err)
		}
	}()
}

// Rebuild discards both indexes and the document cache and reloads every
// published post from the store. The store scan is retried with backoff;
// individual documents that fail validation or indexing are logged and
// skipped so one bad row cannot block recovery. Rebuild holds the write
// path for its full duration, so change events queue behind it and apply
// afterwards in order.
func (c *Coordinator) Rebuild(ctx context.Context) error {
	start := time.Now()

	var docs []Document
	err := resilience.Retry(ctx, c.retryCfg, "store scan", func(ctx context.Context) error {
		var scanErr error
		docs, scanErr = c.store.ListPublished(ctx, "")
		return scanErr
	})
	if err != nil {
		c.recordRebuild("failed", start)
		return fmt.Errorf("rebuild: %w", err)
	}

	c.writeMu.Lock()
	c.lexical.Reset()
	c.vector.Reset()
	fresh := make(map[string]Document, len(docs))
	skipped := 0
	for _, doc := range docs {
		if err := doc.Validate(); err != nil {
			c.logger.Warn("skipping document during rebuild", "doc_id", doc.ID, "error", err)
			skipped++
			continue
		}
		if doc.Status != StatusPublished {
			continue
		}
		if err := c.lexical.Add(lexical.Document{
			ID:          doc.ID,
			TenantID:    doc.TenantID,
			Title:       doc.Title,
			Body:        doc.Body,
			UpdatedAt:   doc.UpdatedAt,
			PublishedAt: doc.PublishedAt,
		}); err != nil {
			c.logger.Warn("skipping document during rebuild", "doc_id", doc.ID, "error", err)
			skipped++
			continue
		}
		c.vector.Upsert(vector.Document{
			ID:          doc.ID,
			TenantID:    doc.TenantID,
			Title:       doc.Title,
			Summary:     doc.Summary,
			Body:        doc.Body,
			Tags:        doc.Tags,
			UpdatedAt:   doc.UpdatedAt,
			PublishedAt: doc.PublishedAt,
		})
		fresh[doc.ID] = doc
	}
	c.mu.Lock()
	c.docs = fresh
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.IndexedDocuments.Set(float64(len(fresh)))
	}
	c.writeMu.Unlock()

	c.ready.Store(true)
	c.recordRebuild("ok", start)
	c.notifyMutation()
	c.logger.Info("index rebuild complete",
		"documents", len(fresh),
		"skipped", skipped,
		"duration", time.Since(start),
	)
	return nil
}

// LexicalSearch runs a BM25 query and resolves hits against the document
// cache. fallback reports whether the substring scan served the query.
func (c *Coordinator) LexicalSearch(ctx context.Context, query, tenantID string, limit, offset int) (results []SearchResult, fallback bool) {
	start := time.Now()
	hits, fallback := c.lexical.Search(query, tenantID, limit, offset)
	results = make([]SearchResult, 0, len(hits))
	c.mu.RLock()
	for _, hit := range hits {
		doc, ok := c.docs[hit.DocID]
		if !ok {
			continue
		}
		results = append(results, resolve(doc, hit.Score, hit.Snippet))
	}
	c.mu.RUnlock()
	c.observeSearch("lexical", start, fallback)
	return results, fallback
}

// SemanticSearch ranks documents by cosine similarity to the query text.
func (c *Coordinator) SemanticSearch(ctx context.Context, query, tenantID string, limit int) []SearchResult {
	start := time.Now()
	hits := c.vector.Query(query, tenantID, limit)
	results := make([]SearchResult, 0, len(hits))
	c.mu.RLock()
	for _, hit := range hits {
		doc, ok := c.docs[hit.DocID]
		if !ok {
			continue
		}
		results = append(results, resolve(doc, hit.Similarity, ""))
	}
	c.mu.RUnlock()
	c.observeSearch("semantic", start, false)
	return results
}

// Related returns the posts of the same blog most related to the given
// post, scored by tag and title-word overlap. A blog with no published
// posts yields ErrBlogNotFound; a post missing from the cache or belonging
// to another blog yields ErrDocumentNotFound.
func (c *Coordinator) Related(ctx context.Context, tenantID, postID string, limit int) ([]SearchResult, error) {
	start := time.Now()

	c.mu.RLock()
	source, ok := c.docs[postID]
	if !ok || source.TenantID != tenantID {
		known := false
		for _, doc := range c.docs {
			if doc.TenantID == tenantID {
				known = true
				break
			}
		}
		c.mu.RUnlock()
		if !known {
			return nil, apperrors.Newf(apperrors.ErrBlogNotFound, 404,
				"blog %s has no published posts", tenantID)
		}
		return nil, apperrors.Newf(apperrors.ErrDocumentNotFound, 404,
			"post %s not found in blog %s", postID, tenantID)
	}
	candidates := make([]related.Candidate, 0, 16)
	for _, doc := range c.docs {
		if doc.TenantID != tenantID {
			continue
		}
		candidates = append(candidates, related.Candidate{
			DocID:       doc.ID,
			Tags:        doc.Tags,
			TitleWords:  tokenizer.TermSet(doc.Title),
			PublishedAt: doc.PublishedAt,
		})
	}
	sourceCandidate := related.Candidate{
		DocID:      source.ID,
		Tags:       source.Tags,
		TitleWords: tokenizer.TermSet(source.Title),
	}
	hits := related.Rank(sourceCandidate, candidates, limit)
	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		doc, ok := c.docs[hit.DocID]
		if !ok {
			continue
		}
		results = append(results, resolve(doc, float64(hit.Score), ""))
	}
	c.mu.RUnlock()

	c.observeSearch("related", start, false)
	return results, nil
}

func resolve(doc Document, score float64, snippet string) SearchResult {
	return SearchResult{
		DocID:       doc.ID,
		TenantID:    doc.TenantID,
		Title:       doc.Title,
		Summary:     doc.Summary,
		Tags:        doc.Tags,
		Score:       score,
		Snippet:     snippet,
		PublishedAt: doc.PublishedAt,
		UpdatedAt:   doc.UpdatedAt,
	}
}

func (c *Coordinator) notifyMutation() {
	if c.onMutate != nil {
		c.onMutate()
	}
}

// recordMutation updates mutation counters and picks up any reweight passes
// the vector index ran as a side effect. Caller holds writeMu.
func (c *Coordinator) recordMutation(indexed bool, total int) {
	if c.metrics == nil {
		return
	}
	if indexed {
		c.metrics.DocsIndexedTotal.Inc()
	} else {
		c.metrics.DocsRemovedTotal.Inc()
	}
	c.metrics.IndexedDocuments.Set(float64(total))
	if reweights := c.vector.Stats().Reweights; reweights > c.lastReweights {
		c.metrics.VectorReweightsTotal.Add(float64(reweights - c.lastReweights))
		c.lastReweights = reweights
	}
}

func (c *Coordinator) recordRebuild(status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RebuildsTotal.WithLabelValues(status).Inc()
	if status == "ok" {
		c.metrics.RebuildDuration.Observe(time.Since(start).Seconds())
	}
}

func (c *Coordinator) observeSearch(mode string, start time.Time, fallback bool) {
	if c.metrics == nil {
		return
	}
	c.metrics.SearchesTotal.WithLabelValues(mode).Inc()
	c.metrics.SearchLatency.WithLabelValues(mode).Observe(time.Since(start).Seconds())
	if fallback {
		c.metrics.FallbackScansTotal.Inc()
	}
}
