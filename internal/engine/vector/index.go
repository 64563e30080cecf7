// Package vector implements the TF-IDF document model behind semantic
// search. Each document is a sparse weight vector over stemmed terms;
// queries are projected into the same space and ranked by cosine similarity.
package vector

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bloghive/relevance/internal/engine/tokenizer"
)

const (
	defaultMinSimilarity     = 0.01
	defaultReweightThreshold = 0.1

	titleWeight   = 3.0
	summaryWeight = 2.0
	tagWeight     = 1.0
	bodyWeight    = 1.0
)

// Document is the indexable projection consumed by the vector index. Title,
// summary, and tags are weighted more heavily than body text when building
// the term-frequency profile.
type Document struct {
	ID          string
	TenantID    string
	Title       string
	Summary     string
	Body        string
	Tags        []string
	UpdatedAt   time.Time
	PublishedAt time.Time
}

// Hit is a single similarity-ranked result.
type Hit struct {
	DocID      string  `json:"doc_id"`
	Similarity float64 `json:"similarity"`
}

// Stats summarises the index contents.
type Stats struct {
	DocCount  int
	TermCount int
	Reweights uint64
}

// docVector keeps both the raw term-frequency profile and the IDF-weighted
// vector. Frequencies are retained so weights and norms can be recomputed
// exactly when corpus-wide IDF values shift.
type docVector struct {
	tenantID    string
	tf          map[string]float64
	weights     map[string]float64
	norm        float64
	updatedAt   time.Time
	publishedAt time.Time
}

// Index holds per-document vectors plus the corpus statistics (document
// frequencies and cached IDF values) shared by all of them.
//
// IDF maintenance trades exactness for write cost: each upsert or removal
// refreshes IDF only for the terms it touched, so vectors of untouched
// documents drift slightly stale as the corpus grows or shrinks. A full
// reweight pass restores exactness whenever the corpus size has moved by
// reweightThreshold (fraction) since the last pass, which bounds both the
// staleness and the amortised cost.
type Index struct {
	mu sync.RWMutex

	docs map[string]*docVector
	df   map[string]int
	idf  map[string]float64

	tenants map[string]map[string]struct{}

	lastReweightCount int
	reweights         uint64

	minSimilarity     float64
	reweightThreshold float64
}

// NewIndex creates an empty index. Non-positive parameters select defaults.
func NewIndex(minSimilarity, reweightThreshold float64) *Index {
	if minSimilarity <= 0 {
		minSimilarity = defaultMinSimilarity
	}
	if reweightThreshold <= 0 {
		reweightThreshold = defaultReweightThreshold
	}
	return &Index{
		docs:              make(map[string]*docVector),
		df:                make(map[string]int),
		idf:               make(map[string]float64),
		tenants:           make(map[string]map[string]struct{}),
		minSimilarity:     minSimilarity,
		reweightThreshold: reweightThreshold,
	}
}

// Upsert inserts or replaces the document's vector, refreshes IDF for every
// term whose document frequency changed, and runs a full reweight pass if
// the corpus size has drifted past the threshold.
func (ix *Index) Upsert(doc Document) {
	tf := buildTermFrequencies(doc)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	affected := make(map[string]struct{}, len(tf))
	for term := range tf {
		affected[term] = struct{}{}
	}
	if old, ok := ix.docs[doc.ID]; ok {
		for term := range old.tf {
			affected[term] = struct{}{}
			ix.df[term]--
			if ix.df[term] <= 0 {
				delete(ix.df, term)
			}
		}
		ix.removeFromTenantLocked(old.tenantID, doc.ID)
	}
	for term := range tf {
		ix.df[term]++
	}

	dv := &docVector{
		tenantID:    doc.TenantID,
		tf:          tf,
		updatedAt:   doc.UpdatedAt,
		publishedAt: doc.PublishedAt,
	}
	ix.docs[doc.ID] = dv
	if _, ok := ix.tenants[doc.TenantID]; !ok {
		ix.tenants[doc.TenantID] = make(map[string]struct{})
	}
	ix.tenants[doc.TenantID][doc.ID] = struct{}{}

	ix.refreshIDFLocked(affected)
	ix.reweightDocLocked(dv)
	ix.maybeReweightAllLocked()
}

// Remove deletes the document's vector and releases its document-frequency
// contributions. Removing an unknown doc_id is a no-op.
func (ix *Index) Remove(docID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	dv, ok := ix.docs[docID]
	if !ok {
		return
	}
	affected := make(map[string]struct{}, len(dv.tf))
	for term := range dv.tf {
		affected[term] = struct{}{}
		ix.df[term]--
		if ix.df[term] <= 0 {
			delete(ix.df, term)
		}
	}
	delete(ix.docs, docID)
	ix.removeFromTenantLocked(dv.tenantID, docID)

	ix.refreshIDFLocked(affected)
	ix.maybeReweightAllLocked()
}

// Query projects the query text into the vector space and returns documents
// with cosine similarity at or above the minimum, most similar first. Ties
// break by most recent update. An optional tenantID restricts candidates.
func (ix *Index) Query(text, tenantID string, limit int) []Hit {
	tokens := tokenizer.Tokenize(text)
	if len(tokens) == 0 {
		return []Hit{}
	}
	queryTF := make(map[string]float64, len(tokens))
	for _, tok := range tokens {
		queryTF[tok.Term] += 1.0
	}
	total := float64(len(tokens))

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	queryWeights := make(map[string]float64, len(queryTF))
	var queryNormSq float64
	for term, count := range queryTF {
		// Unknown terms fall back to neutral IDF so they still shape
		// the query vector's direction.
		idf, ok := ix.idf[term]
		if !ok {
			idf = 1.0
		}
		w := (count / total) * idf
		queryWeights[term] = w
		queryNormSq += w * w
	}
	queryNorm := math.Sqrt(queryNormSq)
	if queryNorm == 0 {
		return []Hit{}
	}

	var candidates map[string]struct{}
	if tenantID != "" {
		candidates = ix.tenants[tenantID]
		if len(candidates) == 0 {
			return []Hit{}
		}
	}

	score := func(docID string) (float64, bool) {
		dv := ix.docs[docID]
		if dv == nil || dv.norm == 0 {
			return 0, false
		}
		var dot float64
		for term, qw := range queryWeights {
			if dw, ok := dv.weights[term]; ok {
				dot += qw * dw
			}
		}
		if dot == 0 {
			return 0, false
		}
		sim := dot / (queryNorm * dv.norm)
		return sim, sim >= ix.minSimilarity
	}

	hits := make([]Hit, 0)
	if candidates != nil {
		for docID := range candidates {
			if sim, ok := score(docID); ok {
				hits = append(hits, Hit{DocID: docID, Similarity: sim})
			}
		}
	} else {
		for docID := range ix.docs {
			if sim, ok := score(docID); ok {
				hits = append(hits, Hit{DocID: docID, Similarity: sim})
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		di, dj := ix.docs[hits[i].DocID], ix.docs[hits[j].DocID]
		if !di.updatedAt.Equal(dj.updatedAt) {
			return di.updatedAt.After(dj.updatedAt)
		}
		return hits[i].DocID < hits[j].DocID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	for i := range hits {
		hits[i].Similarity = math.Round(hits[i].Similarity*10000) / 10000
	}
	return hits
}

// Stats returns document count, vocabulary size, and the number of full
// reweight passes performed so far.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		DocCount:  len(ix.docs),
		TermCount: len(ix.df),
		Reweights: ix.reweights,
	}
}

// Reset drops all vectors and statistics, returning the index to empty.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.docs = make(map[string]*docVector)
	ix.df = make(map[string]int)
	ix.idf = make(map[string]float64)
	ix.tenants = make(map[string]map[string]struct{})
	ix.lastReweightCount = 0
}

func (ix *Index) removeFromTenantLocked(tenantID, docID string) {
	if set, ok := ix.tenants[tenantID]; ok {
		delete(set, docID)
		if len(set) == 0 {
			delete(ix.tenants, tenantID)
		}
	}
}

// refreshIDFLocked recomputes the smoothed IDF for the given terms against
// the current corpus size.
func (ix *Index) refreshIDFLocked(terms map[string]struct{}) {
	n := float64(len(ix.docs))
	for term := range terms {
		df, ok := ix.df[term]
		if !ok {
			delete(ix.idf, term)
			continue
		}
		ix.idf[term] = computeIDF(n, float64(df))
	}
}

// maybeReweightAllLocked runs a full reweight pass when the corpus size has
// moved past the drift threshold since the last pass.
func (ix *Index) maybeReweightAllLocked() {
	n := len(ix.docs)
	if ix.lastReweightCount == 0 {
		ix.reweightAllLocked()
		return
	}
	drift := math.Abs(float64(n-ix.lastReweightCount)) / float64(ix.lastReweightCount)
	if drift >= ix.reweightThreshold {
		ix.reweightAllLocked()
	}
}

func (ix *Index) reweightAllLocked() {
	n := float64(len(ix.docs))
	for term, df := range ix.df {
		ix.idf[term] = computeIDF(n, float64(df))
	}
	for _, dv := range ix.docs {
		ix.reweightDocLocked(dv)
	}
	ix.lastReweightCount = len(ix.docs)
	ix.reweights++
}

// reweightDocLocked rebuilds a document's weight vector and cached L2 norm
// from its raw term frequencies and the current IDF table.
func (ix *Index) reweightDocLocked(dv *docVector) {
	weights := make(map[string]float64, len(dv.tf))
	var normSq float64
	for term, tf := range dv.tf {
		idf, ok := ix.idf[term]
		if !ok {
			idf = 1.0
		}
		w := tf * idf
		weights[term] = w
		normSq += w * w
	}
	dv.weights = weights
	dv.norm = math.Sqrt(normSq)
}

// buildTermFrequencies folds the document's fields into one length-normalised
// term-frequency profile, counting title, summary, and tag occurrences more
// heavily than body text.
func buildTermFrequencies(doc Document) map[string]float64 {
	counts := make(map[string]float64)
	var total float64

	add := func(text string, weight float64) {
		for _, tok := range tokenizer.Tokenize(text) {
			counts[tok.Term] += weight
			total += weight
		}
	}
	add(doc.Title, titleWeight)
	add(doc.Summary, summaryWeight)
	for _, tag := range doc.Tags {
		add(tag, tagWeight)
	}
	add(doc.Body, bodyWeight)

	if total == 0 {
		return counts
	}
	for term := range counts {
		counts[term] /= total
	}
	return counts
}

// computeIDF is the smoothed inverse document frequency, strictly positive
// even for terms present in every document.
func computeIDF(totalDocs, docFreq float64) float64 {
	return math.Log((totalDocs+1)/(docFreq+1)) + 1
}
