// Package lexical implements the in-memory inverted index behind full-text
// post search. Postings carry term frequencies and word positions so queries
// can be BM25-ranked and results annotated with a snippet of the matched
// body text.
package lexical

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bloghive/relevance/internal/engine/tokenizer"
	apperrors "github.com/bloghive/relevance/pkg/errors"
)

// BM25 constants.
const (
	k1 = 1.2
	b  = 0.75
)

const defaultSnippetRadius = 12

// Document is the indexable projection consumed by the lexical index.
type Document struct {
	ID          string
	TenantID    string
	Title       string
	Body        string
	UpdatedAt   time.Time
	PublishedAt time.Time
}

// Hit is a single ranked search result. Score is 0 for hits produced by the
// substring fallback scan.
type Hit struct {
	DocID   string  `json:"doc_id"`
	Score   float64 `json:"score"`
	Snippet string  `json:"snippet"`
}

// Stats summarises the index contents.
type Stats struct {
	DocCount     int
	TermCount    int
	AvgDocLength float64
}

// posting records the occurrences of one term in one document. Positions are
// word ordinals within the body only; title occurrences contribute to the
// term frequency but carry no position.
type posting struct {
	tf        int
	positions []int
}

type docEntry struct {
	tenantID    string
	title       string
	body        string
	tokenCount  int
	terms       []string
	updatedAt   time.Time
	publishedAt time.Time
}

// Index is an inverted index from stemmed term to postings list, with the
// corpus statistics BM25 needs. Reads may run concurrently; mutations are
// serialized by the write lock and update postings and statistics as a unit.
type Index struct {
	mu            sync.RWMutex
	postings      map[string]map[string]*posting
	docs          map[string]*docEntry
	tenants       map[string]map[string]struct{}
	totalTokens   int64
	snippetRadius int
}

// NewIndex creates an empty index. A snippetRadius <= 0 selects the default
// window of words kept around the first match.
func NewIndex(snippetRadius int) *Index {
	if snippetRadius <= 0 {
		snippetRadius = defaultSnippetRadius
	}
	return &Index{
		postings:      make(map[string]map[string]*posting),
		docs:          make(map[string]*docEntry),
		tenants:       make(map[string]map[string]struct{}),
		snippetRadius: snippetRadius,
	}
}

// Add indexes the document's title and body, replacing any postings from a
// previous version of the same document first. Re-adding identical content
// is idempotent.
func (ix *Index) Add(doc Document) error {
	titleTokens := tokenizer.Tokenize(doc.Title)
	bodyTokens := tokenizer.Tokenize(doc.Body)

	termData := make(map[string]*posting)
	for _, tok := range bodyTokens {
		p, ok := termData[tok.Term]
		if !ok {
			p = &posting{positions: make([]int, 0, 4)}
			termData[tok.Term] = p
		}
		p.tf++
		p.positions = append(p.positions, tok.Position)
	}
	for _, tok := range titleTokens {
		p, ok := termData[tok.Term]
		if !ok {
			p = &posting{}
			termData[tok.Term] = p
		}
		p.tf++
	}

	terms := make([]string, 0, len(termData))
	for term := range termData {
		terms = append(terms, term)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.removeLocked(doc.ID); err != nil {
		return err
	}

	for term, p := range termData {
		if _, ok := ix.postings[term]; !ok {
			ix.postings[term] = make(map[string]*posting)
		}
		ix.postings[term][doc.ID] = p
	}
	ix.docs[doc.ID] = &docEntry{
		tenantID:    doc.TenantID,
		title:       doc.Title,
		body:        doc.Body,
		tokenCount:  len(titleTokens) + len(bodyTokens),
		terms:       terms,
		updatedAt:   doc.UpdatedAt,
		publishedAt: doc.PublishedAt,
	}
	if _, ok := ix.tenants[doc.TenantID]; !ok {
		ix.tenants[doc.TenantID] = make(map[string]struct{})
	}
	ix.tenants[doc.TenantID][doc.ID] = struct{}{}
	ix.totalTokens += int64(len(titleTokens) + len(bodyTokens))
	return nil
}

// Remove deletes all postings for the document. An unknown doc_id leaves
// the index untouched and reports ErrUnknownDocument; callers replaying
// change events treat it as a no-op.
func (ix *Index) Remove(docID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.docs[docID]; !ok {
		return apperrors.Newf(apperrors.ErrUnknownDocument, 404, "doc %s is not indexed", docID)
	}
	return ix.removeLocked(docID)
}

// removeLocked drops the document's postings and statistics. A term recorded
// on the document but missing from the vocabulary means the postings and the
// per-document term list have diverged; cleanup continues so the index is
// left usable, but the violation is reported.
func (ix *Index) removeLocked(docID string) error {
	entry, ok := ix.docs[docID]
	if !ok {
		return nil
	}
	var inconsistent []string
	for _, term := range entry.terms {
		m, ok := ix.postings[term]
		if !ok {
			inconsistent = append(inconsistent, term)
			continue
		}
		delete(m, docID)
		if len(m) == 0 {
			delete(ix.postings, term)
		}
	}
	ix.totalTokens -= int64(entry.tokenCount)
	delete(ix.docs, docID)
	if set, ok := ix.tenants[entry.tenantID]; ok {
		delete(set, docID)
		if len(set) == 0 {
			delete(ix.tenants, entry.tenantID)
		}
	}
	if len(inconsistent) > 0 {
		return apperrors.Newf(apperrors.ErrIndexInconsistent, 500,
			"doc %s carried terms with no vocabulary entry: %s", docID, strings.Join(inconsistent, ","))
	}
	return nil
}

// Search tokenizes the query with the indexing pipeline and ranks matching
// documents by summed BM25 score, ties broken by most recent update. If the
// query yields no terms at all, it falls back to a literal case-insensitive
// substring scan and reports fallback=true; fallback hits are unscored and
// ordered by publish date. An optional tenantID restricts candidates to that
// tenant's documents before scoring.
func (ix *Index) Search(query, tenantID string, limit, offset int) (hits []Hit, fallback bool) {
	terms := tokenizer.Terms(query)

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if len(terms) == 0 {
		return ix.scanLocked(query, tenantID, limit, offset), true
	}

	var scope map[string]struct{}
	if tenantID != "" {
		scope = ix.tenants[tenantID]
		if len(scope) == 0 {
			return []Hit{}, false
		}
	}

	totalDocs := len(ix.docs)
	avgDocLen := ix.avgDocLengthLocked()

	scores := make(map[string]float64)
	for _, term := range terms {
		m, ok := ix.postings[term]
		if !ok {
			continue
		}
		idf := computeIDF(totalDocs, len(m))
		for docID, p := range m {
			if scope != nil {
				if _, ok := scope[docID]; !ok {
					continue
				}
			}
			entry := ix.docs[docID]
			scores[docID] += idf * computeTFNorm(float64(p.tf), float64(entry.tokenCount), avgDocLen)
		}
	}

	ranked := make([]string, 0, len(scores))
	for docID := range scores {
		ranked = append(ranked, docID)
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := scores[ranked[i]], scores[ranked[j]]
		if si != sj {
			return si > sj
		}
		di, dj := ix.docs[ranked[i]], ix.docs[ranked[j]]
		if !di.updatedAt.Equal(dj.updatedAt) {
			return di.updatedAt.After(dj.updatedAt)
		}
		return ranked[i] < ranked[j]
	})

	ranked = paginate(ranked, limit, offset)
	hits = make([]Hit, 0, len(ranked))
	for _, docID := range ranked {
		hits = append(hits, Hit{
			DocID:   docID,
			Score:   math.Round(scores[docID]*10000) / 10000,
			Snippet: ix.snippetLocked(docID, terms),
		})
	}
	return hits, false
}

// scanLocked is the degenerate-query path: a literal substring match over
// titles and bodies, in store order. It never fails, which keeps the search
// endpoint total over punctuation-only or otherwise untokenizable input.
func (ix *Index) scanLocked(query, tenantID string, limit, offset int) []Hit {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return []Hit{}
	}
	matched := make([]string, 0)
	for docID, entry := range ix.docs {
		if tenantID != "" && entry.tenantID != tenantID {
			continue
		}
		if strings.Contains(strings.ToLower(entry.title), needle) ||
			strings.Contains(strings.ToLower(entry.body), needle) {
			matched = append(matched, docID)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		di, dj := ix.docs[matched[i]], ix.docs[matched[j]]
		if !di.publishedAt.Equal(dj.publishedAt) {
			return di.publishedAt.After(dj.publishedAt)
		}
		return matched[i] < matched[j]
	})
	matched = paginate(matched, limit, offset)
	hits := make([]Hit, 0, len(matched))
	for _, docID := range matched {
		hits = append(hits, Hit{
			DocID:   docID,
			Snippet: ix.leadingSnippetLocked(docID),
		})
	}
	return hits
}

// snippetLocked extracts a bounded window of body text around the first
// stored position of any matched query term, marking matched words.
func (ix *Index) snippetLocked(docID string, terms []string) string {
	entry, ok := ix.docs[docID]
	if !ok {
		return ""
	}
	termSet := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		termSet[t] = struct{}{}
	}

	first := -1
	for _, term := range terms {
		m, ok := ix.postings[term]
		if !ok {
			continue
		}
		p, ok := m[docID]
		if !ok || len(p.positions) == 0 {
			continue
		}
		if first == -1 || p.positions[0] < first {
			first = p.positions[0]
		}
	}
	words := tokenizer.Words(entry.body)
	if len(words) == 0 {
		return ""
	}
	if first == -1 {
		// Title-only match: lead with the opening of the body.
		first = 0
	}

	lo := first - ix.snippetRadius
	if lo < 0 {
		lo = 0
	}
	hi := first + ix.snippetRadius + 1
	if hi > len(words) {
		hi = len(words)
	}

	var sb strings.Builder
	if lo > 0 {
		sb.WriteString("… ")
	}
	for i := lo; i < hi; i++ {
		if i > lo {
			sb.WriteByte(' ')
		}
		if _, ok := termSet[tokenizer.Stem(words[i])]; ok {
			sb.WriteString("<b>")
			sb.WriteString(words[i])
			sb.WriteString("</b>")
		} else {
			sb.WriteString(words[i])
		}
	}
	if hi < len(words) {
		sb.WriteString(" …")
	}
	return sb.String()
}

func (ix *Index) leadingSnippetLocked(docID string) string {
	entry, ok := ix.docs[docID]
	if !ok {
		return ""
	}
	words := tokenizer.Words(entry.body)
	hi := 2*ix.snippetRadius + 1
	if hi > len(words) {
		hi = len(words)
	}
	snippet := strings.Join(words[:hi], " ")
	if hi < len(words) {
		snippet += " …"
	}
	return snippet
}

// Contains reports whether the document is currently indexed.
func (ix *Index) Contains(docID string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.docs[docID]
	return ok
}

// Stats returns document count, vocabulary size, and average document length.
func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return Stats{
		DocCount:     len(ix.docs),
		TermCount:    len(ix.postings),
		AvgDocLength: ix.avgDocLengthLocked(),
	}
}

// Reset drops all postings and statistics, returning the index to empty.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.postings = make(map[string]map[string]*posting)
	ix.docs = make(map[string]*docEntry)
	ix.tenants = make(map[string]map[string]struct{})
	ix.totalTokens = 0
}

func (ix *Index) avgDocLengthLocked() float64 {
	if len(ix.docs) == 0 {
		return 0
	}
	return float64(ix.totalTokens) / float64(len(ix.docs))
}

func computeIDF(totalDocs, docFreq int) float64 {
	return math.Log(1 + (float64(totalDocs)-float64(docFreq)+0.5)/(float64(docFreq)+0.5))
}

func computeTFNorm(termFreq, docLength, avgDocLength float64) float64 {
	if avgDocLength == 0 {
		return 0
	}
	lengthRatio := docLength / avgDocLength
	return (termFreq * (k1 + 1)) / (termFreq + k1*(1-b+b*lengthRatio))
}

func paginate(ids []string, limit, offset int) []string {
	if offset > 0 {
		if offset >= len(ids) {
			return nil
		}
		ids = ids[offset:]
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids
}
