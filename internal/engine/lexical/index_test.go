package lexical

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	apperrors "github.com/bloghive/relevance/pkg/errors"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func doc(id, tenant, title, body string, updated time.Time) Document {
	return Document{
		ID:          id,
		TenantID:    tenant,
		Title:       title,
		Body:        body,
		UpdatedAt:   updated,
		PublishedAt: updated,
	}
}

func mustAdd(t *testing.T, ix *Index, d Document) {
	t.Helper()
	if err := ix.Add(d); err != nil {
		t.Fatalf("Add(%s): %v", d.ID, err)
	}
}

func TestSearchMatchesStemmedTerms(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "Indexing strategies",
		"Modern indexing pipelines rebuild the inverted structures incrementally", baseTime))
	mustAdd(t, ix, doc("p2", "blog-a", "Deployment guide",
		"Deploying services to production requires careful rollout planning", baseTime))

	hits, fallback := ix.Search("indexed", "blog-a", 10, 0)
	if fallback {
		t.Fatal("expected ranked search, got fallback")
	}
	if len(hits) != 1 || hits[0].DocID != "p1" {
		t.Fatalf("expected [p1], got %+v", hits)
	}
	if hits[0].Score <= 0 {
		t.Fatalf("expected positive score, got %g", hits[0].Score)
	}
}

func TestSearchHigherTermFrequencyRanksFirst(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "Post A",
		"index rebuild index rebuild speed", baseTime))
	mustAdd(t, ix, doc("p2", "blog-a", "Post B",
		"index rebuild cache rebuild speed", baseTime))

	hits, _ := ix.Search("index", "blog-a", 10, 0)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %+v", hits)
	}
	if hits[0].DocID != "p1" {
		t.Fatalf("expected p1 (higher tf) first, got %+v", hits)
	}
	if hits[0].Score <= hits[1].Score {
		t.Fatalf("expected strictly higher score for p1: %+v", hits)
	}
}

func TestSearchTieBreaksByMostRecentUpdate(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "Post A", "identical body text here", baseTime))
	mustAdd(t, ix, doc("p2", "blog-a", "Post B", "identical body text here", baseTime.Add(time.Hour)))

	hits, _ := ix.Search("identical", "blog-a", 10, 0)
	if len(hits) != 2 || hits[0].DocID != "p2" {
		t.Fatalf("expected most recently updated first, got %+v", hits)
	}
}

func TestSearchTenantIsolation(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "Shared topic", "kubernetes networking deep dive", baseTime))
	mustAdd(t, ix, doc("p2", "blog-b", "Shared topic", "kubernetes networking deep dive", baseTime))

	hits, _ := ix.Search("kubernetes", "blog-a", 10, 0)
	if len(hits) != 1 || hits[0].DocID != "p1" {
		t.Fatalf("expected only blog-a's post, got %+v", hits)
	}
	hits, _ = ix.Search("kubernetes", "blog-nope", 10, 0)
	if len(hits) != 0 {
		t.Fatalf("expected no hits for unknown tenant, got %+v", hits)
	}
	hits, _ = ix.Search("kubernetes", "", 10, 0)
	if len(hits) != 2 {
		t.Fatalf("expected both posts for global search, got %+v", hits)
	}
}

func TestSearchFallbackOnUntokenizableQuery(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "Operator overloading",
		"A tour of c++ operator overloading pitfalls", baseTime))
	mustAdd(t, ix, doc("p2", "blog-a", "Go generics",
		"Type parameters without the sharp edges", baseTime.Add(time.Hour)))

	hits, fallback := ix.Search("++", "blog-a", 10, 0)
	if !fallback {
		t.Fatal("expected fallback scan for punctuation-only query")
	}
	if len(hits) != 1 || hits[0].DocID != "p1" {
		t.Fatalf("expected substring match [p1], got %+v", hits)
	}
	if hits[0].Score != 0 {
		t.Fatalf("fallback hits must be unscored, got %g", hits[0].Score)
	}
}

func TestSearchFallbackOrdersByPublishDate(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "First", "demonstration of concurrency patterns", baseTime))
	mustAdd(t, ix, doc("p2", "blog-a", "Second", "demonstration of concurrency patterns", baseTime.Add(time.Hour)))

	// A stop-word query yields no terms, forcing the scan; "on" still
	// matches both bodies as a literal substring.
	hits, fallback := ix.Search("on", "blog-a", 10, 0)
	if !fallback {
		t.Fatal("expected fallback for stop-word-only query")
	}
	if len(hits) != 2 || hits[0].DocID != "p2" {
		t.Fatalf("expected newest-first fallback order, got %+v", hits)
	}
}

func TestSearchSnippetMarksMatch(t *testing.T) {
	ix := NewIndex(3)
	body := "alpha beta gamma delta epsilon zeta indexing eta theta iota kappa lambda"
	mustAdd(t, ix, doc("p1", "blog-a", "Snippets", body, baseTime))

	hits, _ := ix.Search("indexing", "blog-a", 10, 0)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %+v", hits)
	}
	want := "… delta epsilon zeta <b>indexing</b> eta theta iota …"
	if hits[0].Snippet != want {
		t.Fatalf("snippet = %q, want %q", hits[0].Snippet, want)
	}
}

func TestSearchSnippetTitleOnlyMatchUsesLeadingBody(t *testing.T) {
	ix := NewIndex(3)
	mustAdd(t, ix, doc("p1", "blog-a", "Weaviate benchmarks",
		"alpha beta gamma delta epsilon zeta eta theta", baseTime))

	hits, _ := ix.Search("weaviate", "blog-a", 10, 0)
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %+v", hits)
	}
	if !strings.HasPrefix(hits[0].Snippet, "alpha beta gamma") {
		t.Fatalf("expected leading-body snippet, got %q", hits[0].Snippet)
	}
}

func TestSearchPagination(t *testing.T) {
	ix := NewIndex(0)
	for i := 0; i < 5; i++ {
		mustAdd(t, ix, doc(fmt.Sprintf("p%d", i), "blog-a", "Paging",
			"pagination example body", baseTime.Add(time.Duration(i)*time.Minute)))
	}

	hits, _ := ix.Search("pagination", "blog-a", 2, 0)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits with limit=2, got %d", len(hits))
	}
	page2, _ := ix.Search("pagination", "blog-a", 2, 2)
	if len(page2) != 2 {
		t.Fatalf("expected 2 hits on second page, got %d", len(page2))
	}
	if page2[0].DocID == hits[0].DocID || page2[0].DocID == hits[1].DocID {
		t.Fatalf("pages overlap: %+v vs %+v", hits, page2)
	}
	if empty, _ := ix.Search("pagination", "blog-a", 2, 10); len(empty) != 0 {
		t.Fatalf("expected empty page past the end, got %+v", empty)
	}
}

func TestAddIsIdempotent(t *testing.T) {
	ix := NewIndex(0)
	d := doc("p1", "blog-a", "Idempotency", "applying twice changes nothing", baseTime)
	mustAdd(t, ix, d)
	hitsOnce, _ := ix.Search("applying", "blog-a", 10, 0)

	mustAdd(t, ix, d)
	hitsTwice, _ := ix.Search("applying", "blog-a", 10, 0)

	if stats := ix.Stats(); stats.DocCount != 1 {
		t.Fatalf("expected 1 doc after re-add, got %d", stats.DocCount)
	}
	if len(hitsOnce) != 1 || len(hitsTwice) != 1 || hitsOnce[0].Score != hitsTwice[0].Score {
		t.Fatalf("re-add changed results: %+v vs %+v", hitsOnce, hitsTwice)
	}
}

func TestRemove(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "Removable", "temporary content for removal", baseTime))

	if err := ix.Remove("ghost"); !errors.Is(err, apperrors.ErrUnknownDocument) {
		t.Fatalf("removing unknown doc: got %v, want ErrUnknownDocument", err)
	}
	if stats := ix.Stats(); stats.DocCount != 1 {
		t.Fatalf("unknown-doc removal must leave the index untouched, got %+v", stats)
	}
	if err := ix.Remove("p1"); err != nil {
		t.Fatalf("Remove(p1): %v", err)
	}
	if ix.Contains("p1") {
		t.Fatal("p1 still present after removal")
	}
	if hits, _ := ix.Search("temporary", "blog-a", 10, 0); len(hits) != 0 {
		t.Fatalf("expected no hits after removal, got %+v", hits)
	}
	if stats := ix.Stats(); stats.DocCount != 0 || stats.TermCount != 0 {
		t.Fatalf("expected empty stats after removal, got %+v", stats)
	}
}

func TestReset(t *testing.T) {
	ix := NewIndex(0)
	mustAdd(t, ix, doc("p1", "blog-a", "Reset", "content to discard", baseTime))
	ix.Reset()
	if stats := ix.Stats(); stats.DocCount != 0 || stats.TermCount != 0 || stats.AvgDocLength != 0 {
		t.Fatalf("expected empty index after reset, got %+v", stats)
	}
	if hits, _ := ix.Search("content", "blog-a", 10, 0); len(hits) != 0 {
		t.Fatalf("expected no hits after reset, got %+v", hits)
	}
}

func BenchmarkSearch(b *testing.B) {
	ix := NewIndex(0)
	topics := []string{"kubernetes", "postgres", "kafka", "redis", "golang", "observability"}
	for i := 0; i < 1000; i++ {
		topic := topics[i%len(topics)]
		body := fmt.Sprintf("running %s in production with monitoring alerting and capacity planning iteration %d",
			topic, i)
		d := doc(fmt.Sprintf("p%d", i), fmt.Sprintf("blog-%d", i%10), "Production notes", body,
			baseTime.Add(time.Duration(i)*time.Second))
		if err := ix.Add(d); err != nil {
			b.Fatal(err)
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ix.Search("kubernetes monitoring", "blog-3", 20, 0)
	}
}
