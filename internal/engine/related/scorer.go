// Package related ranks a blog's posts by relatedness to a source post
// using tag overlap and title-word overlap.
package related

import (
	"sort"
	"strings"
	"time"
)

// Tag overlap dominates title-word overlap.
const (
	tagOverlapWeight   = 3
	titleOverlapWeight = 1
)

// Candidate is one post considered for relatedness. TitleWords is the
// stop-filtered, stemmed token set of the title.
type Candidate struct {
	DocID       string
	Tags        []string
	TitleWords  map[string]struct{}
	PublishedAt time.Time
}

// Hit is a related post with its overlap score.
type Hit struct {
	DocID string `json:"doc_id"`
	Score int    `json:"score"`
}

// Rank scores every candidate against the source and returns the top limit
// hits, highest score first, ties broken by most recent publish date.
// Candidates with no overlap at all are excluded, as is the source itself.
func Rank(source Candidate, candidates []Candidate, limit int) []Hit {
	sourceTags := normalizeTags(source.Tags)

	type scored struct {
		Hit
		publishedAt time.Time
	}
	ranked := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.DocID == source.DocID {
			continue
		}
		score := tagOverlapWeight*countTagOverlap(sourceTags, c.Tags) +
			titleOverlapWeight*countSetOverlap(source.TitleWords, c.TitleWords)
		if score == 0 {
			continue
		}
		ranked = append(ranked, scored{
			Hit:         Hit{DocID: c.DocID, Score: score},
			publishedAt: c.PublishedAt,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if !ranked[i].publishedAt.Equal(ranked[j].publishedAt) {
			return ranked[i].publishedAt.After(ranked[j].publishedAt)
		}
		return ranked[i].DocID < ranked[j].DocID
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	hits := make([]Hit, len(ranked))
	for i, r := range ranked {
		hits[i] = r.Hit
	}
	return hits
}

func normalizeTags(tags []string) map[string]struct{} {
	set := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			set[t] = struct{}{}
		}
	}
	return set
}

func countTagOverlap(sourceTags map[string]struct{}, tags []string) int {
	n := 0
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := sourceTags[t]; ok {
			n++
		}
	}
	return n
}

func countSetOverlap(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
