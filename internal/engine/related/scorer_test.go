package related

import (
	"testing"
	"time"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func words(ws ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(ws))
	for _, w := range ws {
		set[w] = struct{}{}
	}
	return set
}

func TestRankTagOverlapOutweighsTitleOverlap(t *testing.T) {
	source := Candidate{
		DocID:      "src",
		Tags:       []string{"golang", "testing"},
		TitleWords: words("table", "driven", "test"),
	}
	candidates := []Candidate{
		{DocID: "one-tag", Tags: []string{"golang"}, TitleWords: words("unrelated"), PublishedAt: baseTime},
		{DocID: "two-title-words", Tags: []string{"rust"}, TitleWords: words("table", "driven"), PublishedAt: baseTime},
	}
	hits := Rank(source, candidates, 10)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %+v", hits)
	}
	if hits[0].DocID != "one-tag" || hits[0].Score != 3 {
		t.Fatalf("expected single shared tag (score 3) to win, got %+v", hits)
	}
	if hits[1].DocID != "two-title-words" || hits[1].Score != 2 {
		t.Fatalf("expected two shared title words to score 2, got %+v", hits)
	}
}

func TestRankCombinesTagAndTitleScores(t *testing.T) {
	source := Candidate{
		DocID:      "src",
		Tags:       []string{"kafka", "streaming"},
		TitleWords: words("exactly", "once", "delivery"),
	}
	hits := Rank(source, []Candidate{
		{
			DocID:      "both",
			Tags:       []string{"kafka", "streaming"},
			TitleWords: words("exactly", "once"),
		},
	}, 10)
	if len(hits) != 1 || hits[0].Score != 3*2+2 {
		t.Fatalf("expected score 8 (two tags, two title words), got %+v", hits)
	}
}

func TestRankExcludesZeroScoresAndSource(t *testing.T) {
	source := Candidate{DocID: "src", Tags: []string{"golang"}, TitleWords: words("scheduler")}
	hits := Rank(source, []Candidate{
		{DocID: "src", Tags: []string{"golang"}, TitleWords: words("scheduler")},
		{DocID: "stranger", Tags: []string{"cooking"}, TitleWords: words("sourdough")},
	}, 10)
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestRankTieBreaksByPublishDate(t *testing.T) {
	source := Candidate{DocID: "src", Tags: []string{"golang"}}
	hits := Rank(source, []Candidate{
		{DocID: "older", Tags: []string{"golang"}, PublishedAt: baseTime},
		{DocID: "newer", Tags: []string{"golang"}, PublishedAt: baseTime.Add(time.Hour)},
	}, 10)
	if len(hits) != 2 || hits[0].DocID != "newer" {
		t.Fatalf("expected newest post first on equal scores, got %+v", hits)
	}
}

func TestRankTagMatchingIsCaseInsensitive(t *testing.T) {
	source := Candidate{DocID: "src", Tags: []string{"GoLang", " testing "}}
	hits := Rank(source, []Candidate{
		{DocID: "other", Tags: []string{"golang", "TESTING"}},
	}, 10)
	if len(hits) != 1 || hits[0].Score != 6 {
		t.Fatalf("expected both tags to match case-insensitively, got %+v", hits)
	}
}

func TestRankLimit(t *testing.T) {
	source := Candidate{DocID: "src", Tags: []string{"shared"}}
	candidates := make([]Candidate, 5)
	for i := range candidates {
		candidates[i] = Candidate{
			DocID:       string(rune('a' + i)),
			Tags:        []string{"shared"},
			PublishedAt: baseTime.Add(time.Duration(i) * time.Minute),
		}
	}
	if hits := Rank(source, candidates, 2); len(hits) != 2 {
		t.Fatalf("expected 2 hits with limit=2, got %+v", hits)
	}
}

func TestRankDuplicateTagsCountOnce(t *testing.T) {
	source := Candidate{DocID: "src", Tags: []string{"golang"}}
	hits := Rank(source, []Candidate{
		{DocID: "dup", Tags: []string{"golang", "golang", "Golang"}},
	}, 10)
	if len(hits) != 1 || hits[0].Score != 3 {
		t.Fatalf("expected duplicate tags to count once, got %+v", hits)
	}
}
