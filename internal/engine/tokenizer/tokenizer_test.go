package tokenizer

import (
	"reflect"
	"testing"
)

func TestStem(t *testing.T) {
	cases := map[string]string{
		"indexing":     "index",
		"indexed":      "index",
		"indexes":      "index",
		"searching":    "search",
		"searches":     "search",
		"deployment":   "deploy",
		"cats":         "cat",
		"quickly":      "quick",
		"operational":  "operate",
		"organization": "organize",
		// Below the length threshold, returned unchanged.
		"go":  "go",
		"api": "api",
		"the": "the",
	}
	for word, want := range cases {
		if got := Stem(word); got != want {
			t.Errorf("Stem(%q) = %q, want %q", word, got, want)
		}
	}
}

func TestStemInflectedFormsCollide(t *testing.T) {
	families := [][]string{
		{"indexing", "indexed", "indexes"},
		{"searching", "searches"},
		{"deploying", "deployment", "deployed"},
	}
	for _, family := range families {
		base := Stem(family[0])
		for _, word := range family[1:] {
			if got := Stem(word); got != base {
				t.Errorf("Stem(%q) = %q, want %q (same family as %q)", word, got, base, family[0])
			}
		}
	}
}

func TestTokenizePositions(t *testing.T) {
	// Positions count every raw word, including stop-words removed from
	// the token stream.
	tokens := Tokenize("The quick brown fox")
	want := []Token{
		{Term: "quick", Position: 1},
		{Term: "brown", Position: 2},
		{Term: "fox", Position: 3},
	}
	if !reflect.DeepEqual(tokens, want) {
		t.Fatalf("Tokenize() = %+v, want %+v", tokens, want)
	}
}

func TestTokenizeDropsStopWordsAndFragments(t *testing.T) {
	tokens := Tokenize("a b the and of it")
	if len(tokens) != 0 {
		t.Fatalf("expected no tokens for all-stop-word input, got %+v", tokens)
	}
}

func TestTokenizeEmptyInput(t *testing.T) {
	if tokens := Tokenize(""); len(tokens) != 0 {
		t.Fatalf("expected no tokens for empty input, got %+v", tokens)
	}
	if tokens := Tokenize("   \t\n  "); len(tokens) != 0 {
		t.Fatalf("expected no tokens for whitespace input, got %+v", tokens)
	}
	if tokens := Tokenize("!!! ... ???"); len(tokens) != 0 {
		t.Fatalf("expected no tokens for punctuation input, got %+v", tokens)
	}
}

func TestTokenizeSplitsOnPunctuation(t *testing.T) {
	tokens := Tokenize("kubernetes-based micro_services, v2!")
	terms := make([]string, len(tokens))
	for i, tok := range tokens {
		terms[i] = tok.Term
	}
	want := []string{"kubernet", "bas", "micro", "servic", "v2"}
	if !reflect.DeepEqual(terms, want) {
		t.Fatalf("terms = %v, want %v", terms, want)
	}
}

func TestTermsDeduplicates(t *testing.T) {
	terms := Terms("index indexing indexed")
	if len(terms) != 1 || terms[0] != "index" {
		t.Fatalf("Terms() = %v, want [index]", terms)
	}
}

func TestTermSet(t *testing.T) {
	set := TermSet("Deploying Kubernetes the hard way")
	for _, term := range []string{"deploy", "kubernet", "hard", "way"} {
		if _, ok := set[term]; !ok {
			t.Errorf("TermSet missing %q: %v", term, set)
		}
	}
	if _, ok := set["the"]; ok {
		t.Error("TermSet should not contain stop-words")
	}
}

func TestWordsPreservesOrder(t *testing.T) {
	words := Words("Go 1.22 routing: a PATTERN guide")
	want := []string{"go", "1", "22", "routing", "a", "pattern", "guide"}
	if !reflect.DeepEqual(words, want) {
		t.Fatalf("Words() = %v, want %v", words, want)
	}
}

func BenchmarkTokenize(b *testing.B) {
	text := "Deploying containerized applications with Kubernetes requires understanding " +
		"of pods, services, deployments, and the networking model that connects them"
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Tokenize(text)
	}
}

func BenchmarkStem(b *testing.B) {
	words := []string{"indexing", "deployment", "organization", "searches", "quickly"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Stem(words[i%len(words)])
	}
}
