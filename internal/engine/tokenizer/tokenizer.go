// Package tokenizer provides text normalisation for the search and
// relevance engine. It lower-cases input, splits on non-alphanumeric
// boundaries, removes stop-words, and applies a suffix-stripping stemmer so
// inflected forms of a word collide to one term.
//
// All functions are pure and safe for concurrent use.
package tokenizer

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "but": {},
	"in": {}, "on": {}, "at": {}, "to": {}, "for": {}, "of": {},
	"with": {}, "by": {}, "is": {}, "it": {}, "as": {}, "be": {},
	"this": {}, "that": {}, "from": {}, "was": {}, "are": {}, "were": {},
	"been": {}, "has": {}, "have": {}, "had": {}, "not": {}, "no": {},
	"do": {}, "does": {}, "did": {}, "will": {}, "would": {}, "can": {},
	"could": {}, "should": {}, "may": {}, "might": {}, "we": {}, "you": {},
	"he": {}, "she": {}, "they": {}, "my": {}, "your": {}, "how": {},
	"what": {}, "why": {}, "when": {}, "where": {}, "which": {}, "who": {},
	"its": {}, "their": {}, "our": {}, "his": {}, "her": {}, "them": {},
	"us": {}, "me": {}, "than": {}, "then": {}, "so": {}, "if": {},
	"about": {}, "up": {}, "out": {}, "just": {}, "also": {}, "more": {},
	"some": {}, "any": {}, "all": {}, "each": {}, "every": {}, "into": {},
	"over": {}, "after": {}, "before": {}, "between": {}, "through": {},
	"during": {}, "very": {}, "most": {}, "other": {}, "such": {},
	"only": {}, "same": {}, "own": {}, "both": {}, "being": {},
	"here": {}, "there": {}, "these": {}, "those": {}, "while": {},
	"because": {},
}

// Token is a single normalised term and the ordinal position of the word it
// came from in the original text. Positions count every word, including
// those later discarded as stop-words, so they can be mapped back to the
// source text for snippet extraction.
type Token struct {
	Term     string
	Position int
}

// Words splits text into lower-cased runs of letters and digits, preserving
// order. It is the word segmentation shared by Tokenize and the snippet
// builder.
func Words(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Tokenize breaks text into a slice of stemmed, lower-cased Tokens with
// stop-words and single-character fragments removed. Empty or all-stop-word
// input yields an empty slice.
func Tokenize(text string) []Token {
	words := Words(text)
	tokens := make([]Token, 0, len(words)/2)
	for i, word := range words {
		if len(word) < 2 {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		stemmed := Stem(word)
		if stemmed == "" {
			continue
		}
		tokens = append(tokens, Token{
			Term:     stemmed,
			Position: i,
		})
	}
	return tokens
}

// Terms returns the unique stemmed terms of text, discarding positions.
func Terms(text string) []string {
	tokens := Tokenize(text)
	seen := make(map[string]struct{}, len(tokens))
	terms := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t.Term]; ok {
			continue
		}
		seen[t.Term] = struct{}{}
		terms = append(terms, t.Term)
	}
	return terms
}

// TermSet returns the stop-filtered, stemmed token set of text. Used for
// title-word overlap in the related-posts scorer.
func TermSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t.Term] = struct{}{}
	}
	return set
}

// suffixRules is ordered longest-suffix-first; the first matching rule wins.
var suffixRules = []struct {
	suffix      string
	replacement string
}{
	{"ational", "ate"},
	{"tional", "tion"},
	{"encies", "ence"},
	{"ancies", "ance"},
	{"fulness", "ful"},
	{"ousness", "ous"},
	{"iveness", "ive"},
	{"ization", "ize"},
	{"ements", "e"},
	{"nesses", "ness"},
	{"ments", "ment"},
	{"ating", "ate"},
	{"ition", "it"},
	{"ising", "ise"},
	{"izing", "ize"},
	{"ation", "ate"},
	{"ities", "ity"},
	{"ously", "ous"},
	{"ively", "ive"},
	{"fully", "ful"},
	{"ings", ""},
	{"ment", ""},
	{"ness", ""},
	{"ting", "t"},
	{"able", ""},
	{"ible", ""},
	{"ally", "al"},
	{"ence", ""},
	{"ance", ""},
	{"ious", ""},
	{"eous", ""},
	{"ing", ""},
	{"ies", "y"},
	{"ion", ""},
	{"ful", ""},
	{"ous", ""},
	{"ive", ""},
	{"ize", ""},
	{"ise", ""},
	{"ate", ""},
	{"ity", ""},
	{"ers", ""},
	{"est", ""},
	{"ess", ""},
	{"ism", ""},
	{"ist", ""},
	{"ant", ""},
	{"ent", ""},
	{"ed", ""},
	{"er", ""},
	{"ly", ""},
	{"es", ""},
	{"al", ""},
	{"s", ""},
}

// Stem applies a suffix-stripping stemmer to a lower-cased word. Words
// shorter than four characters are returned unchanged, and a rule only
// applies if it leaves a base of at least two characters.
func Stem(word string) string {
	if len(word) < 4 {
		return word
	}
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			base := word[:len(word)-len(rule.suffix)]
			if len(base) >= 2 {
				return base + rule.replacement
			}
		}
	}
	return word
}
