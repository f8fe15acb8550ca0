package helper

import (
	"math"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"did": {}, "do": {}, "does": {}, "for": {}, "from": {}, "had": {}, "has": {},
	"have": {}, "how": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {}, "of": {},
	"on": {}, "or": {}, "the": {}, "their": {}, "this": {}, "to": {}, "was": {},
	"were": {}, "what": {}, "when": {}, "which": {}, "who": {}, "with": {},
}

// Tokenize lower-cases text and splits it on every rune that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// IsStopword reports whether token is a common English function word
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// QueryTerms returns the unique, non-stopword tokens of text with at least minLen runes,
// in order of first appearance.
func QueryTerms(text string, minLen int) []string {
	seen := make(map[string]struct{})
	var terms []string
	for _, token := range Tokenize(text) {
		if len([]rune(token)) < minLen || IsStopword(token) {
			continue
		}
		if _, ok := seen[token]; ok {
			continue
		}
		seen[token] = struct{}{}
		terms = append(terms, token)
	}
	return terms
}

// NormalizeText lower-cases text and collapses all whitespace runs to a single space.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Clamp limits v to [lo, hi]. NaN maps to lo.
func Clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
