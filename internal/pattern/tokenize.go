// Package pattern compiles resolved diagnostic events into reusable
// patterns and ranks the corpus against free-text queries.
package pattern

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Tokenize lower-cases the input, splits on non-alphanumeric boundaries,
// and drops tokens shorter than two runes. Boundaries are Unicode-aware,
// so accented words stay whole. Both the compiler's triggers and the
// matcher's queries go through this one function so a token means the
// same thing on both sides.
func Tokenize(text string) []string {
	lowered := strings.ToLower(text)
	fields := strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if utf8.RuneCountInString(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}

// uniqueTokens returns Tokenize output with duplicates removed,
// preserving first-occurrence order.
func uniqueTokens(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, tok := range Tokenize(text) {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range Tokenize(text) {
		set[tok] = true
	}
	return set
}
