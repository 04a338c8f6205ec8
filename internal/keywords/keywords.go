// Package keywords turns free text into a bounded, ranked list of
// significant terms.
package keywords

import (
	"sort"
	"strings"
	"unicode"
)

// Max is the upper bound on how many keywords Extract returns.
const Max = 10

// minTokenLen is exclusive: tokens must be longer than this to count.
const minTokenLen = 4

// Common Spanish connective and function words, excluded from keyword
// extraction regardless of frequency.
var stopWords = map[string]struct{}{
	"el": {}, "la": {}, "de": {}, "que": {}, "y": {}, "a": {},
	"en": {}, "un": {}, "ser": {}, "se": {}, "no": {}, "haber": {},
	"por": {}, "con": {}, "su": {}, "para": {}, "como": {}, "estar": {},
	"tener": {}, "le": {}, "lo": {}, "todo": {},
}

// Extract returns up to Max significant terms from text, ordered by
// descending frequency. Ties keep the order of first occurrence. The
// function is total: any input, including empty text, yields a valid
// (possibly empty) list.
func Extract(text string) []string {
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, token := range tokenize(text) {
		if len([]rune(token)) <= minTokenLen {
			continue
		}
		if _, stop := stopWords[token]; stop {
			continue
		}
		if _, seen := counts[token]; !seen {
			order = append(order, token)
		}
		counts[token]++
	}

	// order is already first-occurrence; a stable sort by count keeps it
	// as the tie-breaker.
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})

	if len(order) > Max {
		order = order[:Max]
	}
	return order
}

// tokenize lowercases the text, replaces every rune that is not a
// letter, digit or whitespace with a space, and splits on whitespace.
func tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Fields(b.String())
}
