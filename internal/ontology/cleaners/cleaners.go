// Package cleaners normalizes free text coming from ontology descriptions and
// from user supplied concept definitions.
package cleaners

import (
	"strings"
	"unicode"
)

const edgePunctuation = `.,-+*%&:;?!{}()'="` + "[]"

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {}, "for": {}, "from": {}, "in": {},
	"is": {}, "it": {}, "of": {}, "on": {}, "that": {}, "the": {}, "this": {}, "to": {}, "was": {}, "with": {},
}

// IsStopWord reports whether w is dropped by CleanWords.
func IsStopWord(w string) bool {
	_, ok := stopWords[w]
	return ok
}

// CleanWords trims edge punctuation from each token and drops tokens that end up
// empty or are stop words. Order and duplicates are preserved.
//
// Trimming runs before the stop word check so the result is a fixed point:
// CleanWords(CleanWords(x)) == CleanWords(x).
func CleanWords(words []string) []string {
	out := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.Trim(w, edgePunctuation)
		if w == "" || IsStopWord(w) {
			continue
		}
		out = append(out, w)
	}
	return out
}

// CleanTerm collapses runs of whitespace outside double quotes to a single
// space and trims the ends. Quoted text is copied as is; an unbalanced quote
// extends to the end of the term.
func CleanTerm(term string) string {
	var b strings.Builder
	b.Grow(len(term))
	inQuote := false
	pendingSpace := false
	for _, r := range term {
		if r == '"' {
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			inQuote = !inQuote
			b.WriteRune(r)
			continue
		}
		if inQuote {
			b.WriteRune(r)
			continue
		}
		if unicode.IsSpace(r) {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// CleanCode strips surrounding whitespace and the trailing '.' padding used by
// Read codes, e.g. "C10E." -> "C10E".
func CleanCode(code string) string {
	return strings.TrimRight(strings.TrimSpace(code), ".")
}
