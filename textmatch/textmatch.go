// Package textmatch scores how closely two pieces of short text agree.
//
// Matching is deliberately forgiving: platforms rewrite whitespace, strip
// trailing punctuation, expand links and trim display text, so byte
// equality is useless for recognizing a message we just posted. Instead
// both sides are reduced to normalized token sets and compared with the
// Jaccard index.
package textmatch

import (
	"sort"
	"strings"
	"unicode"
)

// minTokenLen is the shortest token kept after normalization. Shorter
// tokens (articles, single letters, stray digits) carry no identity.
const minTokenLen = 3

// Tokens normalizes s into its comparable token set: lowercased, with all
// punctuation stripped, split on whitespace, tokens shorter than three
// runes dropped, duplicates removed. The result is sorted so callers get a
// stable order.
func Tokens(s string) []string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return unicode.ToLower(r)
		case unicode.IsSpace(r):
			return ' '
		default:
			return ' '
		}
	}, s)

	seen := make(map[string]struct{})
	for _, f := range strings.Fields(cleaned) {
		if len([]rune(f)) < minTokenLen {
			continue
		}
		seen[f] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for tok := range seen {
		out = append(out, tok)
	}
	sort.Strings(out)
	return out
}

// Jaccard computes |a∩b| / |a∪b| over two token slices. Two empty sets are
// identical (1.0); one empty set shares nothing with a non-empty one (0.0).
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}

	set := make(map[string]struct{}, len(a))
	for _, tok := range a {
		set[tok] = struct{}{}
	}

	inter := 0
	union := len(set)
	counted := make(map[string]struct{}, len(b))
	for _, tok := range b {
		if _, dup := counted[tok]; dup {
			continue
		}
		counted[tok] = struct{}{}
		if _, ok := set[tok]; ok {
			inter++
		} else {
			union++
		}
	}
	return float64(inter) / float64(union)
}

// Similarity is the Jaccard index of the normalized token sets of a and b.
func Similarity(a, b string) float64 {
	return Jaccard(Tokens(a), Tokens(b))
}
