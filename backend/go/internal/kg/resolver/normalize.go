package resolver

import (
	"sort"
	"strings"
	"unicode"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// NormalizeName decomposes, strips diacritics, case-folds and collapses
// punctuation and whitespace. "José  O'Neil" becomes "jose o neil".
func NormalizeName(name string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, err := transform.String(t, name)
	if err != nil {
		s = name
	}
	s = folder.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// matchKey is the token-sorted normalized name, so "Smith, John" and
// "John Smith" compare equal.
func matchKey(name string) string {
	tokens := strings.Fields(NormalizeName(name))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// nameInitial is the blocking key of a match key.
func nameInitial(key string) string {
	for _, r := range key {
		return string(r)
	}
	return ""
}

// similarity is 1 - levenshtein/maxLen over runes, in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(fuzzy.LevenshteinDistance(a, b))/float64(longest)
}
