package services

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Normalize trims surrounding whitespace, collapses inner runs of spaces and
// lowercases the text.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}

// Similarity scores two texts in [0, 1] using the edit distance between
// their normalized forms relative to the longer one.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == nb {
		return 1
	}

	longest := utf8.RuneCountInString(na)
	if n := utf8.RuneCountInString(nb); n > longest {
		longest = n
	}
	if longest == 0 {
		return 1
	}

	distance := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(distance)/float64(longest)
}
