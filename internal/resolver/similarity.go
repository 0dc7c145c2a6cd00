package resolver

import (
	"strings"
	"unicode"
)

// legalSuffixes maps long-form company suffixes to their short forms so that
// "ACME Limited" and "ACME Ltd" compare as the same name.
var legalSuffixes = map[string]string{
	"limited":      "ltd",
	"incorporated": "inc",
	"corporation":  "corp",
	"company":      "co",
	"public":       "plc",
	"partnership":  "llp",
}

// NormalizeName lowercases, strips punctuation and collapses whitespace.
// Used for the exact-match path; no suffix folding here.
func NormalizeName(name string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range strings.ToLower(name) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

// canonicalName folds long-form legal suffixes before fuzzy comparison.
func canonicalName(name string) string {
	words := strings.Fields(NormalizeName(name))
	for i, w := range words {
		if short, ok := legalSuffixes[w]; ok {
			words[i] = short
		}
	}
	return strings.Join(words, " ")
}

// Similarity scores two organization names in [0,1] using trigram Jaccard
// over canonicalized forms.
func Similarity(a, b string) float64 {
	left := trigramSet(canonicalName(a))
	right := trigramSet(canonicalName(b))
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for t := range left {
		if _, ok := right[t]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}

	union := len(left) + len(right) - intersection
	if union <= 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// TextSimilarity scores arbitrary free text in [0,1] using trigram Jaccard
// over normalized forms. No legal-suffix folding; used for description
// comparison in duplicate detection.
func TextSimilarity(a, b string) float64 {
	left := trigramSet(NormalizeName(a))
	right := trigramSet(NormalizeName(b))
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	intersection := 0
	for t := range left {
		if _, ok := right[t]; ok {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}
	union := len(left) + len(right) - intersection
	return float64(intersection) / float64(union)
}

func trigramSet(text string) map[string]struct{} {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	if len(runes) < 3 {
		return map[string]struct{}{string(runes): {}}
	}

	set := make(map[string]struct{}, len(runes)-2)
	for i := 0; i <= len(runes)-3; i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}
