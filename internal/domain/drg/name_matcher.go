package drg

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// DefaultSimilarityThreshold is the score at which two names are considered the same.
const DefaultSimilarityThreshold = 0.7

const (
	containmentBase  = 0.8
	containmentBonus = 0.2
	shortNameLength  = 3
	shortNamePenalty = 0.8
)

// ErrInvalidThreshold is returned by IsMatch when the threshold is not in (0, 1).
var ErrInvalidThreshold = errors.New("similarity threshold must be strictly between 0 and 1")

// SimilarityScore rates how alike two free-text names are, from 0 (unrelated or empty)
// to 1 (identical). Lengths and edits are counted in runes.
//
// A name contained in the other scores 0.8 plus up to 0.2 depending on how close the two
// lengths are. Otherwise the score is the normalized Levenshtein similarity, reduced by a
// fifth when the longer name has at most three runes.
func SimilarityScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	lenA := utf8.RuneCountInString(a)
	lenB := utf8.RuneCountInString(b)
	shorter, longer := lenA, lenB
	if shorter > longer {
		shorter, longer = longer, shorter
	}

	if strings.Contains(a, b) || strings.Contains(b, a) {
		return containmentBase + containmentBonus*float64(shorter)/float64(longer)
	}

	dist := levenshtein.ComputeDistance(a, b)
	score := 1 - float64(dist)/float64(longer)
	if longer <= shortNameLength {
		score *= shortNamePenalty
	}
	return score
}

// IsMatch reports whether the similarity of a and b reaches threshold.
func IsMatch(a, b string, threshold float64) (bool, error) {
	if !(threshold > 0 && threshold < 1) {
		return false, fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	if a == "" || b == "" {
		return false, nil
	}
	return SimilarityScore(a, b) >= threshold, nil
}

// IsMatchDefault is IsMatch at DefaultSimilarityThreshold.
func IsMatchDefault(a, b string) bool {
	ok, _ := IsMatch(a, b, DefaultSimilarityThreshold)
	return ok
}
