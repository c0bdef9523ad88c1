package devices

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"spinsync/internal/core"
)

// MinNameSimilarity is the score a fuzzy name match must reach.
const MinNameSimilarity = 0.6

var (
	punctRegex      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// Match resolves a user-typed reference to a device: exact id, then normalized name,
// then the most similar name scoring at least MinNameSimilarity.
func Match(devices []core.Device, ref string) (core.Device, bool) {
	if d, ok := Find(devices, ref); ok {
		return d, true
	}

	want := NormalizeName(ref)
	if want == "" {
		return core.Device{}, false
	}

	var (
		best      core.Device
		bestScore float64
	)
	for _, d := range devices {
		name := NormalizeName(d.Name)
		if name == want {
			return d, true
		}
		if score := Similarity(name, want); score > bestScore {
			best, bestScore = d, score
		}
	}

	if bestScore >= MinNameSimilarity {
		return best, true
	}
	return core.Device{}, false
}

// NormalizeName folds case, accents, punctuation and repeated whitespace.
func NormalizeName(name string) string {
	name = norm.NFKD.String(name)

	var result strings.Builder
	for _, r := range name {
		if !unicode.IsMark(r) {
			result.WriteRune(r)
		}
	}
	name = result.String()

	name = punctRegex.ReplaceAllString(name, " ")
	name = whitespaceRegex.ReplaceAllString(name, " ")

	return strings.TrimSpace(strings.ToLower(name))
}

// Similarity is the longest common subsequence of a and b relative to the longer one, in [0, 1].
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if len(a) == 0 || len(b) == 0 {
		return 0.0
	}
	return float64(longestCommonSubsequence(a, b)) / float64(max(len(a), len(b)))
}

func longestCommonSubsequence(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
			} else {
				curr[j] = max(prev[j], curr[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}
