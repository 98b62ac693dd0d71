package workflows

import "strings"

// DefaultNameThreshold is the Dice similarity above which two entity names
// are treated as the same entity.
const DefaultNameThreshold = 0.85

// DiceCoefficient computes the Sørensen-Dice bigram coefficient between two
// strings, case-insensitively. It tolerates token reorderings common in
// company names while staying O(n+m).
func DiceCoefficient(a, b string) float64 {
	a = normalizeName(a)
	b = normalizeName(b)
	if a == b {
		if a == "" {
			return 0
		}
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}

	counts := make(map[string]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		counts[string(ra[i:i+2])]++
	}

	matches := 0
	for i := 0; i < len(rb)-1; i++ {
		bg := string(rb[i : i+2])
		if counts[bg] > 0 {
			counts[bg]--
			matches++
		}
	}

	return 2 * float64(matches) / float64(len(ra)-1+len(rb)-1)
}

// SameEntityName reports whether two names clear the similarity threshold.
func SameEntityName(a, b string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultNameThreshold
	}
	return DiceCoefficient(a, b) >= threshold
}

// MatchableName reports whether a projected display name can identify an
// entity. The unknown placeholder would match itself at full similarity, so
// it carries no identity.
func MatchableName(name string) bool {
	return name != "" && name != "unknown"
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
