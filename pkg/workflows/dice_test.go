package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiceCoefficient(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want float64
	}{
		{"identical", "Acme Corp", "Acme Corp", 1},
		{"case insensitive", "ACME", "acme", 1},
		{"disjoint", "Acme", "Zenith", 0},
		{"both empty", "", "", 0},
		{"one empty", "Acme", "", 0},
		{"single rune", "A", "A", 1},
		{"single rune vs word", "A", "Acme", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DiceCoefficient(tt.a, tt.b), 1e-9)
		})
	}
}

func TestDiceCoefficientNearMatch(t *testing.T) {
	// "night" vs "nacht": bigrams {ni,ig,gh,ht} and {na,ac,ch,ht}; one match.
	assert.InDelta(t, 0.25, DiceCoefficient("night", "nacht"), 1e-9)

	// Trailing punctuation barely moves the score.
	high := DiceCoefficient("Acme Corporation", "Acme Corporation.")
	assert.Greater(t, high, 0.9)
}

func TestSameEntityName(t *testing.T) {
	assert.True(t, SameEntityName("Acme Corp", "acme corp", DefaultNameThreshold))
	assert.False(t, SameEntityName("Acme Corp", "Initech", DefaultNameThreshold))
	// Zero threshold falls back to the default instead of matching everything.
	assert.False(t, SameEntityName("Acme Corp", "Initech", 0))
}

func TestMatchableName(t *testing.T) {
	assert.True(t, MatchableName("Acme"))
	assert.False(t, MatchableName(""))
	assert.False(t, MatchableName("unknown"))
}
