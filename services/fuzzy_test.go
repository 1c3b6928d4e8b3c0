package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	assert.Equal(t, "apple pie", Normalize("  Apple   PIE "))
	assert.Equal(t, "", Normalize("   "))
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		guess   string
		correct bool
	}{
		{"apple pie", true},
		{"Apple Pie", true},
		{" apple  pie ", true},
		{"aple pie", true},
		{"apple pi", true},
		{"banana bread", false},
		{"pie", false},
	}

	for _, tt := range tests {
		t.Run(tt.guess, func(t *testing.T) {
			score := Similarity(tt.guess, "apple pie")
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
			assert.Equal(t, tt.correct, score >= 0.8, "similarity %v", score)
		})
	}
}

func TestSimilarityExactMatchIsOne(t *testing.T) {
	assert.Equal(t, 1.0, Similarity("APPLE PIE", "apple pie"))
	assert.InDelta(t, 1-1.0/9, Similarity("aple pie", "apple pie"), 1e-9)
}

func TestPlayerIDIgnoresCaseAndSpace(t *testing.T) {
	id := PlayerID("Alice")
	assert.Equal(t, id, PlayerID(" alice "))
	assert.NotEqual(t, id, PlayerID("bob"))
	assert.Len(t, id, len("p_")+16)
}
