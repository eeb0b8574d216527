package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"Trademarks", "Acme® Mop™ Handle©", "acme mop handle"},
		{"Punctuation", "Bowl-Brush, 12\" (White)", "bowl brush 12 white"},
		{"Whitespace", "  Heavy   Duty\tBucket  ", "heavy duty bucket"},
		{"Empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestSimilarity(t *testing.T) {
	t.Run("identical strings", func(t *testing.T) {
		assert.Equal(t, 1.0, Similarity("mop handle", "mop handle"))
	})

	t.Run("identical after normalization", func(t *testing.T) {
		assert.Equal(t, 1.0, Similarity("Mop-Handle®", "mop handle"))
	})

	t.Run("no shared structure", func(t *testing.T) {
		assert.Equal(t, 0.0, Similarity("abc", "xyz"))
	})

	t.Run("symmetric and bounded", func(t *testing.T) {
		pairs := [][2]string{
			{"toilet bowl brush", "bowl brush"},
			{"mop", "mop bucket with wringer"},
			{"", "anything"},
			{"Nitrile Gloves Large", "gloves nitrile large"},
		}
		for _, p := range pairs {
			ab := Similarity(p[0], p[1])
			ba := Similarity(p[1], p[0])
			assert.Equal(t, ab, ba)
			assert.GreaterOrEqual(t, ab, 0.0)
			assert.LessOrEqual(t, ab, 1.0)
		}
	})
}

func TestFeatureOverlap(t *testing.T) {
	assert.Equal(t, 1.0, FeatureOverlap("mop handle fiberglass", "Fiberglass Mop Handle"))
	assert.Equal(t, 0.0, FeatureOverlap("mop", "bucket"))
	// "the" and "for" are stop words; "a" is too short.
	assert.Equal(t, 0.0, FeatureOverlap("the for a", "the for a"))
	assert.InDelta(t, 2.0/3.0, FeatureOverlap("acme mop handle", "mop handle"), 1e-9)
}

func TestBrandInName(t *testing.T) {
	assert.True(t, BrandInName("Acme", "ACME Mop Handle"))
	assert.False(t, BrandInName("Acme", "Acmeco Mop Handle"))
	assert.False(t, BrandInName("", "Acme Mop"))
}

func TestAdvancedMatch_Weights(t *testing.T) {
	w := DefaultNameWeights()
	search := "mop handle"
	found := "Acme Mop Handle"

	expected := Similarity(search, found)*0.5 + FeatureOverlap(search, found)*0.3 + 1*0.2
	assert.InDelta(t, expected, AdvancedMatch(search, found, "Acme", w), 1e-9)

	noBrand := AdvancedMatch(search, found, "Other", w)
	assert.InDelta(t, expected-0.2, noBrand, 1e-9)
}

func TestNameMatcher_FindBestMatch(t *testing.T) {
	m := NewNameMatcher(0.6, NameWeights{})
	require.Equal(t, DefaultNameWeights(), m.Weights)

	t.Run("picks best candidate above threshold", func(t *testing.T) {
		candidates := []string{"Bucket Wringer Yellow", "Acme Mop Handle 60in", "Acme Dust Pan"}
		match, ok := m.FindBestMatch("Acme Mop Handle 60 inch", "Acme", candidates)
		require.True(t, ok)
		assert.Equal(t, 1, match.Index)
		assert.Equal(t, "Acme Mop Handle 60in", match.Name)
		assert.GreaterOrEqual(t, match.Score, 0.6)
	})

	t.Run("rejects when best is below threshold", func(t *testing.T) {
		match, ok := m.FindBestMatch("Acme Mop Handle", "Acme", []string{"Bucket Wringer Yellow"})
		assert.False(t, ok)
		assert.Equal(t, -1, match.Index)
	})

	t.Run("no candidates", func(t *testing.T) {
		_, ok := m.FindBestMatch("Acme Mop Handle", "Acme", nil)
		assert.False(t, ok)
	})
}
