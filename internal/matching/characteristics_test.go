package matching

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCharacteristics(t *testing.T) {
	c := ExtractCharacteristics("Acme Heavy Duty Toilet Brush, Polypropylene, 12 in, White")

	assert.Equal(t, []string{"toilet brush"}, c.Types, "longest type keyword wins over brush")
	assert.Equal(t, []string{"polypropylene"}, c.Materials)
	assert.Equal(t, []string{"heavy duty"}, c.Features)
	assert.Equal(t, []string{"12 in"}, c.Sizes)
	assert.Equal(t, []string{"white"}, c.Colors)
	assert.Equal(t, "Acme Heavy Duty Toilet Brush, Polypropylene, 12 in, White", c.OriginalName)
}

func TestExtractCharacteristics_Sizes(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"Fluid ounces", "Glass Cleaner 32 fl. oz", []string{"32 oz"}},
		{"Milliliters", "Hand Soap 500ml", []string{"500 ml"}},
		{"Liters decimal", "Floor Cleaner 1.5 L", []string{"1.5 l"}},
		{"Inches quote", `Squeegee 18"`, []string{"18 in"}},
		{"Centimeters", "Sponge 10 cm", []string{"10 cm"}},
		{"Millimeters", "Liner 12 mm", []string{"12 mm"}},
		{"Feet", "Extension Pole 6 ft", []string{"6 ft"}},
		{"Multiple", "Mop Handle 60 inch 5 ft", []string{"60 in", "5 ft"}},
		{"None", "Dust Pan", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExtractCharacteristics(tt.input).Sizes)
		})
	}
}

func TestJaccardSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, JaccardSimilarity(nil, nil))
	assert.Equal(t, 1.0, JaccardSimilarity([]string{}, []string{}))
	assert.Equal(t, 0.0, JaccardSimilarity(nil, []string{"steel"}))
	assert.Equal(t, 0.0, JaccardSimilarity([]string{"steel"}, nil))
	assert.Equal(t, 1.0, JaccardSimilarity([]string{"a", "b"}, []string{"b", "a"}))
	assert.InDelta(t, 1.0/3.0, JaccardSimilarity([]string{"a", "b"}, []string{"b", "c"}), 1e-9)

	a := []string{"cotton", "nylon", "steel"}
	b := []string{"steel", "rubber"}
	assert.Equal(t, JaccardSimilarity(a, b), JaccardSimilarity(b, a))
}

func TestFuzzyArrayMatch(t *testing.T) {
	assert.Equal(t, 1.0, FuzzyArrayMatch(nil, nil))
	assert.Equal(t, 0.0, FuzzyArrayMatch([]string{"mop"}, nil))
	assert.Equal(t, 1.0, FuzzyArrayMatch([]string{"bowl brush"}, []string{"bowl brush"}))
	// "glove" vs "gloves" is above the 0.7 pairwise threshold.
	assert.Equal(t, 1.0, FuzzyArrayMatch([]string{"glove"}, []string{"gloves"}))
	assert.Equal(t, 0.5, FuzzyArrayMatch([]string{"mop"}, []string{"mop", "bucket"}))
	assert.Equal(t, 0.0, FuzzyArrayMatch([]string{"broom"}, []string{"sponge"}))
}

func TestMatchCharacteristics_WeightedSum(t *testing.T) {
	w := DefaultCharacteristicWeights()
	names := []string{
		"Acme Toilet Brush Polypropylene White",
		"Generic toilet brush with caddy, plastic",
		"Nitrile Gloves Powder Free",
		"Mop Handle 60 inch fiberglass",
		"",
	}

	for _, a := range names {
		for _, b := range names {
			s := MatchCharacteristics(ExtractCharacteristics(a), ExtractCharacteristics(b), w)
			expected := s.Type*0.40 + s.Material*0.25 + s.Size*0.20 + s.Feature*0.15
			assert.InDelta(t, expected, s.Confidence, 1e-9, "%q vs %q", a, b)
			assert.GreaterOrEqual(t, s.Confidence, 0.0)
			assert.LessOrEqual(t, s.Confidence, 1.0)
		}
	}
}

func TestFindBestCharacteristicMatch(t *testing.T) {
	t.Run("cross brand type match", func(t *testing.T) {
		match, ok := FindBestCharacteristicMatch(
			"bowl brush polypropylene",
			[]string{"Generic Brand bowl brush turks head"},
			0.5,
		)
		require.True(t, ok)
		assert.Equal(t, 0, match.Index)
		assert.Greater(t, match.Score, 0.5)
	})

	t.Run("different product type is rejected", func(t *testing.T) {
		_, ok := FindBestCharacteristicMatch(
			"bowl brush polypropylene",
			[]string{"Nitrile Gloves Large"},
			0.5,
		)
		assert.False(t, ok)
	})

	t.Run("search without type never matches", func(t *testing.T) {
		_, ok := FindBestCharacteristicMatch("acme thing", []string{"other thing"}, 0.5)
		assert.False(t, ok)
	})

	t.Run("best of several", func(t *testing.T) {
		match, ok := FindBestCharacteristicMatch(
			"Toilet Brush Polypropylene",
			[]string{"Dust Pan Plastic", "Budget toilet brush, polypropylene bristles", "Toilet Plunger"},
			0.5,
		)
		require.True(t, ok)
		assert.Equal(t, 1, match.Index)
	})
}
