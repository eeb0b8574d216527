package matching

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ProductCharacteristics is the facet view of a product name used to match
// equivalent products sold under different brands.
type ProductCharacteristics struct {
	Types        []string
	Materials    []string
	Sizes        []string
	Features     []string
	Colors       []string
	OriginalName string
}

var typeKeywords = byLengthDesc([]string{
	"toilet brush", "bowl brush", "scrub brush", "bottle brush", "deck brush", "brush",
	"mop handle", "mop head", "mop bucket", "dust mop", "wet mop", "mop",
	"push broom", "angle broom", "broom", "dustpan", "dust pan",
	"sponge", "scrubber", "scouring pad", "pad", "squeegee", "bucket",
	"trash bag", "garbage bag", "can liner", "liner", "trash can", "waste basket",
	"paper towel", "hand towel", "towel", "toilet paper", "toilet tissue", "facial tissue", "napkin",
	"glove", "wipes", "wipe", "spray bottle", "trigger sprayer", "dispenser",
	"glass cleaner", "floor cleaner", "bowl cleaner", "all purpose cleaner", "cleaner", "degreaser",
	"disinfectant", "sanitizer", "detergent", "hand soap", "soap", "air freshener",
	"duster", "scraper", "caddy", "cart", "floor mat", "mat", "plunger", "cloth",
})

var materialKeywords = byLengthDesc([]string{
	"stainless steel", "steel", "aluminum", "metal", "polypropylene", "polyethylene",
	"polyester", "nylon", "cotton", "microfiber", "plastic", "vinyl", "nitrile", "latex",
	"rubber", "silicone", "foam", "cellulose", "paper", "wood", "bamboo", "fiberglass",
	"glass", "ceramic",
})

var featureKeywords = byLengthDesc([]string{
	"heavy duty", "extra large", "powder free", "non slip", "lint free", "ready to use",
	"turks head", "with caddy", "with holder", "with handle",
	"disposable", "reusable", "antibacterial", "antimicrobial", "scented", "unscented",
	"extendable", "telescopic", "ergonomic", "biodegradable", "commercial", "industrial",
	"refillable", "absorbent", "concentrated", "professional", "compact",
})

var colorKeywords = byLengthDesc([]string{
	"white", "black", "blue", "red", "green", "yellow", "gray", "grey", "clear",
	"pink", "orange", "purple", "brown", "beige", "silver",
})

type sizePattern struct {
	re   *regexp.Regexp
	unit string
}

var sizePatterns = []sizePattern{
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:fl\.?\s*oz\b|fluid\s+ounces?\b|oz\b|ounces?\b)`), "oz"},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:ml\b|milliliters?\b)`), "ml"},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:l\b|liters?\b|litres?\b)`), "l"},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:"|''|inches\b|inch\b|in\b)`), "in"},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:cm\b|centimeters?\b)`), "cm"},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:mm\b|millimeters?\b)`), "mm"},
	{regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:ft\b|feet\b|foot\b|')`), "ft"},
}

func byLengthDesc(words []string) []string {
	sorted := append([]string(nil), words...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i]) > len(sorted[j])
	})
	return sorted
}

// extractKeywords finds dictionary phrases in a normalized name, longest
// first. A matched phrase is blanked out so its sub-phrases do not match too.
func extractKeywords(normalized string, dictionary []string) []string {
	text := " " + normalized + " "
	var found []string
	for _, kw := range dictionary {
		needle := " " + kw + " "
		if strings.Contains(text, needle) {
			found = append(found, kw)
			text = strings.ReplaceAll(text, needle, "  ")
		}
	}
	return found
}

func extractSizes(name string) []string {
	lower := strings.ToLower(name)
	seen := make(map[string]bool)
	var sizes []string
	for _, p := range sizePatterns {
		for _, m := range p.re.FindAllStringSubmatch(lower, -1) {
			size := fmt.Sprintf("%s %s", strings.TrimSuffix(m[1], ".0"), p.unit)
			if !seen[size] {
				seen[size] = true
				sizes = append(sizes, size)
			}
		}
		lower = p.re.ReplaceAllString(lower, " ")
	}
	return sizes
}

// ExtractCharacteristics derives the facet view of a product name.
func ExtractCharacteristics(name string) ProductCharacteristics {
	normalized := NormalizeName(name)
	return ProductCharacteristics{
		Types:        extractKeywords(normalized, typeKeywords),
		Materials:    extractKeywords(normalized, materialKeywords),
		Sizes:        extractSizes(name),
		Features:     extractKeywords(normalized, featureKeywords),
		Colors:       extractKeywords(normalized, colorKeywords),
		OriginalName: name,
	}
}

// JaccardSimilarity is |a∩b| / |a∪b|. Two empty sets match fully, exactly
// one empty set does not match at all.
func JaccardSimilarity(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	setA := make(map[string]bool, len(a))
	for _, v := range a {
		setA[v] = true
	}
	union := make(map[string]bool, len(a)+len(b))
	for v := range setA {
		union[v] = true
	}
	shared := 0
	seen := make(map[string]bool, len(b))
	for _, v := range b {
		if seen[v] {
			continue
		}
		seen[v] = true
		if setA[v] {
			shared++
		}
		union[v] = true
	}

	return float64(shared) / float64(len(union))
}

// fuzzyHitThreshold is the pairwise similarity above which two facet values count as equal.
const fuzzyHitThreshold = 0.7

// FuzzyArrayMatch counts the items of the shorter list that have a fuzzy
// counterpart in the other, divided by the longer list's length.
func FuzzyArrayMatch(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}

	hits := 0
	for _, x := range short {
		for _, y := range long {
			if similarityNormalized(x, y) > fuzzyHitThreshold {
				hits++
				break
			}
		}
	}

	return float64(hits) / float64(len(long))
}

type CharacteristicWeights struct {
	Type     float64 `mapstructure:"type"`
	Material float64 `mapstructure:"material"`
	Size     float64 `mapstructure:"size"`
	Feature  float64 `mapstructure:"feature"`
}

func DefaultCharacteristicWeights() CharacteristicWeights {
	return CharacteristicWeights{Type: 0.40, Material: 0.25, Size: 0.20, Feature: 0.15}
}

// CharacteristicScore holds the per-facet sub-scores and their weighted blend.
type CharacteristicScore struct {
	Type       float64
	Material   float64
	Size       float64
	Feature    float64
	Confidence float64
}

func MatchCharacteristics(a, b ProductCharacteristics, w CharacteristicWeights) CharacteristicScore {
	s := CharacteristicScore{
		Type:     FuzzyArrayMatch(a.Types, b.Types),
		Material: JaccardSimilarity(a.Materials, b.Materials),
		Size:     JaccardSimilarity(a.Sizes, b.Sizes),
		Feature:  JaccardSimilarity(a.Features, b.Features),
	}
	s.Confidence = clamp01(s.Type*w.Type + s.Material*w.Material + s.Size*w.Size + s.Feature*w.Feature)
	return s
}

// DefaultCharacteristicThreshold is the acceptance floor of the fallback
// characteristic search. It sits below the name threshold.
const DefaultCharacteristicThreshold = 0.5

type CharacteristicMatcher struct {
	Threshold float64
	Weights   CharacteristicWeights
}

func NewCharacteristicMatcher(threshold float64, weights CharacteristicWeights) *CharacteristicMatcher {
	if threshold <= 0 {
		threshold = DefaultCharacteristicThreshold
	}
	if weights == (CharacteristicWeights{}) {
		weights = DefaultCharacteristicWeights()
	}
	return &CharacteristicMatcher{Threshold: threshold, Weights: weights}
}

// FindBestCharacteristicMatch returns the candidate with the highest
// characteristic confidence if it reaches the matcher's threshold.
func (m *CharacteristicMatcher) FindBestCharacteristicMatch(searchName string, candidates []string) (Match, bool) {
	search := ExtractCharacteristics(searchName)
	// Without a product type there is nothing reliable to match across brands.
	if len(search.Types) == 0 {
		return Match{Index: -1}, false
	}

	best := Match{Index: -1, Score: -1}
	for i, c := range candidates {
		score := MatchCharacteristics(search, ExtractCharacteristics(c), m.Weights)
		if score.Confidence > best.Score {
			best = Match{Index: i, Name: c, Score: score.Confidence}
		}
	}

	if best.Index < 0 || best.Score < m.Threshold {
		return Match{Index: -1}, false
	}
	return best, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// FindBestCharacteristicMatch matches with the default weights and the given threshold.
func FindBestCharacteristicMatch(searchName string, candidates []string, threshold float64) (Match, bool) {
	return NewCharacteristicMatcher(threshold, CharacteristicWeights{}).FindBestCharacteristicMatch(searchName, candidates)
}
