package matching

import (
	"regexp"
	"strings"
)

var (
	trademarkReplacer = strings.NewReplacer("®", "", "™", "", "©", "")
	nonWordRegex      = regexp.MustCompile(`[^\p{L}\p{N}_]+`)
)

// stopWords are dropped before feature overlap is computed.
var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"per": true, "each": true, "pack": true, "count": true, "case": true,
	"set": true, "box": true, "new": true, "size": true, "inch": true,
	"inches": true, "oz": true, "pcs": true, "pieces": true, "piece": true,
	"only": true, "your": true, "use": true, "item": true,
}

// NormalizeName lowercases name, drops trademark symbols, turns every
// non-word run into a single space and trims.
func NormalizeName(name string) string {
	name = trademarkReplacer.Replace(strings.ToLower(name))
	name = nonWordRegex.ReplaceAllString(name, " ")
	return strings.Join(strings.Fields(name), " ")
}

// Similarity is a normalized Levenshtein ratio over the normalized forms
// of a and b. It is symmetric and bounded to [0, 1].
func Similarity(a, b string) float64 {
	return similarityNormalized(NormalizeName(a), NormalizeName(b))
}

func similarityNormalized(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(r1, r2 []rune) int {
	if len(r1) == 0 {
		return len(r2)
	}
	if len(r2) == 0 {
		return len(r1)
	}

	prev := make([]int, len(r2)+1)
	curr := make([]int, len(r2)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(r1); i++ {
		curr[0] = i
		for j := 1; j <= len(r2); j++ {
			cost := 1
			if r1[i-1] == r2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	return prev[len(r2)]
}

// significantWords returns the distinct words of a normalized name longer
// than two characters that are not stop words.
func significantWords(normalized string) []string {
	seen := make(map[string]bool)
	var words []string
	for _, w := range strings.Fields(normalized) {
		if len(w) <= 2 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		words = append(words, w)
	}
	return words
}

// FeatureOverlap is the number of significant words shared by a and b
// divided by the larger significant word count.
func FeatureOverlap(a, b string) float64 {
	wa := significantWords(NormalizeName(a))
	wb := significantWords(NormalizeName(b))
	if len(wa) == 0 || len(wb) == 0 {
		return 0
	}

	set := make(map[string]bool, len(wa))
	for _, w := range wa {
		set[w] = true
	}
	shared := 0
	for _, w := range wb {
		if set[w] {
			shared++
		}
	}

	return float64(shared) / float64(max(len(wa), len(wb)))
}

// BrandInName reports whether the normalized brand occurs in the normalized name.
func BrandInName(brand, name string) bool {
	nb := NormalizeName(brand)
	if nb == "" {
		return false
	}
	return strings.Contains(" "+NormalizeName(name)+" ", " "+nb+" ")
}

// NameWeights blends the three name signals. The defaults sum to 1.
type NameWeights struct {
	Similarity float64 `mapstructure:"similarity"`
	Features   float64 `mapstructure:"features"`
	Brand      float64 `mapstructure:"brand"`
}

func DefaultNameWeights() NameWeights {
	return NameWeights{Similarity: 0.5, Features: 0.3, Brand: 0.2}
}

// AdvancedMatch scores foundName against searchName.
func AdvancedMatch(searchName, foundName, brand string, w NameWeights) float64 {
	brandScore := 0.0
	if BrandInName(brand, foundName) {
		brandScore = 1
	}
	return Similarity(searchName, foundName)*w.Similarity +
		FeatureOverlap(searchName, foundName)*w.Features +
		brandScore*w.Brand
}

// Match is the winning candidate of a best-match search.
type Match struct {
	Index int
	Name  string
	Score float64
}

type NameMatcher struct {
	Threshold float64
	Weights   NameWeights
}

func NewNameMatcher(threshold float64, weights NameWeights) *NameMatcher {
	if weights == (NameWeights{}) {
		weights = DefaultNameWeights()
	}
	return &NameMatcher{Threshold: threshold, Weights: weights}
}

// FindBestMatch scores every candidate and returns the best one only when
// its score meets the threshold.
func (m *NameMatcher) FindBestMatch(searchName, brand string, candidates []string) (Match, bool) {
	best := Match{Index: -1, Score: -1}
	for i, c := range candidates {
		score := AdvancedMatch(searchName, c, brand, m.Weights)
		if score > best.Score {
			best = Match{Index: i, Name: c, Score: score}
		}
	}

	if best.Index < 0 || best.Score < m.Threshold {
		return Match{Index: -1}, false
	}
	return best, true
}
