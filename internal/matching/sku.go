// Package matching reconciles competitor listings with catalog items using
// SKU, name and characteristic similarity.
package matching

import (
	"regexp"
	"strings"
)

var (
	skuSeparatorRegex = regexp.MustCompile(`[\s\-_]+`)
	nonAlnumRegex     = regexp.MustCompile(`[^A-Z0-9]`)
)

// NormalizeSKU uppercases s and removes separators and any other
// non-alphanumeric character. It is idempotent.
func NormalizeSKU(s string) string {
	s = strings.ToUpper(s)
	s = skuSeparatorRegex.ReplaceAllString(s, "")
	return nonAlnumRegex.ReplaceAllString(s, "")
}

// MatchSKU reports whether two SKUs are equal verbatim or after normalization.
// A SKU that normalizes to "" matches only itself verbatim.
func MatchSKU(a, b string) bool {
	if a == b {
		return true
	}
	na := NormalizeSKU(a)
	if na == "" {
		return false
	}
	return na == NormalizeSKU(b)
}

// FindSKUMatch returns the index of the first candidate SKU matching sku, or -1.
func FindSKUMatch(sku string, candidates []string) int {
	for i, c := range candidates {
		if MatchSKU(sku, c) {
			return i
		}
	}
	return -1
}
