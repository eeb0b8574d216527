package sites

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSiteConfig() SiteConfig {
	return SiteConfig{
		ID:             "janitorial-depot",
		Name:           "Janitorial Depot",
		BaseURL:        "https://shop.example.com",
		SearchURL:      "https://shop.example.com/search?q={query}",
		Currency:       "USD",
		SKUVerifyLimit: 1,
		Search: SearchSelectors{
			ResultSelector: ".product-tile",
			LinkSelector:   "a.tile-link",
			NameSelector:   ".tile-name",
			SKUSelector:    ".tile-sku",
		},
		Product: ProductSelectors{
			NameSelector:         "h1.product-name",
			SKUSelector:          "[data-sku]",
			SKUAttr:              "data-sku",
			PriceSelectors:       []string{".price-sale", ".price"},
			AvailabilitySelector: ".stock",
		},
	}
}

const searchPageHTML = `<html><body>
<div class="product-tile">
  <a class="tile-link" href="/p/mop-handle-60">
    <span class="tile-name">Acme   Mop Handle
      60in</span>
  </a>
  <span class="tile-sku">ACM-MH60</span>
</div>
<div class="product-tile">
  <a class="tile-link" href="https://cdn.example.com/p/bucket">
    <span class="tile-name">Bucket Wringer Yellow</span>
  </a>
</div>
<div class="product-tile">
  <span class="tile-name">No link tile</span>
</div>
</body></html>`

func TestParseSearchResults(t *testing.T) {
	candidates, err := parseSearchResults(searchPageHTML, testSiteConfig())
	require.NoError(t, err)
	require.Len(t, candidates, 2)

	assert.Equal(t, Candidate{
		URL:  "https://shop.example.com/p/mop-handle-60",
		Name: "Acme Mop Handle 60in",
		SKU:  "ACM-MH60",
	}, candidates[0])
	assert.Equal(t, "https://cdn.example.com/p/bucket", candidates[1].URL)
	assert.Empty(t, candidates[1].SKU)
}

func TestParseSearchResults_MaxCandidates(t *testing.T) {
	cfg := testSiteConfig()
	cfg.Search.MaxCandidates = 1

	candidates, err := parseSearchResults(searchPageHTML, cfg)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestParseSearchResults_Empty(t *testing.T) {
	candidates, err := parseSearchResults("<html><body><p>No results</p></body></html>", testSiteConfig())
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestParseProductDetails(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	html := `<html><body>
<h1 class="product-name"> Acme Mop Handle 60" </h1>
<div data-sku="ACM-MH60"></div>
<span class="price">$24.99</span>
<span class="stock">In Stock</span>
</body></html>`

	d, err := parseProductDetails(html, "https://shop.example.com/p/mop-handle-60", testSiteConfig(), now)
	require.NoError(t, err)

	assert.Equal(t, `Acme Mop Handle 60"`, d.Name)
	assert.Equal(t, "ACM-MH60", d.SKU)
	require.NotNil(t, d.Price)
	assert.Equal(t, 24.99, *d.Price)
	assert.Equal(t, "USD", d.Currency)
	assert.Equal(t, "In Stock", d.Availability)
	assert.Equal(t, now, d.LastUpdated)
}

func TestParseProductDetails_PrefersFirstSelector(t *testing.T) {
	html := `<h1 class="product-name">X</h1>
<span class="price-sale">€19,50</span>
<span class="price">$24.99</span>`

	d, err := parseProductDetails(html, "u", testSiteConfig(), time.Now())
	require.NoError(t, err)
	require.NotNil(t, d.Price)
	assert.Equal(t, 19.5, *d.Price)
	assert.Equal(t, "EUR", d.Currency)
}

func TestParseProductDetails_NoPrice(t *testing.T) {
	html := `<h1 class="product-name">X</h1><span class="price">Call for price</span>`

	d, err := parseProductDetails(html, "u", testSiteConfig(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, d.Price, "missing price stays absent instead of zero")
	assert.Equal(t, "USD", d.Currency)
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input    string
		amount   float64
		currency string
		ok       bool
	}{
		{"$12.99", 12.99, "USD", true},
		{"$1,299.99", 1299.99, "USD", true},
		{"1.299,99 €", 1299.99, "EUR", true},
		{"£5", 5, "GBP", true},
		{"CA$ 18.40", 18.40, "CAD", true},
		{"19.99 USD", 19.99, "USD", true},
		{"1 299,50", 1299.50, "", true},
		{"12.99\n 3 left", 12.99, "", true},
		{"1,299", 1299, "", true},
		{"Sale: $8.5 each", 8.5, "USD", true},
		{"Out of stock", 0, "", false},
		{"", 0, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			amount, currency, ok := parsePrice(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.InDelta(t, tt.amount, amount, 1e-9)
			assert.Equal(t, tt.currency, currency)
		})
	}
}

func TestBuildSearchURL(t *testing.T) {
	assert.Equal(t,
		"https://shop.example.com/search?q=Acme+Mop+Handle%2F60",
		buildSearchURL("https://shop.example.com/search?q={query}", "Acme Mop Handle/60"),
	)
}

func TestResolveURL(t *testing.T) {
	assert.Equal(t, "https://shop.example.com/p/1", resolveURL("https://shop.example.com", "/p/1"))
	assert.Equal(t, "https://shop.example.com/p/1", resolveURL("https://shop.example.com/search", "p/1"))
	assert.Equal(t, "https://other.example.com/x", resolveURL("https://shop.example.com", "https://other.example.com/x"))
	assert.Equal(t, "/p/1", resolveURL("", "/p/1"))
}
