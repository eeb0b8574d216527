package models

import (
	"strings"
	"time"

	"github.com/maltedev/competitor-price-scraper/internal/matching"
)

type MatchType string

const (
	MatchTypeSKU            MatchType = "sku"
	MatchTypeName           MatchType = "name"
	MatchTypeCharacteristic MatchType = "characteristic"
	MatchTypeNone           MatchType = "none"
)

func (m MatchType) Valid() bool {
	switch m {
	case MatchTypeSKU, MatchTypeName, MatchTypeCharacteristic, MatchTypeNone:
		return true
	}
	return false
}

// CatalogItem is one product of the merchant's own catalog.
type CatalogItem struct {
	SKUOriginal string `json:"sku_original" validate:"required"`
	SKUCleaned  string `json:"sku_cleaned"`
	Brand       string `json:"brand"`
	Name        string `json:"name" validate:"required"`
	NameCleaned string `json:"name_cleaned"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
}

func NewCatalogItem(sku, brand, name string) CatalogItem {
	item := CatalogItem{
		SKUOriginal: strings.TrimSpace(sku),
		Brand:       strings.TrimSpace(brand),
		Name:        strings.TrimSpace(name),
	}
	item.Normalize()
	return item
}

// Normalize fills the cleaned fields when ingestion left them empty.
func (c *CatalogItem) Normalize() {
	if c.SKUCleaned == "" {
		c.SKUCleaned = matching.NormalizeSKU(c.SKUOriginal)
	}
	if c.NameCleaned == "" {
		c.NameCleaned = matching.NormalizeName(c.Name)
	}
}

// SearchResult is the outcome of one search attempt against a competitor site.
type SearchResult struct {
	Found       bool      `json:"found"`
	MatchType   MatchType `json:"match_type"`
	ProductURL  string    `json:"product_url,omitempty"`
	ProductName string    `json:"product_name,omitempty"`
	ProductSKU  string    `json:"product_sku,omitempty"`
	Confidence  *float64  `json:"confidence,omitempty"`
}

func NotFound() SearchResult {
	return SearchResult{Found: false, MatchType: MatchTypeNone}
}

// ProductDetails is the data extracted from a confirmed product page.
// Price is nil when the page carried no parseable price.
type ProductDetails struct {
	Name         string    `json:"name"`
	SKU          string    `json:"sku,omitempty"`
	Price        *float64  `json:"price,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	Availability string    `json:"availability,omitempty"`
	URL          string    `json:"url"`
	LastUpdated  time.Time `json:"last_updated"`
}

// ScrapingResult is the durable record for one catalog item on one competitor.
type ScrapingResult struct {
	SKU          string    `json:"sku"`
	CompetitorID string    `json:"competitor_id"`
	Found        bool      `json:"found"`
	MatchType    MatchType `json:"match_type"`
	Price        *float64  `json:"price,omitempty"`
	Currency     string    `json:"currency,omitempty"`
	URL          string    `json:"url,omitempty"`
	ProductName  string    `json:"product_name,omitempty"`
	Availability string    `json:"availability,omitempty"`
	Confidence   *float64  `json:"confidence,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
	Error        string    `json:"error,omitempty"`
}

func (r *ScrapingResult) HasError() bool {
	return r.Error != ""
}

// Float returns a pointer to v, for optional numeric fields.
func Float(v float64) *float64 {
	return &v
}
