package sites

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

// Candidate is one listing on a search results page.
type Candidate struct {
	URL  string
	Name string
	SKU  string
}

func parseSearchResults(html string, cfg SiteConfig) ([]Candidate, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse search page: %w", err)
	}

	var candidates []Candidate
	doc.Find(cfg.Search.ResultSelector).Each(func(i int, s *goquery.Selection) {
		if cfg.Search.MaxCandidates > 0 && len(candidates) >= cfg.Search.MaxCandidates {
			return
		}

		link := s
		if cfg.Search.LinkSelector != "" {
			link = s.Find(cfg.Search.LinkSelector).First()
		}
		href, ok := link.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}

		name := link.Text()
		if cfg.Search.NameSelector != "" {
			name = s.Find(cfg.Search.NameSelector).First().Text()
		}

		c := Candidate{
			URL:  resolveURL(cfg.BaseURL, href),
			Name: collapseSpace(name),
		}
		if cfg.Search.SKUSelector != "" {
			c.SKU = selectionValue(s.Find(cfg.Search.SKUSelector).First(), cfg.Search.SKUAttr)
		}

		candidates = append(candidates, c)
	})

	return candidates, nil
}

func parseProductDetails(html, pageURL string, cfg SiteConfig, now time.Time) (models.ProductDetails, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return models.ProductDetails{}, fmt.Errorf("failed to parse product page: %w", err)
	}

	d := models.ProductDetails{
		Name:        collapseSpace(doc.Find(cfg.Product.NameSelector).First().Text()),
		URL:         pageURL,
		Currency:    cfg.Currency,
		LastUpdated: now,
	}

	if cfg.Product.SKUSelector != "" {
		d.SKU = selectionValue(doc.Find(cfg.Product.SKUSelector).First(), cfg.Product.SKUAttr)
	}
	if cfg.Product.AvailabilitySelector != "" {
		d.Availability = collapseSpace(doc.Find(cfg.Product.AvailabilitySelector).First().Text())
	}

	for _, selector := range cfg.Product.PriceSelectors {
		sel := doc.Find(selector).First()
		text := selectionValue(sel, cfg.Product.PriceAttr)
		if text == "" {
			continue
		}
		if amount, currency, ok := parsePrice(text); ok {
			d.Price = models.Float(amount)
			if currency != "" {
				d.Currency = currency
			}
			break
		}
	}

	return d, nil
}

var (
	priceNumberRegex = regexp.MustCompile(`\d{1,3}(?:[ \x{00a0}]\d{3})+(?:[.,]\d{1,2})?|\d[\d.,]*`)
	spaceRegex       = regexp.MustCompile(`\s+`)
)

var currencySymbols = []struct {
	symbol string
	code   string
}{
	{"US$", "USD"},
	{"CA$", "CAD"},
	{"C$", "CAD"},
	{"A$", "AUD"},
	{"$", "USD"},
	{"€", "EUR"},
	{"EUR", "EUR"},
	{"£", "GBP"},
	{"GBP", "GBP"},
	{"USD", "USD"},
}

// parsePrice reads the first amount in text. Both "1,299.99" and "1.299,99"
// are understood; the rightmost separator followed by one or two digits is
// the decimal mark.
func parsePrice(text string) (float64, string, bool) {
	raw := priceNumberRegex.FindString(text)
	raw = strings.NewReplacer(" ", "", "\u00a0", "").Replace(raw)
	raw = strings.TrimRight(raw, ".,")
	if raw == "" {
		return 0, "", false
	}

	normalized := raw
	lastSep := strings.LastIndexAny(raw, ".,")
	if lastSep >= 0 {
		intPart := raw[:lastSep]
		fracPart := raw[lastSep+1:]
		intPart = strings.NewReplacer(",", "", ".", "").Replace(intPart)
		if len(fracPart) <= 2 {
			normalized = intPart + "." + fracPart
		} else {
			normalized = intPart + fracPart
		}
	}

	amount, err := strconv.ParseFloat(normalized, 64)
	if err != nil || amount < 0 {
		return 0, "", false
	}

	currency := ""
	for _, cs := range currencySymbols {
		if strings.Contains(text, cs.symbol) {
			currency = cs.code
			break
		}
	}

	return amount, currency, true
}

func selectionValue(s *goquery.Selection, attr string) string {
	if s.Length() == 0 {
		return ""
	}
	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return collapseSpace(s.Text())
}

func collapseSpace(s string) string {
	return strings.TrimSpace(spaceRegex.ReplaceAllString(s, " "))
}

func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	if ref.IsAbs() || base == "" {
		return href
	}
	b, err := url.Parse(base)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func buildSearchURL(template, query string) string {
	return strings.ReplaceAll(template, "{query}", url.QueryEscape(query))
}
