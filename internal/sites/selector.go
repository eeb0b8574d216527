package sites

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/maltedev/competitor-price-scraper/internal/matching"
	"github.com/maltedev/competitor-price-scraper/internal/models"
	"github.com/maltedev/competitor-price-scraper/internal/ratelimit"
)

// SearchSelectors locate listings on a search results page.
type SearchSelectors struct {
	ResultSelector string `mapstructure:"result" validate:"required"`
	LinkSelector   string `mapstructure:"link"`
	NameSelector   string `mapstructure:"name"`
	SKUSelector    string `mapstructure:"sku"`
	SKUAttr        string `mapstructure:"sku_attr"`
	MaxCandidates  int    `mapstructure:"max_candidates"`
}

// ProductSelectors locate fields on a product page.
type ProductSelectors struct {
	NameSelector         string   `mapstructure:"name" validate:"required"`
	SKUSelector          string   `mapstructure:"sku"`
	SKUAttr              string   `mapstructure:"sku_attr"`
	PriceSelectors       []string `mapstructure:"price" validate:"min=1"`
	PriceAttr            string   `mapstructure:"price_attr"`
	AvailabilitySelector string   `mapstructure:"availability"`
}

// SiteConfig describes one competitor site.
type SiteConfig struct {
	ID        string `mapstructure:"id" validate:"required"`
	Name      string `mapstructure:"name"`
	BaseURL   string `mapstructure:"base_url" validate:"required,url"`
	SearchURL string `mapstructure:"search_url" validate:"required,contains={query}"`
	Currency  string `mapstructure:"currency"`

	RequestDelay time.Duration `mapstructure:"request_delay"`
	ProductDelay time.Duration `mapstructure:"product_delay"`

	// SKUVerifyLimit caps how many listings without a visible SKU are opened
	// to compare the SKU on the product page.
	SKUVerifyLimit int `mapstructure:"sku_verify_limit"`

	Search  SearchSelectors  `mapstructure:"search"`
	Product ProductSelectors `mapstructure:"product"`
}

func (c SiteConfig) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ID
}

// SelectorAdapter drives any site whose pages can be described by CSS
// selectors.
type SelectorAdapter struct {
	cfg      SiteConfig
	launch   Launcher
	names    *matching.NameMatcher
	features *matching.CharacteristicMatcher
	logger   *slog.Logger
	now      func() time.Time
	limiter  ratelimit.Waiter

	page Page
}

func NewSelectorAdapter(cfg SiteConfig, launch Launcher, names *matching.NameMatcher, features *matching.CharacteristicMatcher, logger *slog.Logger) *SelectorAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	if names == nil {
		names = matching.NewNameMatcher(0.6, matching.NameWeights{})
	}
	if features == nil {
		features = matching.NewCharacteristicMatcher(matching.DefaultCharacteristicThreshold, matching.CharacteristicWeights{})
	}
	return &SelectorAdapter{
		cfg:      cfg,
		launch:   launch,
		names:    names,
		features: features,
		logger:   logger.With("component", "site_adapter", "competitor", cfg.ID),
		now:      time.Now,
	}
}

// WithLimiter paces every page load of the adapter, including the product
// pages opened to verify a SKU, through l.
func (a *SelectorAdapter) WithLimiter(l ratelimit.Waiter) *SelectorAdapter {
	a.limiter = l
	return a
}

func (a *SelectorAdapter) navigate(ctx context.Context, url string) error {
	if a.limiter != nil {
		if err := a.limiter.WaitIfNeeded(ctx); err != nil {
			return err
		}
	}
	return a.page.Navigate(ctx, url)
}

func (a *SelectorAdapter) Init(ctx context.Context) error {
	if a.page != nil {
		return nil
	}
	page, err := a.launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to open browser session: %w", err)
	}
	a.page = page
	a.logger.Info("browser session started")
	return nil
}

func (a *SelectorAdapter) Close() error {
	if a.page == nil {
		return nil
	}
	err := a.page.Close()
	a.page = nil
	if err != nil {
		return fmt.Errorf("failed to close browser session: %w", err)
	}
	a.logger.Info("browser session closed")
	return nil
}

func (a *SelectorAdapter) search(ctx context.Context, query string) ([]Candidate, error) {
	if a.page == nil {
		return nil, ErrNotInitialized
	}

	searchURL := buildSearchURL(a.cfg.SearchURL, query)
	if err := a.navigate(ctx, searchURL); err != nil {
		return nil, err
	}

	// An empty result page never shows the selector.
	if err := a.page.WaitFor(ctx, a.cfg.Search.ResultSelector); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		a.logger.Debug("no search results rendered", "query", query, "error", err)
	}

	html, err := a.page.Content(ctx)
	if err != nil {
		return nil, err
	}

	candidates, err := parseSearchResults(html, a.cfg)
	if err != nil {
		return nil, err
	}

	a.logger.Debug("search results", "query", query, "count", len(candidates))
	return candidates, nil
}

func (a *SelectorAdapter) SearchBySKU(ctx context.Context, sku string) (models.SearchResult, error) {
	candidates, err := a.search(ctx, sku)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("sku search %q: %w", sku, err)
	}

	skus := make([]string, len(candidates))
	for i, c := range candidates {
		skus[i] = c.SKU
	}
	if i := matching.FindSKUMatch(sku, skus); i >= 0 {
		return skuHit(candidates[i], candidates[i].SKU), nil
	}

	verified := 0
	for _, c := range candidates {
		if c.SKU != "" || verified >= a.cfg.SKUVerifyLimit {
			continue
		}
		verified++

		details, err := a.ExtractProductDetails(ctx, c.URL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.SearchResult{}, ctxErr
			}
			a.logger.Warn("failed to verify listing sku", "url", c.URL, "error", err)
			continue
		}
		if details.SKU != "" && matching.MatchSKU(sku, details.SKU) {
			if c.Name == "" {
				c.Name = details.Name
			}
			return skuHit(c, details.SKU), nil
		}
	}

	return models.NotFound(), nil
}

func skuHit(c Candidate, sku string) models.SearchResult {
	return models.SearchResult{
		Found:       true,
		MatchType:   models.MatchTypeSKU,
		ProductURL:  c.URL,
		ProductName: c.Name,
		ProductSKU:  sku,
	}
}

func (a *SelectorAdapter) SearchByName(ctx context.Context, name, brand string) (models.SearchResult, error) {
	query := name
	if brand != "" && !matching.BrandInName(brand, name) {
		query = brand + " " + name
	}

	candidates, err := a.search(ctx, query)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("name search %q: %w", query, err)
	}

	match, ok := a.names.FindBestMatch(name, brand, candidateNames(candidates))
	if !ok {
		return models.NotFound(), nil
	}

	c := candidates[match.Index]
	return models.SearchResult{
		Found:       true,
		MatchType:   models.MatchTypeName,
		ProductURL:  c.URL,
		ProductName: c.Name,
		ProductSKU:  c.SKU,
		Confidence:  models.Float(match.Score),
	}, nil
}

// SearchByCharacteristics searches by the product's type and material words
// and accepts the listing with the best characteristic confidence.
func (a *SelectorAdapter) SearchByCharacteristics(ctx context.Context, name string) (models.SearchResult, error) {
	chars := matching.ExtractCharacteristics(name)
	if len(chars.Types) == 0 {
		return models.NotFound(), nil
	}

	terms := append(append([]string{}, chars.Types...), chars.Materials...)
	query := strings.Join(terms, " ")

	candidates, err := a.search(ctx, query)
	if err != nil {
		return models.SearchResult{}, fmt.Errorf("characteristic search %q: %w", query, err)
	}

	match, ok := a.features.FindBestCharacteristicMatch(name, candidateNames(candidates))
	if !ok {
		return models.NotFound(), nil
	}

	c := candidates[match.Index]
	return models.SearchResult{
		Found:       true,
		MatchType:   models.MatchTypeCharacteristic,
		ProductURL:  c.URL,
		ProductName: c.Name,
		ProductSKU:  c.SKU,
		Confidence:  models.Float(match.Score),
	}, nil
}

func (a *SelectorAdapter) ExtractProductDetails(ctx context.Context, url string) (models.ProductDetails, error) {
	if a.page == nil {
		return models.ProductDetails{}, ErrNotInitialized
	}

	if err := a.navigate(ctx, url); err != nil {
		return models.ProductDetails{}, fmt.Errorf("product page %s: %w", url, err)
	}

	if err := a.page.WaitFor(ctx, a.cfg.Product.NameSelector); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return models.ProductDetails{}, ctxErr
		}
		a.logger.Debug("product name not rendered", "url", url, "error", err)
	}

	html, err := a.page.Content(ctx)
	if err != nil {
		return models.ProductDetails{}, fmt.Errorf("product page %s: %w", url, err)
	}

	details, err := parseProductDetails(html, url, a.cfg, a.now())
	if err != nil {
		return models.ProductDetails{}, err
	}
	if details.Price == nil {
		a.logger.Warn("no price found on product page", "url", url)
	}

	return details, nil
}

func candidateNames(candidates []Candidate) []string {
	names := make([]string, len(candidates))
	for i, c := range candidates {
		names[i] = c.Name
	}
	return names
}
