package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/maltedev/competitor-price-scraper/internal/checkpoint"
	"github.com/maltedev/competitor-price-scraper/internal/models"
	"github.com/maltedev/competitor-price-scraper/internal/ratelimit"
	"github.com/maltedev/competitor-price-scraper/internal/retry"
	"github.com/maltedev/competitor-price-scraper/internal/sites"
)

type Options struct {
	CompetitorID       string
	CheckpointInterval int
	ProductDelay       time.Duration

	// Sleep and Now replace the real clock in tests.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Orchestrator runs one competitor batch. It owns the adapter's browser
// session for the duration of ScrapeProducts and is not safe for concurrent use.
type Orchestrator struct {
	adapter sites.Adapter
	store   checkpoint.Store
	limiter ratelimit.Waiter
	opts    Options
	logger  *slog.Logger
}

// New builds an orchestrator. limiter is waited on before every adapter call;
// pass nil when the adapter paces its own page loads, as SelectorAdapter
// does once given a limiter.
func New(adapter sites.Adapter, store checkpoint.Store, limiter ratelimit.Waiter, opts Options, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = checkpoint.DefaultConfig().Interval
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		adapter: adapter,
		store:   store,
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "orchestrator", "competitor", opts.CompetitorID),
	}
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if o.limiter == nil {
		return ctx.Err()
	}
	return o.limiter.WaitIfNeeded(ctx)
}

// ScrapeProduct runs the search funnel for one catalog item: SKU, then name,
// then characteristics when the adapter supports it. Errors and panics are
// recorded on the result and never returned.
func (o *Orchestrator) ScrapeProduct(ctx context.Context, item models.CatalogItem) (result models.ScrapingResult) {
	result = models.ScrapingResult{
		SKU:          itemSKU(item),
		CompetitorID: o.opts.CompetitorID,
		MatchType:    models.MatchTypeNone,
		Timestamp:    o.opts.Now(),
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("panic while scraping product", "sku", result.SKU, "panic", r, "stack", string(debug.Stack()))
			result = o.failed(result, fmt.Errorf("panic: %v", r))
		}
	}()

	search, err := o.find(ctx, item)
	if err != nil {
		o.logger.Error("product search failed", "sku", result.SKU, "error", err)
		return o.failed(result, err)
	}
	if !search.Found {
		o.logger.Info("product not found", "sku", result.SKU)
		return result
	}

	if err := o.wait(ctx); err != nil {
		return o.failed(result, err)
	}
	details, err := o.adapter.ExtractProductDetails(ctx, search.ProductURL)
	if err != nil {
		o.logger.Error("failed to extract product details", "sku", result.SKU, "url", search.ProductURL, "error", err)
		return o.failed(result, err)
	}

	result.Found = true
	result.MatchType = search.MatchType
	result.URL = search.ProductURL
	result.Price = details.Price
	result.Currency = details.Currency
	result.Availability = details.Availability
	result.Confidence = search.Confidence
	result.ProductName = details.Name
	if result.ProductName == "" {
		result.ProductName = search.ProductName
	}

	o.logger.Info("product found",
		"sku", result.SKU,
		"match_type", result.MatchType,
		"url", result.URL,
		"price", priceAttr(result.Price))

	return result
}

func (o *Orchestrator) find(ctx context.Context, item models.CatalogItem) (models.SearchResult, error) {
	if item.SKUCleaned != "" {
		if err := o.wait(ctx); err != nil {
			return models.SearchResult{}, err
		}
		res, err := o.adapter.SearchBySKU(ctx, item.SKUCleaned)
		if err != nil {
			return models.SearchResult{}, err
		}
		if res.Found {
			return withMatchType(res, models.MatchTypeSKU), nil
		}
	}

	if err := o.wait(ctx); err != nil {
		return models.SearchResult{}, err
	}
	res, err := o.adapter.SearchByName(ctx, item.NameCleaned, item.Brand)
	if err != nil {
		return models.SearchResult{}, err
	}
	if res.Found {
		return withMatchType(res, models.MatchTypeName), nil
	}

	if cs, ok := o.adapter.(sites.CharacteristicSearcher); ok {
		if err := o.wait(ctx); err != nil {
			return models.SearchResult{}, err
		}
		res, err := cs.SearchByCharacteristics(ctx, item.NameCleaned)
		if err != nil {
			return models.SearchResult{}, err
		}
		if res.Found {
			return withMatchType(res, models.MatchTypeCharacteristic), nil
		}
	}

	return models.NotFound(), nil
}

func withMatchType(res models.SearchResult, fallback models.MatchType) models.SearchResult {
	if res.MatchType == "" || res.MatchType == models.MatchTypeNone {
		res.MatchType = fallback
	}
	return res
}

func (o *Orchestrator) failed(result models.ScrapingResult, err error) models.ScrapingResult {
	return models.ScrapingResult{
		SKU:          result.SKU,
		CompetitorID: result.CompetitorID,
		Found:        false,
		MatchType:    models.MatchTypeNone,
		Timestamp:    result.Timestamp,
		Error:        err.Error(),
	}
}

// ScrapeProducts processes items in order, resuming from a stored checkpoint
// when one matches the catalog. Only a session start failure or a cancelled
// context ends the batch early; the session is closed on every path.
func (o *Orchestrator) ScrapeProducts(ctx context.Context, items []models.CatalogItem) (results []models.ScrapingResult, summary *models.BatchSummary, err error) {
	startedAt := o.opts.Now()

	if err := o.adapter.Init(ctx); err != nil {
		initErr := fmt.Errorf("failed to initialize session: %w", err)
		if cerr := o.adapter.Close(); cerr != nil {
			initErr = errors.Join(initErr, fmt.Errorf("failed to close session: %w", cerr))
		}
		return nil, nil, initErr
	}
	defer func() {
		if cerr := o.adapter.Close(); cerr != nil {
			o.logger.Error("failed to close session", "error", cerr)
			err = errors.Join(err, fmt.Errorf("failed to close session: %w", cerr))
		}
	}()

	start := 0
	results = make([]models.ScrapingResult, 0, len(items))
	if cp := o.loadCheckpoint(ctx, items); cp != nil {
		results = append(results, cp.Results...)
		start = cp.LastProcessedProductIndex + 1
		o.logger.Info("resuming from checkpoint",
			"last_index", cp.LastProcessedProductIndex,
			"last_sku", cp.LastProcessedSKU,
			"remaining", len(items)-start)
	}

	o.logger.Info("starting batch", "total", len(items), "start_index", start)

	for i := start; i < len(items); i++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return o.interrupted(ctx, items, results, start, startedAt, ctxErr)
		}

		o.logger.Info("processing product",
			"index", i,
			"progress", fmt.Sprintf("%d/%d", i+1, len(items)),
			"sku", itemSKU(items[i]))

		res := o.ScrapeProduct(ctx, items[i])
		if ctxErr := ctx.Err(); ctxErr != nil {
			// The product was cut short and is processed again on resume.
			return o.interrupted(ctx, items, results, start, startedAt, ctxErr)
		}
		results = append(results, res)

		if i > 0 && i%o.opts.CheckpointInterval == 0 {
			o.saveCheckpoint(ctx, items, results)
		}

		if i < len(items)-1 && o.opts.ProductDelay > 0 {
			if err := o.opts.Sleep(ctx, o.opts.ProductDelay); err != nil {
				return o.interrupted(ctx, items, results, start, startedAt, err)
			}
		}
	}

	summary = models.Summarize(o.opts.CompetitorID, len(items), results, startedAt, o.opts.Now(), start, len(results)-start)
	o.logSummary(summary)

	if err := o.store.Clear(ctx); err != nil {
		o.logger.Warn("failed to clear checkpoint", "error", err)
	}

	return results, summary, nil
}

func (o *Orchestrator) interrupted(ctx context.Context, items []models.CatalogItem, results []models.ScrapingResult, start int, startedAt time.Time, cause error) ([]models.ScrapingResult, *models.BatchSummary, error) {
	if len(results) > 0 {
		o.saveCheckpoint(context.WithoutCancel(ctx), items, results)
	}
	summary := models.Summarize(o.opts.CompetitorID, len(items), results, startedAt, o.opts.Now(), start, len(results)-start)
	o.logger.Warn("batch interrupted", "processed", len(results), "total", len(items), "error", cause)
	return results, summary, cause
}

// loadCheckpoint returns a checkpoint only when it is consistent with items.
func (o *Orchestrator) loadCheckpoint(ctx context.Context, items []models.CatalogItem) *models.Checkpoint {
	cp, err := o.store.Load(ctx)
	if err != nil {
		o.logger.Warn("failed to load checkpoint, starting fresh", "error", err)
		return nil
	}
	if cp == nil {
		return nil
	}

	idx := cp.LastProcessedProductIndex
	switch {
	case idx < 0 || idx >= len(items):
		o.logger.Warn("checkpoint index out of range, starting fresh", "index", idx, "total", len(items))
		return nil
	case len(cp.Results) != idx+1:
		o.logger.Warn("checkpoint results do not match index, starting fresh", "index", idx, "results", len(cp.Results))
		return nil
	case cp.LastProcessedSKU != itemSKU(items[idx]):
		o.logger.Warn("checkpoint sku does not match catalog, starting fresh", "checkpoint_sku", cp.LastProcessedSKU, "catalog_sku", itemSKU(items[idx]))
		return nil
	}

	return cp
}

func (o *Orchestrator) saveCheckpoint(ctx context.Context, items []models.CatalogItem, results []models.ScrapingResult) {
	idx := len(results) - 1
	counts := models.CountResults(results)
	cp := &models.Checkpoint{
		CompetitorID:              o.opts.CompetitorID,
		LastProcessedProductIndex: idx,
		LastProcessedSKU:          itemSKU(items[idx]),
		TotalProducts:             len(items),
		SuccessCount:              counts.Found,
		NotFoundCount:             counts.NotFound,
		ErrorCount:                counts.Errors,
		Timestamp:                 o.opts.Now(),
		Results:                   append([]models.ScrapingResult(nil), results...),
	}

	if err := o.store.Save(ctx, cp); err != nil {
		o.logger.Warn("failed to save checkpoint", "index", idx, "error", err)
		return
	}
	o.logger.Info("checkpoint saved", "index", idx, "found", counts.Found, "not_found", counts.NotFound, "errors", counts.Errors)
}

func (o *Orchestrator) logSummary(s *models.BatchSummary) {
	o.logger.Info("batch completed",
		"total", s.TotalProducts,
		"scraped", s.ProductsScraped,
		"found", s.Found,
		"found_rate", fmt.Sprintf("%.1f%%", s.FoundRate),
		"not_found", s.NotFound,
		"not_found_rate", fmt.Sprintf("%.1f%%", s.NotFoundRate),
		"errors", s.Errors,
		"error_rate", fmt.Sprintf("%.1f%%", s.ErrorRate),
		"match_types", s.MatchTypes,
		"duration", s.Duration.Round(time.Millisecond),
		"avg_per_product", s.AvgPerProduct.Round(time.Millisecond),
	)
}

func itemSKU(item models.CatalogItem) string {
	if item.SKUCleaned != "" {
		return item.SKUCleaned
	}
	return item.SKUOriginal
}

func priceAttr(p *float64) any {
	if p == nil {
		return "n/a"
	}
	return *p
}
