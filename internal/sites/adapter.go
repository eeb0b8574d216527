package sites

import (
	"context"
	"errors"

	"github.com/maltedev/competitor-price-scraper/internal/models"
)

var ErrNotInitialized = errors.New("adapter session not initialized")

// Adapter is the capability set a competitor site implements. Init acquires
// the browser session and Close releases it; the search and extract calls
// are only valid in between.
type Adapter interface {
	Init(ctx context.Context) error
	Close() error
	SearchBySKU(ctx context.Context, sku string) (models.SearchResult, error)
	SearchByName(ctx context.Context, name, brand string) (models.SearchResult, error)
	ExtractProductDetails(ctx context.Context, url string) (models.ProductDetails, error)
}

// CharacteristicSearcher is implemented by adapters that can fall back to
// cross-brand characteristic matching after a failed name search.
type CharacteristicSearcher interface {
	SearchByCharacteristics(ctx context.Context, name string) (models.SearchResult, error)
}

// Page is the browser session an adapter drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Content(ctx context.Context) (string, error)
	WaitFor(ctx context.Context, selector string) error
	Close() error
}

// Launcher opens a new Page.
type Launcher func(ctx context.Context) (Page, error)
