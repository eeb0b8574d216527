package jobs

import (
	"context"
	"log/slog"

	"github.com/maltedev/competitor-price-scraper/internal/browser"
	"github.com/maltedev/competitor-price-scraper/internal/checkpoint"
	"github.com/maltedev/competitor-price-scraper/internal/matching"
	"github.com/maltedev/competitor-price-scraper/internal/orchestrator"
	"github.com/maltedev/competitor-price-scraper/internal/ratelimit"
	"github.com/maltedev/competitor-price-scraper/internal/retry"
	"github.com/maltedev/competitor-price-scraper/internal/sites"
)

// Deps are the shared settings every competitor batch is built from.
type Deps struct {
	Browser            browser.Options
	Retry              retry.Policy
	NameMatcher        *matching.NameMatcher
	FeatureMatcher     *matching.CharacteristicMatcher
	CheckpointInterval int
	Checkpoints        checkpoint.Factory
	Logger             *slog.Logger

	// Launch overrides the playwright session, for tests.
	Launch sites.Launcher
}

// OrchestratorFactory returns a RunnerFactory producing a selector-driven
// orchestrator per competitor.
func OrchestratorFactory(d Deps) RunnerFactory {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	launch := d.Launch
	if launch == nil {
		launch = func(ctx context.Context) (sites.Page, error) {
			s, err := browser.New(ctx, d.Browser, d.Retry, logger)
			if err != nil {
				return nil, err
			}
			return s, nil
		}
	}

	return func(site sites.SiteConfig) (Runner, error) {
		store, err := d.Checkpoints(site.ID)
		if err != nil {
			return nil, err
		}

		// The adapter paces each page load itself, so the orchestrator gets no
		// limiter of its own.
		adapter := sites.NewSelectorAdapter(site, launch, d.NameMatcher, d.FeatureMatcher, logger).
			WithLimiter(ratelimit.New(site.RequestDelay))

		return orchestrator.New(adapter, store, nil, orchestrator.Options{
			CompetitorID:       site.ID,
			CheckpointInterval: d.CheckpointInterval,
			ProductDelay:       site.ProductDelay,
		}, logger), nil
	}
}
