package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/competitor-price-scraper/internal/config"
	"github.com/maltedev/competitor-price-scraper/internal/database"
	"github.com/maltedev/competitor-price-scraper/internal/events"
	"github.com/maltedev/competitor-price-scraper/internal/jobs"
	"github.com/maltedev/competitor-price-scraper/internal/output"
	"github.com/maltedev/competitor-price-scraper/internal/sites"
)

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape the catalog against one or more competitors",
	Long:  "Runs one batch per competitor: each product is looked up by SKU, then name, then characteristics. Progress is checkpointed and an interrupted batch resumes where it stopped.",
	RunE:  runScrape,
}

var (
	scrapeCatalog     string
	scrapeCompetitors []string
	scrapeOutDir      string
	scrapeParallel    int
)

func init() {
	scrapeCmd.Flags().StringVar(&scrapeCatalog, "catalog", "", "Path to catalog JSON file (default: scraper.catalog)")
	scrapeCmd.Flags().StringSliceVar(&scrapeCompetitors, "competitor", nil, "Competitor id to scrape, repeatable (default: all configured)")
	scrapeCmd.Flags().StringVarP(&scrapeOutDir, "out", "o", "", "Directory for batch output files (default: scraper.output_dir)")
	scrapeCmd.Flags().IntVar(&scrapeParallel, "parallel", 0, "Competitors scraped at once (default: scraper.parallel_competitors)")

	rootCmd.AddCommand(scrapeCmd)
}

func runScrape(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	catalogPath := scrapeCatalog
	if catalogPath == "" {
		catalogPath = a.cfg.Scraper.CatalogPath
	}
	if catalogPath == "" {
		return fmt.Errorf("no catalog given: use --catalog or scraper.catalog")
	}
	items, err := loadCatalog(catalogPath)
	if err != nil {
		return err
	}

	competitors, err := selectCompetitors(a.cfg, scrapeCompetitors)
	if err != nil {
		return err
	}

	if err := a.connectRedis(ctx); err != nil {
		return err
	}

	var publisher jobs.BatchPublisher
	if a.cfg.Scraper.PersistResults {
		if err := a.connectDB(ctx); err != nil {
			return err
		}
		publisher = events.NewPublisher(database.NewBatchRepository(a.db), a.logger)
	}

	outDir := scrapeOutDir
	if outDir == "" {
		outDir = a.cfg.Scraper.OutputDir
	}
	parallel := scrapeParallel
	if parallel == 0 {
		parallel = a.cfg.Scraper.ParallelCompetitors
	}

	manager := jobs.NewManager(
		jobs.OrchestratorFactory(runnerDeps(a)),
		output.NewWriter(outDir, a.logger),
		publisher,
		parallel,
		a.logger,
	)

	a.logger.Info("starting scrape", "products", len(items), "competitors", len(competitors), "parallel", parallel)
	results, runErr := manager.RunAll(ctx, competitors, items)

	for _, job := range results {
		line := fmt.Sprintf("%-24s %-12s", job.CompetitorID, job.Status)
		if job.Summary != nil {
			line += fmt.Sprintf(" found %d/%d (%.1f%%)", job.Summary.Found, job.Summary.TotalProducts, job.Summary.FoundRate)
		}
		if job.OutputPath != "" {
			line += " -> " + job.OutputPath
		}
		fmt.Fprintln(cmd.OutOrStdout(), line)
	}

	if runErr != nil && ctx.Err() != nil {
		a.logger.Warn("scrape interrupted; rerun to resume from the last checkpoint")
	}
	return runErr
}

func runnerDeps(a *app) jobs.Deps {
	return jobs.Deps{
		Browser:            a.cfg.Browser,
		Retry:              a.cfg.Retry,
		NameMatcher:        a.cfg.Matching.NameMatcher(),
		FeatureMatcher:     a.cfg.Matching.CharacteristicMatcher(),
		CheckpointInterval: a.cfg.Checkpoint.Interval,
		Checkpoints:        a.checkpoints(),
		Logger:             a.logger,
	}
}

// selectCompetitors resolves ids against the config; no ids means all.
// Repeated ids are scraped once.
func selectCompetitors(cfg *config.Config, ids []string) ([]sites.SiteConfig, error) {
	if len(ids) == 0 {
		all := cfg.Sites()
		if len(all) == 0 {
			return nil, fmt.Errorf("no competitors configured")
		}
		return all, nil
	}

	out := make([]sites.SiteConfig, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		site, ok := cfg.Competitor(id)
		if !ok {
			return nil, fmt.Errorf("unknown competitor %q", id)
		}
		out = append(out, site)
	}
	return out, nil
}

