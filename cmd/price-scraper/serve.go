package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/competitor-price-scraper/internal/api"
	"github.com/maltedev/competitor-price-scraper/internal/database"
	"github.com/maltedev/competitor-price-scraper/internal/events"
	"github.com/maltedev/competitor-price-scraper/internal/jobs"
	"github.com/maltedev/competitor-price-scraper/internal/output"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the status API",
	Long:  "Serves competitors, checkpoints, persisted batches and jobs over HTTP. When both the database and redis are configured the outbox relay runs alongside.",
	RunE:  runServe,
}

var serveNoRelay bool

func init() {
	serveCmd.Flags().BoolVar(&serveNoRelay, "no-relay", false, "Do not run the outbox relay in this process")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.connectRedis(ctx); err != nil {
		return err
	}
	if err := a.connectDB(ctx); err != nil {
		return err
	}

	deps := api.Deps{
		Context:     ctx,
		Competitors: a.cfg.Sites(),
		Checkpoints: a.checkpoints(),
		Logger:      a.logger,
	}

	var publisher jobs.BatchPublisher
	if a.db != nil {
		batches := database.NewBatchRepository(a.db)
		deps.Batches = batches
		if a.cfg.Scraper.PersistResults {
			publisher = events.NewPublisher(batches, a.logger)
		}

		if a.redis != nil {
			relay := database.NewRelay(database.NewOutboxRepository(a.db), a.redis, a.logger, a.cfg.Relay)
			deps.Outbox = relay
			if !serveNoRelay {
				go func() {
					if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
						a.logger.Error("relay stopped with error", "error", err)
					}
				}()
			}
		}
	}

	manager := jobs.NewManager(
		jobs.OrchestratorFactory(runnerDeps(a)),
		output.NewWriter(a.cfg.Scraper.OutputDir, a.logger),
		publisher,
		a.cfg.Scraper.ParallelCompetitors,
		a.logger,
	)
	deps.Jobs = manager

	server := &http.Server{
		Addr:         a.cfg.Server.Addr,
		Handler:      api.NewRouter(api.NewHandlers(deps), a.cfg.Server),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown failed", "error", err)
	}
	// running jobs see the cancelled context and checkpoint before returning
	manager.Wait()

	a.logger.Info("server stopped")
	return nil
}
