package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/maltedev/competitor-price-scraper/internal/database"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Publish pending outbox events to the redis stream",
	RunE:  runRelay,
}

var relayOnce bool

func init() {
	relayCmd.Flags().BoolVar(&relayOnce, "once", false, "Process one batch of pending events and exit")
	rootCmd.AddCommand(relayCmd)
}

func runRelay(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if !a.cfg.Database.Enabled() || !a.cfg.Redis.Enabled() {
		return fmt.Errorf("relay needs both database and redis configured")
	}
	if err := a.connectDB(ctx); err != nil {
		return err
	}
	if err := a.connectRedis(ctx); err != nil {
		return err
	}

	relay := database.NewRelay(database.NewOutboxRepository(a.db), a.redis, a.logger, a.cfg.Relay)
	if relayOnce {
		if err := relay.ProcessOnce(ctx); err != nil {
			return err
		}
		pending, err := relay.GetPendingCount(ctx)
		if err != nil {
			return err
		}
		deadLetter, err := relay.GetDeadLetterCount(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "pending %d, dead letter %d\n", pending, deadLetter)
		return nil
	}

	if err := relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
