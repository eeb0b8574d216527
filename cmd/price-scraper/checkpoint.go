package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or discard stored batch progress",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show <competitor>",
	Short: "Print the stored checkpoint of a competitor",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointShow,
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear <competitor>",
	Short: "Delete the stored checkpoint so the next batch starts fresh",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointClear,
}

var checkpointWithResults bool

func init() {
	checkpointShowCmd.Flags().BoolVar(&checkpointWithResults, "results", false, "Include the partial results")

	checkpointCmd.AddCommand(checkpointShowCmd, checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.cfg.Competitor(args[0]); !ok {
		return fmt.Errorf("unknown competitor %q", args[0])
	}
	if err := a.connectRedis(ctx); err != nil {
		return err
	}

	store, err := a.checkpoints()(args[0])
	if err != nil {
		return err
	}
	cp, err := store.Load(ctx)
	if err != nil {
		return err
	}
	if cp == nil {
		fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint for %s\n", args[0])
		return nil
	}

	if !checkpointWithResults {
		fmt.Fprintf(cmd.OutOrStdout(), "%d results held\n", len(cp.Results))
		cp.Results = nil
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runCheckpointClear(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if _, ok := a.cfg.Competitor(args[0]); !ok {
		return fmt.Errorf("unknown competitor %q", args[0])
	}
	if err := a.connectRedis(ctx); err != nil {
		return err
	}

	store, err := a.checkpoints()(args[0])
	if err != nil {
		return err
	}
	if err := store.Clear(ctx); err != nil {
		return err
	}
	a.logger.Info("checkpoint cleared", "competitor", args[0])
	return nil
}
