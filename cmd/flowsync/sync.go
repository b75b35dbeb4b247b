package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newSyncCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one reconciliation pass and print its report",
	}
	cmd.AddCommand(newSyncSpecsCommand(root))
	cmd.AddCommand(newSyncRunsCommand(root))
	cmd.AddCommand(newSyncStaleCommand(root))
	return cmd
}

func newSyncSpecsCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "specs",
		Short: "Mirror workflow documents from object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app, _ syncConfig) error {
				report := a.specs.SyncFromSource(ctx)
				return printReport(cmd.OutOrStdout(), report, report.Failed > 0)
			})
		},
	}
}

type syncRunsOptions struct {
	SourceID  string
	Lookback  time.Duration
	BatchSize int
}

func newSyncRunsCommand(root *rootOptions) *cobra.Command {
	opts := &syncRunsOptions{}
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Pull recent run status from active run sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Lookback < 0 || opts.BatchSize < 0 {
				return usageError{fmt.Errorf("--lookback and --batch-size must not be negative")}
			}
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app, cfg syncConfig) error {
				lookback, batchSize := cfg.RunLookback, cfg.RunBatchSize
				if opts.Lookback > 0 {
					lookback = opts.Lookback
				}
				if opts.BatchSize > 0 {
					batchSize = opts.BatchSize
				}
				if id := strings.TrimSpace(opts.SourceID); id != "" {
					outcome := a.runs.SyncOneSource(ctx, id, lookback, batchSize)
					return printReport(cmd.OutOrStdout(), outcome, outcome.Failed() || outcome.Report.Failed > 0)
				}
				agg := a.runs.SyncAllActiveSources(ctx, lookback, batchSize)
				return printReport(cmd.OutOrStdout(), agg, agg.FailedSources > 0 || agg.TotalFailed > 0)
			})
		},
	}
	cmd.Flags().StringVar(&opts.SourceID, "source", "", "sync only this run source id")
	cmd.Flags().DurationVar(&opts.Lookback, "lookback", 0, "how far back to list runs (default FLOWSYNC_RUN_LOOKBACK)")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "maximum runs listed per source (default FLOWSYNC_RUN_BATCH_SIZE)")
	return cmd
}

func newSyncStaleCommand(root *rootOptions) *cobra.Command {
	var threshold time.Duration
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Refresh non-terminal runs that have not been updated recently",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if threshold < 0 {
				return usageError{fmt.Errorf("--threshold must not be negative")}
			}
			return withApp(cmd.Context(), root, func(ctx context.Context, a *app, cfg syncConfig) error {
				t := cfg.StaleThreshold
				if threshold > 0 {
					t = threshold
				}
				report := a.runs.SyncStaleRuns(ctx, t)
				return printReport(cmd.OutOrStdout(), report, report.Failed > 0)
			})
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 0, "age after which a run counts as stale (default FLOWSYNC_STALE_THRESHOLD)")
	return cmd
}

func withApp(ctx context.Context, root *rootOptions, fn func(context.Context, *app, syncConfig) error) error {
	cfg, err := syncConfigFromEnv()
	if err != nil {
		return usageError{fmt.Errorf("invalid sync config: %w", err)}
	}
	a, err := newApp(ctx, root.logger, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(ctx, a, cfg)
}

func printReport(w io.Writer, report any, failed bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if failed {
		return errPassFailures
	}
	return nil
}
