package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"simrunner/pkg/config"
	"simrunner/pkg/db"
	gos3 "simrunner/pkg/s3"
	"simrunner/pkg/telemetry"
	"simrunner/services/events"
	"simrunner/services/publisher"
	"simrunner/services/resultstore"
	"simrunner/services/runstore"
	"simrunner/services/statussync"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "simrunnerctl",
		Short:         "Utility for managing simulation runs and their results",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("SIMRUND_CONFIG"), "Path to YAML config file")

	cmd.AddCommand(newMigrateCommand(&configPath))
	cmd.AddCommand(newPublishCommand(&configPath))
	cmd.AddCommand(newSyncCommand(&configPath))
	return cmd
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()
			return db.Migrate(ctx, pool)
		},
	}
}

func newPublishCommand(configPath *string) *cobra.Command {
	var (
		jobID      string
		runID      string
		ownerID    string
		resultsDir string
	)

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Package a run's results directory and publish it to the results store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			logger := telemetry.NewLogger("simrunnerctl")

			job, err := uuid.Parse(jobID)
			if err != nil {
				return fmt.Errorf("invalid --job-id: %w", err)
			}
			run, err := uuid.Parse(runID)
			if err != nil {
				return fmt.Errorf("invalid --run-id: %w", err)
			}
			owner, err := uuid.Parse(ownerID)
			if err != nil {
				return fmt.Errorf("invalid --owner-id: %w", err)
			}

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()

			store, err := runstore.NewPostgres(pool)
			if err != nil {
				return err
			}
			s3Client, err := gos3.NewClientFromEnv(ctx)
			if err != nil {
				return fmt.Errorf("s3 client: %w", err)
			}
			gateway, err := resultstore.NewGateway(s3Client, cfg.ResultsBucket, logger)
			if err != nil {
				return err
			}
			pub, err := publisher.New(nil, gateway, store, events.NopSink{}, logger)
			if err != nil {
				return err
			}

			res, err := pub.Publish(ctx, owner, job, run, resultsDir)
			if err != nil {
				return err
			}
			if res.AlreadyPublished {
				fmt.Fprintf(cmd.OutOrStdout(), "already published: %s\n", res.Location)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published %s (%d files, %d bytes, sha256 %s)\n",
				res.Location, res.FileCount, res.TotalSizeBytes, res.Checksum)
			return nil
		},
	}

	cmd.Flags().StringVar(&jobID, "job-id", "", "Job identifier")
	cmd.Flags().StringVar(&runID, "run-id", "", "Run identifier")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "Owner of the job")
	cmd.Flags().StringVar(&resultsDir, "results-dir", "", "Directory holding the run's simulation output")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("run-id")
	_ = cmd.MarkFlagRequired("owner-id")
	_ = cmd.MarkFlagRequired("results-dir")
	return cmd
}

func newSyncCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Run one status refresh pass over all active runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := commandContext(cmd)
			logger := telemetry.NewLogger("simrunnerctl")

			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			pool, err := db.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer pool.Close()

			store, err := runstore.NewPostgres(pool)
			if err != nil {
				return err
			}
			compute, err := statussync.NewDefaultBatchRunner(ctx, cfg.Batch.JobQueue, cfg.Batch.JobDefinition)
			if err != nil {
				return err
			}
			syncer, err := statussync.New(compute, store, events.NopSink{}, logger, statussync.Config{
				MaxAttempts:    cfg.Sync.MaxAttempts,
				InitialBackoff: cfg.Sync.InitialBackoff.Std(),
				QueryTimeout:   cfg.Sync.QueryTimeout.Std(),
			})
			if err != nil {
				return err
			}

			runs, err := store.ListActiveRuns(ctx)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no active runs")
				return nil
			}
			updated, err := syncer.Refresh(ctx, runs)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checked %d runs, updated %d\n", len(runs), len(updated))
			return nil
		},
	}
}
