package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeScope/internal/config"
	"stakeScope/internal/contracts"
	"stakeScope/internal/indexer"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/retry"
	"stakeScope/internal/storage"
	"stakeScope/internal/storage/memory"
	"stakeScope/internal/storage/postgres"
)

func runImport(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadImport(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.In == "" {
		return fmt.Errorf("input path is required")
	}
	if cfg.PGDSN == "" && !cfg.DryRun {
		return fmt.Errorf("pg dsn is required unless --dry-run is set")
	}
	if err := cfg.Contracts.Validate(); err != nil {
		return err
	}

	decoder, err := contracts.NewDecoder(contracts.Config{
		NodeManagerAddress: cfg.NodeManagerAddress,
		TokenAddress:       cfg.TokenAddress,
		Topic0Map:          cfg.Topic0Map,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		store  storage.Store
		policy retry.Policy
	)
	if cfg.DryRun {
		store = memory.NewStore()
	} else {
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return err
		}
		store = pg
		policy = retry.Policy{MaxRetries: 3, Retryable: postgres.Retryable}
	}
	defer store.Close()

	engine := projection.NewEngine(store, projection.Params{UnlockDelayBlocks: cfg.UnlockDelayBlocks},
		projection.WithLogger(logger),
		projection.WithRetry(policy),
	)

	inputFile, err := os.Open(cfg.In)
	if err != nil {
		return fmt.Errorf("open input: %w", err)
	}
	defer inputFile.Close()

	errWriter, err := newJSONLWriter(cfg.Errors, false)
	if err != nil {
		return err
	}
	defer errWriter.Close()

	// a dry run never resumes, its state is gone when the process exits
	checkpoint := indexer.NewCheckpointStore(cfg.Checkpoint, cfg.CheckpointEnabled && !cfg.DryRun)
	importer := indexer.NewImporter(engine, decoder, checkpoint, logger)
	importer.OnDecodeError = func(derr model.DecodeError) {
		_ = errWriter.Write(derr)
	}

	logger.Info("import start",
		zap.String("in", cfg.In),
		zap.Bool("dry_run", cfg.DryRun),
		zap.String("errors", cfg.Errors),
		zap.String("checkpoint", cfg.Checkpoint),
	)

	stats, err := importer.Import(ctx, cfg.In, inputFile)
	if err != nil {
		return err
	}
	logger.Info("import complete",
		zap.Uint64("lines", stats.Lines),
		zap.Uint64("skipped", stats.Skipped),
		zap.Uint64("applied", stats.Applied),
		zap.Uint64("duplicates", stats.Duplicates),
		zap.Uint64("failed", stats.Failed),
		zap.Uint64("rollbacks", stats.Rollbacks),
	)

	if !cfg.DryRun {
		return nil
	}
	totals, err := store.Totals(ctx)
	if err != nil {
		return err
	}
	out := stdoutWriter()
	if err := out.Write(totals); err != nil {
		return err
	}
	return out.Close()
}
