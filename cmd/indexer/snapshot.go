package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeScope/internal/chain"
	"stakeScope/internal/config"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/snapshot"
	"stakeScope/internal/storage/postgres"
)

func runSnapshot(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadSnapshot(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	at, err := config.ParseTimestamp(cfg.At)
	if err != nil {
		return fmt.Errorf("parse at: %w", err)
	}
	recomputeFrom, err := config.ParseTimestamp(cfg.RecomputeFrom)
	if err != nil {
		return fmt.Errorf("parse recompute-from: %w", err)
	}
	watermarkContracts := make([]model.Contract, 0, len(cfg.WatermarkContracts))
	for _, name := range cfg.WatermarkContracts {
		contract, err := model.ParseContract(name)
		if err != nil {
			return err
		}
		watermarkContracts = append(watermarkContracts, contract)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	snapshotCfg := snapshot.Config{
		Interval:      cfg.Interval,
		Contracts:     watermarkContracts,
		RecomputeFrom: recomputeFrom,
		StateStore:    &snapshot.DBStateStore{Store: store, Name: "snapshots"},
		Params:        projection.Params{UnlockDelayBlocks: cfg.UnlockDelayBlocks},
	}
	if cfg.SupplyCheck {
		chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
		if err != nil {
			return fmt.Errorf("connect rpc: %w", err)
		}
		defer chainClient.Close()
		normalized, err := model.NormalizeAddress(cfg.TokenAddress)
		if err != nil {
			return err
		}
		snapshotCfg.Supply = supplyReader(chainClient, normalized)
	}
	agg := snapshot.NewAggregator(snapshotCfg, store, nil, logger)

	logger.Info("snapshot start",
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.Uint64("at", at),
		zap.Uint64("recompute_from", recomputeFrom),
		zap.Bool("follow", cfg.Follow),
		zap.Bool("supply_check", cfg.SupplyCheck),
	)

	switch {
	case at > 0:
		snap, created, err := agg.TakeSnapshot(ctx, at)
		if err != nil {
			return err
		}
		logger.Info("snapshot done", zap.Uint64("snapshot_timestamp", snap.SnapshotTimestamp), zap.Bool("created", created))
		return nil
	case cfg.Follow:
		err := agg.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	default:
		created, err := agg.CatchUp(ctx)
		if err != nil {
			return err
		}
		logger.Info("snapshot catch-up done", zap.Int("created", created))
		return nil
	}
}
