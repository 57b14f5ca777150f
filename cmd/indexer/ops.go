package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeScope/internal/config"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/storage"
	"stakeScope/internal/storage/postgres"
)

func runRollback(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRollback(cfgFile, cmd.Flags())
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	engine := projection.NewEngine(store, projection.Params{UnlockDelayBlocks: cfg.UnlockDelayBlocks},
		projection.WithLogger(logger))

	if cfg.Rebuild {
		replayed, err := engine.Rebuild(ctx)
		if err != nil {
			return err
		}
		logger.Info("projection rebuilt", zap.Int64("replayed_events", replayed))
		return nil
	}

	result, err := engine.Rollback(ctx, cfg.ForkBlock)
	if err != nil {
		return err
	}
	out := stdoutWriter()
	if err := out.Write(result); err != nil {
		return err
	}
	return out.Close()
}

func runQuery(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadQuery(cfgFile, cmd.Flags())
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	out := stdoutWriter()
	if cfg.Out != "" {
		out, err = newJSONLWriter(cfg.Out, false)
		if err != nil {
			return err
		}
	}

	if err := query(ctx, store, cfg, out); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func query(ctx context.Context, reader storage.Reader, cfg config.QueryConfig, out *jsonlWriter) error {
	address := ""
	if cfg.Address != "" {
		normalized, err := model.NormalizeAddress(cfg.Address)
		if err != nil {
			return err
		}
		address = normalized
	}

	switch strings.ToLower(cfg.Entity) {
	case "node":
		if address == "" {
			return fmt.Errorf("--address is required for node")
		}
		node, err := reader.GetEdgeNode(ctx, address)
		if err != nil {
			return notFoundAs(err, "edge node", address)
		}
		return out.Write(struct {
			*model.EdgeNode
			Status model.NodeStatus `json:"status"`
		}{node, node.Status()})
	case "user":
		if address == "" {
			return fmt.Errorf("--address is required for user")
		}
		user, err := reader.GetUser(ctx, address)
		if err != nil {
			return notFoundAs(err, "user", address)
		}
		return out.Write(user)
	case "redemptions":
		var status model.RedemptionStatus
		if cfg.Status != "" {
			parsed, ok := model.ParseRedemptionStatus(cfg.Status)
			if !ok {
				return fmt.Errorf("unknown redemption status: %s", cfg.Status)
			}
			status = parsed
		}
		entries, err := reader.ListRedemptions(ctx, address, status)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := out.Write(entry); err != nil {
				return err
			}
		}
		return nil
	case "snapshots":
		from, err := config.ParseTimestamp(cfg.From)
		if err != nil {
			return fmt.Errorf("parse from: %w", err)
		}
		to, err := config.ParseTimestamp(cfg.To)
		if err != nil {
			return fmt.Errorf("parse to: %w", err)
		}
		if to == 0 {
			to = uint64(time.Now().Unix())
		}
		snaps, err := reader.ListSnapshots(ctx, from, to)
		if err != nil {
			return err
		}
		for _, snap := range snaps {
			if err := out.Write(snap); err != nil {
				return err
			}
		}
		return nil
	case "violations":
		violations, err := reader.ListViolations(ctx, cfg.Limit)
		if err != nil {
			return err
		}
		for _, v := range violations {
			if err := out.Write(v); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown entity %q (node, user, redemptions, snapshots, violations)", cfg.Entity)
	}
}

func notFoundAs(err error, what, address string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s %s not found", what, address)
	}
	return err
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadStore(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		return err
	}
	logger.Info("schema applied", zap.String("pg_dsn", redactDSN(cfg.PGDSN)))
	return nil
}
