package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"stakeScope/internal/chain"
	"stakeScope/internal/config"
	"stakeScope/internal/contracts"
	"stakeScope/internal/indexer"
	"stakeScope/internal/metrics"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/retry"
	"stakeScope/internal/snapshot"
	"stakeScope/internal/storage"
	"stakeScope/internal/storage/postgres"
)

const metricsNamespace = "stakescope"

func runService(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadRun(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

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

	chainClient, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("connect rpc: %w", err)
	}
	defer chainClient.Close()

	store, err := postgres.NewStore(ctx, cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return err
	}

	m := metrics.NewMetrics(metricsNamespace, nil)
	params := projection.Params{UnlockDelayBlocks: cfg.UnlockDelayBlocks}
	engine := projection.NewEngine(store, params,
		projection.WithLogger(logger),
		projection.WithMetrics(m),
		projection.WithRetry(retry.Policy{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryBackoff,
			Retryable:  postgres.Retryable,
		}),
	)

	var archive storage.LogArchive
	if cfg.Archive != "" {
		archive = storage.NewJSONLArchive(cfg.Archive)
	}

	rpcRetry := retry.Policy{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBackoff}
	tasks := make([]indexer.Task, 0, 4)
	for contract, start := range map[model.Contract]uint64{
		model.ContractNodeManager: cfg.NodeManagerStartBlock,
		model.ContractToken:       cfg.TokenStartBlock,
	} {
		runner := indexer.NewRunner(indexer.RunConfig{
			Contract:      contract,
			StartBlock:    start,
			ToBlock:       cfg.ToBlock,
			BatchSize:     cfg.BatchSize,
			Confirmations: cfg.Confirmations,
			Follow:        cfg.Follow,
			PollInterval:  cfg.PollInterval,
			ReorgWindow:   cfg.ReorgWindow,
			Retry:         rpcRetry,
		}, chainClient, engine, store, decoder, archive, m, logger)
		tasks = append(tasks, indexer.RunnerTask(runner))
	}

	snapshotCfg := snapshot.Config{
		Interval:   cfg.SnapshotInterval,
		StateStore: &snapshot.DBStateStore{Store: store, Name: "snapshots"},
		Params:     params,
	}
	if cfg.SupplyCheck {
		snapshotCfg.Supply = supplyReader(chainClient, decoder.Address(model.ContractToken))
	}
	agg := snapshot.NewAggregator(snapshotCfg, store, m, logger)
	if cfg.Follow {
		tasks = append(tasks, indexer.Task{Name: "snapshots", Run: agg.Run})
	}
	// the metrics server only stops with ctx, so a bounded run goes without it
	if cfg.Follow && cfg.MetricsAddr != "" {
		tasks = append(tasks, indexer.Task{Name: "metrics", Run: func(ctx context.Context) error {
			return serveMetrics(ctx, cfg.MetricsAddr)
		}})
	}

	logger.Info("indexer start",
		zap.String("rpc", cfg.RPCURL),
		zap.String("pg_dsn", redactDSN(cfg.PGDSN)),
		zap.String("node_manager", decoder.Address(model.ContractNodeManager)),
		zap.String("token", decoder.Address(model.ContractToken)),
		zap.Uint64("to", cfg.ToBlock),
		zap.Uint64("batch_size", cfg.BatchSize),
		zap.Uint64("confirmations", cfg.Confirmations),
		zap.Bool("follow", cfg.Follow),
		zap.Uint64("unlock_delay_blocks", cfg.UnlockDelayBlocks),
		zap.String("archive", cfg.Archive),
	)

	err = indexer.Supervise(ctx, logger, tasks...)
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		logger.Info("indexer stopped")
		return nil
	}
	if err != nil {
		return err
	}

	// a bounded catch-up ends with one snapshot pass over what it ingested
	if !cfg.Follow {
		created, err := agg.CatchUp(ctx)
		if err != nil {
			return err
		}
		logger.Info("snapshots written", zap.Int("created", created))
	}
	return nil
}

func supplyReader(client *chain.Client, token string) snapshot.SupplyFunc {
	address := common.HexToAddress(token)
	return func(ctx context.Context, blockNumber uint64) (*big.Int, error) {
		return client.TotalSupply(ctx, address, blockNumber)
	}
}

// serveMetrics exposes the default prometheus registry until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	}
}
