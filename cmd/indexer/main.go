package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	root := &cobra.Command{
		Use:          "indexer",
		Short:        "Liquid-staking event indexer and state projection",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest both contracts, project state and write hourly snapshots",
		RunE:  runService,
	}

	runCmd.Flags().String("rpc", "", "chain RPC URL")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	addContractFlags(runCmd)
	runCmd.Flags().Uint64("node-manager-start-block", 0, "first block of the node manager stream when it has no cursor")
	runCmd.Flags().Uint64("token-start-block", 0, "first block of the token stream when it has no cursor")
	runCmd.Flags().Uint64("to", 0, "stop after this block (inclusive), 0 means follow the confirmed head")
	runCmd.Flags().Uint64("batch-size", 2000, "blocks per eth_getLogs request")
	runCmd.Flags().Uint64("confirmations", 12, "blocks behind head considered final enough to ingest")
	runCmd.Flags().Bool("follow", true, "keep polling for new blocks after catching up")
	runCmd.Flags().Duration("poll-interval", 5*time.Second, "delay between head polls in follow mode")
	runCmd.Flags().Int("reorg-window", 64, "recorded blocks searched for a fork point")
	runCmd.Flags().Uint64("unlock-delay-blocks", 0, "blocks between a redemption request and its unlock")
	runCmd.Flags().Duration("snapshot-interval", time.Minute, "delay between snapshot catch-up ticks")
	runCmd.Flags().Bool("supply-check", false, "compare projected supply with the token totalSupply after each snapshot")
	runCmd.Flags().String("archive", "", "optional JSONL path receiving every fetched raw log")
	runCmd.Flags().String("metrics-addr", ":9090", "prometheus listen address, empty disables it")
	runCmd.Flags().Int("max-retries", 5, "maximum retry attempts")
	runCmd.Flags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Replay an archived raw log JSONL file through the projection",
		RunE:  runImport,
	}

	importCmd.Flags().String("in", "", "input raw logs JSONL")
	importCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	importCmd.Flags().Bool("dry-run", false, "project into memory and print the resulting totals")
	addContractFlags(importCmd)
	importCmd.Flags().String("checkpoint", "./data/import_checkpoint.json", "checkpoint file path")
	importCmd.Flags().Bool("checkpoint-enabled", true, "enable checkpointing")
	importCmd.Flags().String("errors", "./data/decode_errors.jsonl", "decode errors JSONL")
	importCmd.Flags().Uint64("unlock-delay-blocks", 0, "blocks between a redemption request and its unlock")
	importCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(importCmd)

	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Materialize hourly snapshots up to the ingestion watermark",
		RunE:  runSnapshot,
	}

	snapshotCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	snapshotCmd.Flags().String("at", "", "write only this boundary (unix seconds or RFC3339)")
	snapshotCmd.Flags().String("recompute-from", "", "restart catch-up at this timestamp (unix seconds or RFC3339)")
	snapshotCmd.Flags().StringSlice("watermark-contracts", nil, "contracts whose cursors bound the watermark (default both)")
	snapshotCmd.Flags().Bool("follow", false, "keep ticking instead of exiting after one catch-up")
	snapshotCmd.Flags().Duration("interval", time.Minute, "delay between ticks in follow mode")
	snapshotCmd.Flags().Uint64("unlock-delay-blocks", 0, "blocks between a redemption request and its unlock")
	snapshotCmd.Flags().Bool("supply-check", false, "compare projected supply with the token totalSupply")
	snapshotCmd.Flags().String("rpc", "", "chain RPC URL, required with --supply-check")
	snapshotCmd.Flags().String("token-address", "", "token contract address, required with --supply-check")
	snapshotCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(snapshotCmd)

	rollbackCmd := &cobra.Command{
		Use:   "rollback",
		Short: "Drop raw events from a fork block on and replay the projection",
		RunE:  runRollback,
	}

	rollbackCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	rollbackCmd.Flags().Uint64("fork-block", 0, "first block to discard")
	rollbackCmd.Flags().Bool("rebuild", false, "keep every raw event and rebuild the projection from scratch")
	rollbackCmd.Flags().Uint64("unlock-delay-blocks", 0, "blocks between a redemption request and its unlock")
	rollbackCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(rollbackCmd)

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Print projected state as JSON lines",
		RunE:  runQuery,
	}

	queryCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	queryCmd.Flags().String("entity", "", "node, user, redemptions, snapshots or violations")
	queryCmd.Flags().String("address", "", "node or user address")
	queryCmd.Flags().String("status", "", "redemption status filter")
	queryCmd.Flags().String("from", "", "first snapshot timestamp (unix seconds or RFC3339)")
	queryCmd.Flags().String("to", "", "last snapshot timestamp (unix seconds or RFC3339)")
	queryCmd.Flags().Int("limit", 100, "maximum violations returned")
	queryCmd.Flags().String("out", "", "output JSONL path, empty writes to stdout")
	queryCmd.Flags().String("log-level", "warn", "log level (debug, info, warn, error)")

	root.AddCommand(queryCmd)

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		RunE:  runMigrate,
	}

	migrateCmd.Flags().String("pg-dsn", "", "Postgres DSN")
	migrateCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(migrateCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func addContractFlags(cmd *cobra.Command) {
	cmd.Flags().String("node-manager-address", "", "node manager contract address")
	cmd.Flags().String("token-address", "", "staking token contract address")
	cmd.Flags().String("topic0-map", "", "extra topic0->event mappings (comma-separated key=value)")
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return dsn
	}
	return "***"
}
