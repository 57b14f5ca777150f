package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// ImportConfig holds configuration for replaying an archived log file.
type ImportConfig struct {
	Contracts

	In                string
	PGDSN             string
	DryRun            bool
	Checkpoint        string
	CheckpointEnabled bool
	Errors            string
	UnlockDelayBlocks uint64
	LogLevel          string
}

// LoadImport merges config file, environment variables, and flags into ImportConfig.
func LoadImport(cfgFile string, flags *pflag.FlagSet) (ImportConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"checkpoint":         "./data/import_checkpoint.json",
		"checkpoint-enabled": true,
		"errors":             "./data/decode_errors.jsonl",
		"log-level":          "info",
	})
	if err != nil {
		return ImportConfig{}, err
	}

	return ImportConfig{
		Contracts:         loadContracts(v),
		In:                v.GetString("in"),
		PGDSN:             v.GetString("pg-dsn"),
		DryRun:            v.GetBool("dry-run"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
		Errors:            v.GetString("errors"),
		UnlockDelayBlocks: v.GetUint64("unlock-delay-blocks"),
		LogLevel:          v.GetString("log-level"),
	}, nil
}

// SnapshotConfig holds configuration for materializing hourly snapshots.
type SnapshotConfig struct {
	PGDSN string
	// At is a single boundary to write; empty means catch up to the watermark.
	At                 string
	RecomputeFrom      string
	WatermarkContracts []string
	Follow             bool
	Interval           time.Duration
	// UnlockDelayBlocks must match the value used at ingest for replayed totals.
	UnlockDelayBlocks uint64

	SupplyCheck  bool
	RPCURL       string
	TokenAddress string

	LogLevel string
}

// LoadSnapshot merges config file, environment variables, and flags into SnapshotConfig.
func LoadSnapshot(cfgFile string, flags *pflag.FlagSet) (SnapshotConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"interval":  time.Minute,
		"log-level": "info",
	})
	if err != nil {
		return SnapshotConfig{}, err
	}

	cfg := SnapshotConfig{
		PGDSN:              v.GetString("pg-dsn"),
		At:                 v.GetString("at"),
		RecomputeFrom:      v.GetString("recompute-from"),
		WatermarkContracts: getStringSlice(v, "watermark-contracts"),
		Follow:             v.GetBool("follow"),
		Interval:           v.GetDuration("interval"),
		UnlockDelayBlocks:  v.GetUint64("unlock-delay-blocks"),
		SupplyCheck:        v.GetBool("supply-check"),
		RPCURL:             v.GetString("rpc"),
		TokenAddress:       v.GetString("token-address"),
		LogLevel:           v.GetString("log-level"),
	}
	if cfg.SupplyCheck && (cfg.RPCURL == "" || cfg.TokenAddress == "") {
		return SnapshotConfig{}, fmt.Errorf("supply check needs --rpc and --token-address")
	}
	return cfg, nil
}

// RollbackConfig holds configuration for an operator-triggered rollback.
type RollbackConfig struct {
	PGDSN             string
	ForkBlock         uint64
	Rebuild           bool
	UnlockDelayBlocks uint64
	LogLevel          string
}

// LoadRollback merges config file, environment variables, and flags into RollbackConfig.
func LoadRollback(cfgFile string, flags *pflag.FlagSet) (RollbackConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{"log-level": "info"})
	if err != nil {
		return RollbackConfig{}, err
	}

	cfg := RollbackConfig{
		PGDSN:             v.GetString("pg-dsn"),
		ForkBlock:         v.GetUint64("fork-block"),
		Rebuild:           v.GetBool("rebuild"),
		UnlockDelayBlocks: v.GetUint64("unlock-delay-blocks"),
		LogLevel:          v.GetString("log-level"),
	}
	if cfg.Rebuild == (cfg.ForkBlock > 0) {
		return RollbackConfig{}, fmt.Errorf("exactly one of --fork-block or --rebuild is required")
	}
	return cfg, nil
}

// QueryConfig holds configuration for the read-only query command.
type QueryConfig struct {
	PGDSN    string
	Entity   string
	Address  string
	Status   string
	From     string
	To       string
	Limit    int
	Out      string
	LogLevel string
}

// LoadQuery merges config file, environment variables, and flags into QueryConfig.
func LoadQuery(cfgFile string, flags *pflag.FlagSet) (QueryConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"limit":     100,
		"log-level": "warn",
	})
	if err != nil {
		return QueryConfig{}, err
	}

	return QueryConfig{
		PGDSN:    v.GetString("pg-dsn"),
		Entity:   v.GetString("entity"),
		Address:  v.GetString("address"),
		Status:   v.GetString("status"),
		From:     v.GetString("from"),
		To:       v.GetString("to"),
		Limit:    v.GetInt("limit"),
		Out:      v.GetString("out"),
		LogLevel: v.GetString("log-level"),
	}, nil
}

// StoreConfig holds configuration for commands that only need the database.
type StoreConfig struct {
	PGDSN    string
	LogLevel string
}

// LoadStore merges config file, environment variables, and flags into StoreConfig.
func LoadStore(cfgFile string, flags *pflag.FlagSet) (StoreConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{"log-level": "info"})
	if err != nil {
		return StoreConfig{}, err
	}
	return StoreConfig{PGDSN: v.GetString("pg-dsn"), LogLevel: v.GetString("log-level")}, nil
}
