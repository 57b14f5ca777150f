package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// RunConfig holds configuration for the long-running ingestion service.
type RunConfig struct {
	Contracts

	RPCURL string
	PGDSN  string

	NodeManagerStartBlock uint64
	TokenStartBlock       uint64
	ToBlock               uint64
	BatchSize             uint64
	Confirmations         uint64
	Follow                bool
	PollInterval          time.Duration
	ReorgWindow           int

	UnlockDelayBlocks uint64
	SnapshotInterval  time.Duration
	SupplyCheck       bool

	Archive     string
	MetricsAddr string

	MaxRetries   int
	RetryBackoff time.Duration
	LogLevel     string
}

// LoadRun merges config file, environment variables, and flags into RunConfig.
func LoadRun(cfgFile string, flags *pflag.FlagSet) (RunConfig, error) {
	v, err := load(cfgFile, flags, map[string]any{
		"batch-size":        uint64(2000),
		"confirmations":     uint64(12),
		"follow":            true,
		"poll-interval":     5 * time.Second,
		"reorg-window":      64,
		"snapshot-interval": time.Minute,
		"metrics-addr":      ":9090",
		"max-retries":       5,
		"retry-backoff":     500 * time.Millisecond,
		"log-level":         "info",
	})
	if err != nil {
		return RunConfig{}, err
	}

	return RunConfig{
		Contracts:             loadContracts(v),
		RPCURL:                v.GetString("rpc"),
		PGDSN:                 v.GetString("pg-dsn"),
		NodeManagerStartBlock: v.GetUint64("node-manager-start-block"),
		TokenStartBlock:       v.GetUint64("token-start-block"),
		ToBlock:               v.GetUint64("to"),
		BatchSize:             v.GetUint64("batch-size"),
		Confirmations:         v.GetUint64("confirmations"),
		Follow:                v.GetBool("follow"),
		PollInterval:          v.GetDuration("poll-interval"),
		ReorgWindow:           v.GetInt("reorg-window"),
		UnlockDelayBlocks:     v.GetUint64("unlock-delay-blocks"),
		SnapshotInterval:      v.GetDuration("snapshot-interval"),
		SupplyCheck:           v.GetBool("supply-check"),
		Archive:               v.GetString("archive"),
		MetricsAddr:           v.GetString("metrics-addr"),
		MaxRetries:            v.GetInt("max-retries"),
		RetryBackoff:          v.GetDuration("retry-backoff"),
		LogLevel:              v.GetString("log-level"),
	}, nil
}

// Validate checks the settings the service cannot start without.
func (c RunConfig) Validate() error {
	if c.RPCURL == "" {
		return fmt.Errorf("rpc url is required")
	}
	if c.PGDSN == "" {
		return fmt.Errorf("pg dsn is required")
	}
	if err := c.Contracts.Validate(); err != nil {
		return err
	}
	if c.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if c.ToBlock > 0 && c.Follow {
		return fmt.Errorf("--to cannot be combined with --follow")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive")
	}
	if c.ReorgWindow <= 0 {
		return fmt.Errorf("reorg window must be positive")
	}
	return nil
}
