package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func runFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
	flags.String("rpc", "", "")
	flags.String("pg-dsn", "", "")
	flags.String("node-manager-address", "", "")
	flags.String("token-address", "", "")
	flags.String("topic0-map", "", "")
	flags.Uint64("batch-size", 2000, "")
	flags.Bool("follow", true, "")
	flags.Uint64("to", 0, "")
	require.NoError(t, flags.Parse(args))
	return flags
}

func TestLoadRunMergesFlagsEnvAndDefaults(t *testing.T) {
	t.Setenv("STAKESCOPE_PG_DSN", "postgres://env")
	t.Setenv("STAKESCOPE_UNLOCK_DELAY_BLOCKS", "28800")

	flags := runFlags(t,
		"--rpc", "http://node:16888/rpc",
		"--node-manager-address", "0x1000000000000000000000000000000000000001",
		"--token-address", "0x2000000000000000000000000000000000000002",
		"--topic0-map", "0xabc=NodeStaked, bad, 0xdef=Minted",
		"--batch-size", "500",
	)
	cfg, err := LoadRun("", flags)
	require.NoError(t, err)

	require.Equal(t, "http://node:16888/rpc", cfg.RPCURL)
	require.Equal(t, "postgres://env", cfg.PGDSN)
	require.EqualValues(t, 28800, cfg.UnlockDelayBlocks)
	require.EqualValues(t, 500, cfg.BatchSize)
	require.EqualValues(t, 12, cfg.Confirmations)
	require.Equal(t, 64, cfg.ReorgWindow)
	require.Equal(t, 5*time.Second, cfg.PollInterval)
	require.Equal(t, map[string]string{"0xabc": "NodeStaked", "0xdef": "Minted"}, cfg.Topic0Map)
	require.NoError(t, cfg.Validate())
}

func TestLoadRunReadsConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stakescope.yaml")
	body := []byte("rpc: http://file\npg-dsn: postgres://file\nnode-manager-address: \"0x1000000000000000000000000000000000000001\"\n" +
		"token-address: \"0x2000000000000000000000000000000000000002\"\nconfirmations: 3\ntopic0-map:\n  \"0xabc\": NodeStaked\n")
	require.NoError(t, os.WriteFile(path, body, 0o644))

	cfg, err := LoadRun(path, nil)
	require.NoError(t, err)
	require.Equal(t, "http://file", cfg.RPCURL)
	require.EqualValues(t, 3, cfg.Confirmations)
	require.Equal(t, "NodeStaked", cfg.Topic0Map["0xabc"])
}

func TestRunConfigValidate(t *testing.T) {
	cfg, err := LoadRun("", runFlags(t, "--rpc", "http://x", "--pg-dsn", "postgres://x"))
	require.NoError(t, err)
	require.ErrorContains(t, cfg.Validate(), "node manager address")

	cfg, err = LoadRun("", runFlags(t,
		"--rpc", "http://x", "--pg-dsn", "postgres://x",
		"--node-manager-address", "0x1", "--token-address", "0x2",
		"--to", "100",
	))
	require.NoError(t, err)
	require.ErrorContains(t, cfg.Validate(), "--follow")
}

func TestLoadRollbackNeedsOneMode(t *testing.T) {
	newFlags := func(args ...string) *pflag.FlagSet {
		flags := pflag.NewFlagSet("rollback", pflag.ContinueOnError)
		flags.Uint64("fork-block", 0, "")
		flags.Bool("rebuild", false, "")
		require.NoError(t, flags.Parse(args))
		return flags
	}

	_, err := LoadRollback("", newFlags())
	require.Error(t, err)
	_, err = LoadRollback("", newFlags("--fork-block", "10", "--rebuild"))
	require.Error(t, err)

	cfg, err := LoadRollback("", newFlags("--fork-block", "10"))
	require.NoError(t, err)
	require.EqualValues(t, 10, cfg.ForkBlock)
}

func TestLoadSnapshotWatermarkContracts(t *testing.T) {
	t.Setenv("STAKESCOPE_WATERMARK_CONTRACTS", "node_manager, token,")
	t.Setenv("STAKESCOPE_UNLOCK_DELAY_BLOCKS", "28800")
	cfg, err := LoadSnapshot("", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"node_manager", "token"}, cfg.WatermarkContracts)
	require.Equal(t, time.Minute, cfg.Interval)
	require.EqualValues(t, 28800, cfg.UnlockDelayBlocks)

	t.Setenv("STAKESCOPE_SUPPLY_CHECK", "true")
	_, err = LoadSnapshot("", nil)
	require.ErrorContains(t, err, "supply check")
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in   string
		want uint64
		err  bool
	}{
		{in: "", want: 0},
		{in: "1700002800", want: 1700002800},
		{in: "2023-11-14T23:00:00Z", want: 1700002800},
		{in: "yesterday", err: true},
	}
	for _, tc := range cases {
		got, err := ParseTimestamp(tc.in)
		if tc.err {
			require.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}
