package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeScope/internal/config"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/storage/memory"
)

const (
	queryNodeManager = "0x1000000000000000000000000000000000000001"
	queryToken       = "0x2000000000000000000000000000000000000002"
	queryNode        = "0x00000000000000000000000000000000000000aa"
	queryUser        = "0x00000000000000000000000000000000000000bb"
)

func seededStore(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	engine := projection.NewEngine(store, projection.Params{UnlockDelayBlocks: 5})
	events := []model.RawEvent{
		{Contract: model.ContractNodeManager, ContractAddress: queryNodeManager, EventName: "NodeRegistered", Args: []string{queryNode, "2"}, BlockNumber: 1, LogIndex: 0},
		{Contract: model.ContractToken, ContractAddress: queryToken, EventName: "Minted", Args: []string{queryUser, "100"}, BlockNumber: 2, LogIndex: 0},
		{Contract: model.ContractToken, ContractAddress: queryToken, EventName: "RedemptionRequested", Args: []string{queryUser, "1", "40", "41", "1"}, BlockNumber: 3, LogIndex: 0},
	}
	for i, ev := range events {
		ev.BlockHash = "0xb" + strings.Repeat("0", 62) + string(rune('1'+i))
		ev.TxHash = "0xa" + strings.Repeat("0", 62) + string(rune('1'+i))
		ev.BlockTimestamp = 1_700_000_000 + ev.BlockNumber
		_, err := engine.Ingest(context.Background(), ev)
		require.NoError(t, err)
	}
	return store
}

func runQueryTo(t *testing.T, cfg config.QueryConfig) []map[string]any {
	t.Helper()
	path := filepath.Join(t.TempDir(), "out.jsonl")
	out, err := newJSONLWriter(path, false)
	require.NoError(t, err)
	require.NoError(t, query(context.Background(), seededStore(t), cfg, out))
	require.NoError(t, out.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		row := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &row))
		rows = append(rows, row)
	}
	return rows
}

func TestQueryNodeIncludesStatus(t *testing.T) {
	rows := runQueryTo(t, config.QueryConfig{Entity: "node", Address: strings.ToUpper(queryNode[2:])})
	require.Len(t, rows, 1)
	require.Equal(t, "active", rows[0]["status"])
	require.EqualValues(t, 2, rows[0]["node_type"])
}

func TestQueryRedemptionsByStatus(t *testing.T) {
	rows := runQueryTo(t, config.QueryConfig{Entity: "redemptions", Address: queryUser, Status: "pending"})
	require.Len(t, rows, 1)
	require.EqualValues(t, 1, rows[0]["queue_index"])

	rows = runQueryTo(t, config.QueryConfig{Entity: "redemptions", Status: "claimable"})
	require.Empty(t, rows)
}

func TestQueryRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	out := &jsonlWriter{}

	require.ErrorContains(t, query(ctx, store, config.QueryConfig{Entity: "pools"}, out), "unknown entity")
	require.ErrorContains(t, query(ctx, store, config.QueryConfig{Entity: "user"}, out), "--address")
	require.ErrorContains(t, query(ctx, store, config.QueryConfig{Entity: "user", Address: queryNode}, out), "not found")
	require.ErrorContains(t, query(ctx, store, config.QueryConfig{Entity: "redemptions", Status: "done"}, out), "unknown redemption status")
}
