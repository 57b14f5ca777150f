package projection

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReplicaTotalsAtBlock(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, 5)
	ingestAll(t, engine,
		nodeEvent("NodeRegistered", 10, 0, nodeA, "1"),
		tokenEvent("Minted", 10, 1, userB, "100"),
		tokenEvent("RedemptionRequested", 12, 0, userB, "1", "40", "40", "2"),
		tokenEvent("Minted", 20, 0, userB, "200"),
		nodeEvent("NodeMarkedFaulty", 30, 0, nodeA),
		tokenEvent("Minted", 30, 1, userC, "1"),
	)

	replica := NewReplica(store, Params{UnlockDelayBlocks: 5})

	atTwenty, err := replica.TotalsAt(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, "300", atTwenty.TotalMinted.String())
	require.EqualValues(t, 1, atTwenty.TotalUsers)
	require.EqualValues(t, 1, atTwenty.ActiveNodes)
	require.Zero(t, atTwenty.FaultyNodes)
	require.Zero(t, atTwenty.PendingRedemptions)
	require.EqualValues(t, 1, atTwenty.ClaimableRedemptions)

	atHead, err := replica.TotalsAt(ctx, 30)
	require.NoError(t, err)
	live, err := store.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, live.TotalMinted.String(), atHead.TotalMinted.String())
	require.Equal(t, live.TotalSupply.String(), atHead.TotalSupply.String())
	require.Equal(t, live.TotalUsers, atHead.TotalUsers)
	require.Equal(t, live.FaultyNodes, atHead.FaultyNodes)
	require.Equal(t, live.ClaimableRedemptions, atHead.ClaimableRedemptions)

	// an earlier block rebuilds from the start
	atTwelve, err := replica.TotalsAt(ctx, 12)
	require.NoError(t, err)
	require.Equal(t, "100", atTwelve.TotalMinted.String())
	require.EqualValues(t, 1, atTwelve.PendingRedemptions)
	require.Equal(t, "40", atTwelve.OutstandingRedemptionTfuel.String())

	beforeAll, err := replica.TotalsAt(ctx, 9)
	require.NoError(t, err)
	require.Zero(t, beforeAll.TotalNodes)
	require.Equal(t, "0", beforeAll.TotalMinted.String())
}

func TestReplicaPagesThroughLongLogs(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, 0)
	events := 3*replayPageSize + 7
	for block := uint64(1); block <= uint64(events); block++ {
		ingestAll(t, engine, tokenEvent("Minted", block, 0, userB, "1"))
	}

	replica := NewReplica(store, Params{})
	totals, err := replica.TotalsAt(ctx, uint64(2*replayPageSize+3))
	require.NoError(t, err)
	require.EqualValues(t, 2*replayPageSize+3, totals.TotalMinted.Int64())

	totals, err = replica.TotalsAt(ctx, uint64(events))
	require.NoError(t, err)
	require.EqualValues(t, events, totals.TotalMinted.Int64())
}

func TestReplicaNoticesReplacedHead(t *testing.T) {
	ctx := context.Background()
	engine, store := newEngine(t, 0)
	ingestAll(t, engine,
		tokenEvent("Minted", 10, 0, userB, "100"),
		tokenEvent("Minted", 20, 0, userB, "50"),
	)
	replica := NewReplica(store, Params{})
	totals, err := replica.TotalsAt(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, "150", totals.TotalMinted.String())

	_, err = engine.Rollback(ctx, 20)
	require.NoError(t, err)
	replacement := tokenEvent("Minted", 20, 0, userB, "70")
	replacement.BlockHash = "0xf000000000000000000000000000000000000000000000000000000000000014"
	replacement.TxHash = "0xf000000000000000000000000000000000000000000000000000000000000140"
	ingestAll(t, engine, replacement)

	totals, err = replica.TotalsAt(ctx, 20)
	require.NoError(t, err)
	require.Equal(t, "170", totals.TotalMinted.String())
}
