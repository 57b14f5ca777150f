package snapshot

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/storage"
	"stakeScope/internal/storage/memory"
)

const (
	nodeManagerAddr = "0x1000000000000000000000000000000000000001"
	tokenAddr       = "0x2000000000000000000000000000000000000002"
	nodeA           = "0x00000000000000000000000000000000000000aa"
	userB           = "0x00000000000000000000000000000000000000bb"

	// first boundary after block 0; block b is at 1_700_000_000 + 2b
	firstBoundary  = 1_700_002_800
	secondBoundary = firstBoundary + HourSeconds
	thirdBoundary  = secondBoundary + HourSeconds
)

func blockTime(block uint64) uint64 {
	return 1_700_000_000 + block*2
}

func raw(contract model.Contract, name string, block, logIndex uint64, args ...string) model.RawEvent {
	address := tokenAddr
	if contract == model.ContractNodeManager {
		address = nodeManagerAddr
	}
	return model.RawEvent{
		Contract:        contract,
		ContractAddress: address,
		EventName:       name,
		Args:            args,
		BlockNumber:     block,
		BlockHash:       fmt.Sprintf("0xb%063x", block),
		TxHash:          fmt.Sprintf("0x%032x%032x", block, logIndex),
		LogIndex:        logIndex,
		BlockTimestamp:  blockTime(block),
	}
}

type fixture struct {
	store  *memory.Store
	engine *projection.Engine
	logs   *observer.ObservedLogs
	agg    *Aggregator
}

// forked gives ev the hashes of a competing block at the same height.
func forked(ev model.RawEvent) model.RawEvent {
	ev.BlockHash = fmt.Sprintf("0xf%063x", ev.BlockNumber)
	ev.TxHash = fmt.Sprintf("0xf%031x%032x", ev.BlockNumber, ev.LogIndex)
	return ev
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	cfg.Params = projection.Params{UnlockDelayBlocks: 10}
	store := memory.NewStore()
	core, logs := observer.New(zapcore.DebugLevel)
	return &fixture{
		store:  store,
		engine: projection.NewEngine(store, projection.Params{UnlockDelayBlocks: 10}),
		logs:   logs,
		agg:    NewAggregator(cfg, store, nil, zap.New(core)),
	}
}

func (f *fixture) ingest(t *testing.T, events ...model.RawEvent) {
	t.Helper()
	for _, ev := range events {
		_, err := f.engine.Ingest(context.Background(), ev)
		require.NoError(t, err)
	}
}

func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.ingest(t,
		raw(model.ContractNodeManager, "NodeRegistered", 10, 0, nodeA, "1"),
		raw(model.ContractNodeManager, "NodeStaked", 10, 1, nodeA, "500"),
		raw(model.ContractToken, "Deposited", 10, 2, userB, "100", "1"),
		raw(model.ContractToken, "Minted", 10, 3, userB, "100"),
	)
}

func TestTakeSnapshotIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.seed(t)

	first, created, err := f.agg.TakeSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.True(t, created)
	require.EqualValues(t, 10, first.BlockNumber)
	require.EqualValues(t, 1, first.TotalNodes)
	require.EqualValues(t, 1, first.ActiveNodes)
	require.Equal(t, "500", first.TotalStaked.String())
	require.Equal(t, "100", first.TotalDeposited.String())
	require.Equal(t, "100", first.TotalSupply.String())
	require.Equal(t, "1", first.TotalEnteringFees.String())

	second, created, err := f.agg.TakeSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.SnapshotTimestamp, second.SnapshotTimestamp)
	require.Equal(t, first.TotalSupply.String(), second.TotalSupply.String())

	snaps, err := f.store.ListSnapshots(ctx, 0, secondBoundary)
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	// new events do not change an existing boundary
	f.ingest(t, raw(model.ContractToken, "Minted", 20, 0, userB, "7"))
	third, created, err := f.agg.TakeSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, "100", third.TotalSupply.String())
}

func TestTakeSnapshotRejectsUnalignedBoundary(t *testing.T) {
	f := newFixture(t, Config{})
	_, _, err := f.agg.TakeSnapshot(context.Background(), firstBoundary+1)
	require.ErrorIs(t, err, ErrUnalignedBoundary)
	_, _, err = f.agg.TakeSnapshot(context.Background(), 0)
	require.ErrorIs(t, err, ErrUnalignedBoundary)
}

func TestCatchUpStopsAtWatermark(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.agg.cfg.StateStore = &DBStateStore{Store: f.store, Name: "snapshots"}
	f.seed(t)

	// only the node manager has reached past the first boundary
	f.ingest(t, raw(model.ContractNodeManager, "NodeStaked", 2000, 0, nodeA, "5"))
	created, err := f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Zero(t, created)

	f.ingest(t, raw(model.ContractToken, "Minted", 2000, 1, userB, "5"))
	created, err = f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	snap, err := f.store.GetSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.EqualValues(t, 10, snap.BlockNumber)
	require.Equal(t, "500", snap.TotalStaked.String())
	require.Equal(t, "100", snap.TotalSupply.String())

	progress, ok, err := f.store.LoadState(ctx, "snapshots")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, firstBoundary, progress)

	created, err = f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Zero(t, created)
}

func TestCatchUpSkipsOverlappingRun(t *testing.T) {
	f := newFixture(t, Config{})
	f.agg.running.Lock()
	defer f.agg.running.Unlock()

	created, err := f.agg.CatchUp(context.Background())
	require.NoError(t, err)
	require.Zero(t, created)
	require.Equal(t, 1, f.logs.FilterMessage("snapshot run still in progress, tick skipped").Len())
}

func TestCatchUpBackfillsEachBoundaryAsOfItsBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.seed(t)
	f.ingest(t,
		raw(model.ContractToken, "Minted", 2000, 0, userB, "200"),
		raw(model.ContractToken, "RedemptionRequested", 2000, 1, userB, "1", "50", "50", "1"),
		raw(model.ContractNodeManager, "NodeStaked", 4000, 0, nodeA, "5"),
		raw(model.ContractToken, "Minted", 4000, 1, userB, "1"),
	)

	created, err := f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, created)

	first, err := f.store.GetSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.EqualValues(t, 10, first.BlockNumber)
	require.Equal(t, "100", first.TotalMinted.String())
	require.Equal(t, "500", first.TotalStaked.String())
	require.Zero(t, first.PendingRedemptions)

	// block 4000 promotes the request in the live projection, not at block 2000
	second, err := f.store.GetSnapshot(ctx, secondBoundary)
	require.NoError(t, err)
	require.EqualValues(t, 2000, second.BlockNumber)
	require.Equal(t, "300", second.TotalMinted.String())
	require.Equal(t, "500", second.TotalStaked.String())
	require.EqualValues(t, 1, second.PendingRedemptions)
	require.Zero(t, second.ClaimableRedemptions)
	require.Equal(t, "50", second.OutstandingRedemptionTfuel.String())

	live, err := f.store.Totals(ctx)
	require.NoError(t, err)
	require.Equal(t, "301", live.TotalMinted.String())
	require.EqualValues(t, 1, live.ClaimableRedemptions)

	_, err = f.store.GetSnapshot(ctx, thirdBoundary)
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.Zero(t, f.logs.FilterMessage("monotone counter decreased").Len())
}

func TestSnapshotBeforeForkKeepsPreForkTotals(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.agg.cfg.StateStore = &DBStateStore{Store: f.store, Name: "snapshots"}
	f.seed(t)
	f.ingest(t,
		raw(model.ContractNodeManager, "NodeStaked", 2000, 0, nodeA, "5"),
		raw(model.ContractToken, "Deposited", 2000, 1, userB, "50", "0"),
		raw(model.ContractToken, "Minted", 2000, 2, userB, "50"),
	)
	created, err := f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	// written while block 2000 was applied, yet it only reflects block 10
	first, err := f.store.GetSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.Equal(t, "100", first.TotalDeposited.String())
	require.Equal(t, "500", first.TotalStaked.String())

	result, err := f.engine.Rollback(ctx, 2000)
	require.NoError(t, err)
	require.Zero(t, result.DeletedSnapshots)

	kept, err := f.store.GetSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.Equal(t, first.TotalDeposited.String(), kept.TotalDeposited.String())
	require.Equal(t, first.TotalSupply.String(), kept.TotalSupply.String())

	f.ingest(t,
		raw(model.ContractNodeManager, "NodeStaked", 4000, 0, nodeA, "5"),
		raw(model.ContractToken, "Burned", 4000, 1, userB, "10"),
	)
	created, err = f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	second, err := f.store.GetSnapshot(ctx, secondBoundary)
	require.NoError(t, err)
	require.EqualValues(t, 10, second.BlockNumber)
	require.Equal(t, "100", second.TotalDeposited.String())
	require.Equal(t, "100", second.TotalSupply.String())
	require.Zero(t, f.logs.FilterMessage("monotone counter decreased").Len())
}

func TestSnapshotAfterReorgReplaysCanonicalBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.agg.cfg.StateStore = &DBStateStore{Store: f.store, Name: "snapshots"}
	f.seed(t)
	f.ingest(t,
		raw(model.ContractToken, "Deposited", 2000, 0, userB, "50", "0"),
		raw(model.ContractNodeManager, "NodeStaked", 4000, 0, nodeA, "5"),
		raw(model.ContractToken, "Minted", 4000, 1, userB, "1"),
	)
	created, err := f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, created)

	second, err := f.store.GetSnapshot(ctx, secondBoundary)
	require.NoError(t, err)
	require.EqualValues(t, 2000, second.BlockNumber)
	require.Equal(t, "150", second.TotalDeposited.String())

	result, err := f.engine.Rollback(ctx, 2000)
	require.NoError(t, err)
	require.EqualValues(t, 1, result.DeletedSnapshots)

	f.ingest(t,
		forked(raw(model.ContractToken, "Deposited", 2000, 0, userB, "70", "0")),
		forked(raw(model.ContractNodeManager, "NodeStaked", 4000, 0, nodeA, "5")),
		forked(raw(model.ContractToken, "Minted", 4000, 1, userB, "1")),
	)
	created, err = f.agg.CatchUp(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, created)

	second, err = f.store.GetSnapshot(ctx, secondBoundary)
	require.NoError(t, err)
	require.EqualValues(t, 2000, second.BlockNumber)
	require.Equal(t, "170", second.TotalDeposited.String())
}

func TestMonotoneDecreaseIsLogged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Config{})
	f.seed(t)

	earlier := model.HourlySnapshot{SnapshotTimestamp: firstBoundary, BlockNumber: 10, ProtocolTotals: model.NewProtocolTotals()}
	earlier.TotalMinted = big.NewInt(1000)
	_, err := f.store.InsertSnapshot(ctx, earlier)
	require.NoError(t, err)

	_, created, err := f.agg.TakeSnapshot(ctx, secondBoundary)
	require.NoError(t, err)
	require.True(t, created)

	decreased := f.logs.FilterMessage("monotone counter decreased").All()
	require.Len(t, decreased, 1)
	require.Equal(t, "total_minted", decreased[0].ContextMap()["counter"])
}

func TestSupplyReconciliation(t *testing.T) {
	ctx := context.Background()
	var calledAt uint64
	f := newFixture(t, Config{Supply: func(_ context.Context, block uint64) (*big.Int, error) {
		calledAt = block
		return big.NewInt(90), nil
	}})
	f.seed(t)

	_, created, err := f.agg.TakeSnapshot(ctx, firstBoundary)
	require.NoError(t, err)
	require.True(t, created)
	require.EqualValues(t, 10, calledAt)

	mismatches := f.logs.FilterMessage("projected supply differs from totalSupply").All()
	require.Len(t, mismatches, 1)
	require.Equal(t, "100", mismatches[0].ContextMap()["projected"])
	require.Equal(t, "90", mismatches[0].ContextMap()["on_chain"])
}

func TestHourHelpers(t *testing.T) {
	require.EqualValues(t, firstBoundary, ceilHour(blockTime(10)))
	require.EqualValues(t, firstBoundary, ceilHour(firstBoundary))
	require.EqualValues(t, firstBoundary, FloorHour(firstBoundary+59))
}
