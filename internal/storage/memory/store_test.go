package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"stakeScope/internal/model"
	"stakeScope/internal/storage"
)

const userB = "0x00000000000000000000000000000000000000bb"

func rawEvent(contract model.Contract, block, txIndex, logIndex uint64) model.RawEvent {
	return model.RawEvent{
		Contract:       contract,
		EventName:      "Minted",
		Args:           []string{userB, "1"},
		BlockNumber:    block,
		BlockHash:      fmt.Sprintf("0xb%063x", block),
		TxHash:         fmt.Sprintf("0x%032x%032x", block, logIndex),
		TxIndex:        txIndex,
		LogIndex:       logIndex,
		BlockTimestamp: 1_700_000_000 + block*2,
	}
}

func insert(t *testing.T, store *Store, events ...model.RawEvent) {
	t.Helper()
	err := store.InTx(context.Background(), func(tx storage.Tx) error {
		for _, ev := range events {
			ev := ev
			inserted, err := tx.InsertRawEvent(context.Background(), &ev)
			if err != nil {
				return err
			}
			if !inserted {
				return fmt.Errorf("block %d log %d already stored", ev.BlockNumber, ev.LogIndex)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func readAll(t *testing.T, store *Store, after *model.Coord, limit int) []model.RawEvent {
	t.Helper()
	var out []model.RawEvent
	err := store.InTx(context.Background(), func(tx storage.Tx) error {
		var err error
		out, err = tx.RawEventsAfter(context.Background(), after, limit)
		return err
	})
	require.NoError(t, err)
	return out
}

func coords(events []model.RawEvent) []model.Coord {
	out := make([]model.Coord, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Coord())
	}
	return out
}

func TestRawEventsAfterFollowsCoordinateOrder(t *testing.T) {
	store := NewStore()
	insert(t, store,
		rawEvent(model.ContractToken, 20, 1, 3),
		rawEvent(model.ContractNodeManager, 10, 0, 0),
		rawEvent(model.ContractToken, 20, 0, 1),
		rawEvent(model.ContractNodeManager, 20, 1, 2),
		rawEvent(model.ContractToken, 15, 4, 9),
	)

	all := readAll(t, store, nil, 0)
	require.Equal(t, []model.Coord{
		{BlockNumber: 10, TxIndex: 0, LogIndex: 0},
		{BlockNumber: 15, TxIndex: 4, LogIndex: 9},
		{BlockNumber: 20, TxIndex: 0, LogIndex: 1},
		{BlockNumber: 20, TxIndex: 1, LogIndex: 2},
		{BlockNumber: 20, TxIndex: 1, LogIndex: 3},
	}, coords(all))
	require.Equal(t, model.ContractNodeManager, all[3].Contract)

	after := all[1].Coord()
	page := readAll(t, store, &after, 2)
	require.Equal(t, coords(all[2:4]), coords(page))

	first, ok, err := store.FirstEventTimestamp(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 1_700_000_020, first)

	block, err := store.BlockAtOrBefore(context.Background(), 1_700_000_035)
	require.NoError(t, err)
	require.EqualValues(t, 15, block)
}

func TestFailedTxLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	insert(t, store, rawEvent(model.ContractToken, 10, 0, 0), rawEvent(model.ContractToken, 20, 0, 0))

	user := model.NewUser(userB)
	user.Balance = big.NewInt(7)
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.SaveUser(ctx, user); err != nil {
			return err
		}
		if err := tx.SaveRedemption(ctx, &model.RedemptionEntry{Address: userB, QueueIndex: 1, Status: model.RedemptionStatusPending}); err != nil {
			return err
		}
		return tx.AdvanceCursor(ctx, model.Cursor{Contract: model.ContractToken, BlockNumber: 20, BlockHash: "0x20"})
	}))
	_, err := store.InsertSnapshot(ctx, model.HourlySnapshot{SnapshotTimestamp: 3600, BlockNumber: 20, ProtocolTotals: model.NewProtocolTotals()})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = store.InTx(ctx, func(tx storage.Tx) error {
		if _, err := tx.DeleteRawEventsFrom(ctx, 15); err != nil {
			return err
		}
		if _, err := tx.DeleteSnapshotsFrom(ctx, 15); err != nil {
			return err
		}
		if err := tx.ResetProjection(ctx); err != nil {
			return err
		}
		if err := tx.RewindCursors(ctx, 15); err != nil {
			return err
		}
		ev := rawEvent(model.ContractToken, 30, 0, 0)
		if _, err := tx.InsertRawEvent(ctx, &ev); err != nil {
			return err
		}
		other := model.NewUser("0x00000000000000000000000000000000000000cc")
		if err := tx.SaveUser(ctx, other); err != nil {
			return err
		}
		if err := tx.RecordViolation(ctx, model.Violation{Rule: "test"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	require.Equal(t, []model.Coord{{BlockNumber: 10}, {BlockNumber: 20}}, coords(readAll(t, store, nil, 0)))

	got, err := store.GetUser(ctx, userB)
	require.NoError(t, err)
	require.Equal(t, "7", got.Balance.String())
	_, err = store.GetUser(ctx, "0x00000000000000000000000000000000000000cc")
	require.ErrorIs(t, err, storage.ErrNotFound)

	pending, err := store.ListRedemptions(ctx, "", model.RedemptionStatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	cursor, ok, err := store.Cursor(ctx, model.ContractToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 20, cursor.BlockNumber)

	_, err = store.GetSnapshot(ctx, 3600)
	require.NoError(t, err)

	violations, err := store.ListViolations(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, violations)

	// the raw id sequence is restored as well
	next := rawEvent(model.ContractToken, 30, 0, 0)
	require.NoError(t, store.InTx(ctx, func(tx storage.Tx) error {
		_, err := tx.InsertRawEvent(ctx, &next)
		return err
	}))
	require.EqualValues(t, 3, next.ID)
}

func TestManySmallTransactions(t *testing.T) {
	if testing.Short() {
		t.Skip("long ingest")
	}
	store := NewStore()
	const events = 50_000
	for block := uint64(1); block <= events; block++ {
		insert(t, store, rawEvent(model.ContractToken, block, 0, 0))
	}
	last := model.Coord{BlockNumber: events - 1}
	tail := readAll(t, store, &last, 10)
	require.Len(t, tail, 1)
	require.EqualValues(t, events, tail[0].BlockNumber)
}
