package projection

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stakeScope/internal/model"
	"stakeScope/internal/storage"
)

const replayPageSize = 500

// RollbackResult summarizes a committed rollback.
type RollbackResult struct {
	ForkBlock        uint64 `json:"fork_block"`
	DeletedEvents    int64  `json:"deleted_events"`
	DeletedSnapshots int64  `json:"deleted_snapshots"`
	ReplayedEvents   int64  `json:"replayed_events"`
	Epoch            uint64 `json:"epoch"`
}

// Rollback removes every raw event and snapshot at or after forkBlock and
// rebuilds the normalized tables by replaying the surviving raw log from the
// empty state, all in one transaction. Cursors move back to forkBlock-1.
// Ingest is blocked while it runs and workers holding an older epoch must
// refetch.
func (e *Engine) Rollback(ctx context.Context, forkBlock uint64) (RollbackResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var result RollbackResult
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		result = RollbackResult{ForkBlock: forkBlock}

		deleted, err := tx.DeleteRawEventsFrom(ctx, forkBlock)
		if err != nil {
			return fmt.Errorf("delete raw events: %w", err)
		}
		result.DeletedEvents = deleted

		snapshots, err := tx.DeleteSnapshotsFrom(ctx, forkBlock)
		if err != nil {
			return fmt.Errorf("delete snapshots: %w", err)
		}
		result.DeletedSnapshots = snapshots

		if err := tx.ResetProjection(ctx); err != nil {
			return fmt.Errorf("reset projection: %w", err)
		}

		replayed, err := e.replay(ctx, tx)
		if err != nil {
			return fmt.Errorf("replay: %w", err)
		}
		result.ReplayedEvents = replayed

		return tx.RewindCursors(ctx, forkBlock)
	})
	if err != nil {
		return RollbackResult{}, fmt.Errorf("rollback to block %d: %w", forkBlock, err)
	}

	result.Epoch = e.epoch.Add(1)
	e.metrics.IncRollback()
	e.logger.Warn("rolled back projection",
		zap.Uint64("fork_block", forkBlock),
		zap.Int64("deleted_events", result.DeletedEvents),
		zap.Int64("deleted_snapshots", result.DeletedSnapshots),
		zap.Int64("replayed_events", result.ReplayedEvents),
		zap.Uint64("epoch", result.Epoch),
	)
	return result, nil
}

// Rebuild replays the whole raw log without deleting anything.
func (e *Engine) Rebuild(ctx context.Context) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var replayed int64
	err := e.store.InTx(ctx, func(tx storage.Tx) error {
		if err := tx.ResetProjection(ctx); err != nil {
			return fmt.Errorf("reset projection: %w", err)
		}
		var err error
		replayed, err = e.replay(ctx, tx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("rebuild: %w", err)
	}
	e.epoch.Add(1)
	return replayed, nil
}

// replay re-applies stored raw events in global coordinate order.
func (e *Engine) replay(ctx context.Context, tx storage.Tx) (int64, error) {
	var (
		after    *model.Coord
		replayed int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		page, err := tx.RawEventsAfter(ctx, after, replayPageSize)
		if err != nil {
			return replayed, err
		}
		for _, raw := range page {
			if _, err := e.apply(ctx, tx, raw); err != nil {
				return replayed, fmt.Errorf("block %d log %d: %w", raw.BlockNumber, raw.LogIndex, err)
			}
			replayed++
		}
		if len(page) < replayPageSize {
			return replayed, nil
		}
		last := page[len(page)-1].Coord()
		after = &last
	}
}
