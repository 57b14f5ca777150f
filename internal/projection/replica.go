package projection

import (
	"context"
	"fmt"

	"stakeScope/internal/model"
	"stakeScope/internal/storage"
	"stakeScope/internal/storage/memory"
)

// Replica rebuilds the projection as it stood after a given block by replaying
// the committed raw log of source into a private in-memory store. It moves
// forward incrementally between calls and starts over when asked for an
// earlier block or when the last event it applied has left the log.
//
// Calls must only ask for blocks whose raw events are all committed; events
// inserted later at or below an already replayed block are not picked up.
type Replica struct {
	source storage.Store
	params Params

	scratch *memory.Store
	engine  *Engine
	last    *model.RawEvent
}

func NewReplica(source storage.Store, params Params) *Replica {
	r := &Replica{source: source, params: params}
	r.reset()
	return r
}

func (r *Replica) reset() {
	r.scratch = memory.NewStore()
	r.engine = NewEngine(r.scratch, r.params)
	r.last = nil
}

// TotalsAt returns the protocol totals after every raw event at or below
// blockNumber has been applied, and nothing later.
func (r *Replica) TotalsAt(ctx context.Context, blockNumber uint64) (model.ProtocolTotals, error) {
	if err := r.advance(ctx, blockNumber); err != nil {
		return model.ProtocolTotals{}, err
	}
	return r.scratch.Totals(ctx)
}

func (r *Replica) advance(ctx context.Context, blockNumber uint64) error {
	stale, err := r.stale(ctx, blockNumber)
	if err != nil {
		return err
	}
	if stale {
		r.reset()
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var after *model.Coord
		if r.last != nil {
			coord := r.last.Coord()
			after = &coord
		}
		var page []model.RawEvent
		err := r.source.InTx(ctx, func(tx storage.Tx) error {
			var err error
			page, err = tx.RawEventsAfter(ctx, after, replayPageSize)
			return err
		})
		if err != nil {
			return fmt.Errorf("read raw events: %w", err)
		}

		n := 0
		for n < len(page) && page[n].BlockNumber <= blockNumber {
			n++
		}
		if n > 0 {
			batch := page[:n]
			err := r.scratch.InTx(ctx, func(tx storage.Tx) error {
				for _, raw := range batch {
					if _, err := r.engine.apply(ctx, tx, raw); err != nil {
						return fmt.Errorf("block %d log %d: %w", raw.BlockNumber, raw.LogIndex, err)
					}
				}
				return nil
			})
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			last := batch[n-1]
			r.last = &last
		}
		if n < len(page) || len(page) < replayPageSize {
			return nil
		}
	}
}

// stale reports whether the replica holds events past blockNumber or built
// on an event that a rollback has since removed or replaced.
func (r *Replica) stale(ctx context.Context, blockNumber uint64) (bool, error) {
	if r.last == nil {
		return false, nil
	}
	if r.last.BlockNumber > blockNumber {
		return true, nil
	}
	var current *model.RawEvent
	err := r.source.InTx(ctx, func(tx storage.Tx) error {
		var err error
		current, err = tx.FindRawEvent(ctx, r.last.Contract, r.last.BlockNumber, r.last.LogIndex)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("check replica head: %w", err)
	}
	return current == nil || !current.SameLog(*r.last), nil
}
