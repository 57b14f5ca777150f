package snapshot

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"stakeScope/internal/metrics"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/storage"
)

// HourSeconds is the snapshot cadence.
const HourSeconds = 3600

// ErrUnalignedBoundary is returned for boundaries that are not a whole hour.
var ErrUnalignedBoundary = errors.New("snapshot boundary is not hour aligned")

// SupplyFunc reads the on-chain token supply at a block.
type SupplyFunc func(ctx context.Context, blockNumber uint64) (*big.Int, error)

// Config controls aggregation behavior.
type Config struct {
	// Interval between catch-up ticks in Run.
	Interval time.Duration
	// Contracts whose cursors bound the watermark.
	Contracts []model.Contract
	// RecomputeFrom forces catch-up to start at this boundary.
	RecomputeFrom uint64
	StateStore    StateStore
	// Supply enables reconciliation of summed balances against totalSupply.
	Supply SupplyFunc
	// Params drive the replay that rebuilds state as of each boundary.
	Params projection.Params
}

// Aggregator materializes hourly snapshots from the committed raw log. Each
// snapshot carries the totals as of the last block at or before its boundary.
type Aggregator struct {
	cfg     Config
	store   storage.Store
	logger  *zap.Logger
	metrics *metrics.Metrics

	running sync.Mutex

	replicaMu sync.Mutex
	replica   *projection.Replica
}

func NewAggregator(cfg Config, store storage.Store, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Contracts) == 0 {
		cfg.Contracts = model.Contracts
	}
	return &Aggregator{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: m,
		replica: projection.NewReplica(store, cfg.Params),
	}
}

// TakeSnapshot writes the snapshot for boundary. Its block is the highest
// raw event block at or before the boundary and its totals are replayed up to
// that block. An existing snapshot for the boundary is returned unchanged
// with created=false.
func (a *Aggregator) TakeSnapshot(ctx context.Context, boundary uint64) (model.HourlySnapshot, bool, error) {
	if boundary == 0 || boundary%HourSeconds != 0 {
		return model.HourlySnapshot{}, false, fmt.Errorf("%w: %d", ErrUnalignedBoundary, boundary)
	}

	existing, err := a.store.GetSnapshot(ctx, boundary)
	if err == nil {
		return *existing, false, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return model.HourlySnapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}

	block, err := a.store.BlockAtOrBefore(ctx, boundary)
	if err != nil {
		return model.HourlySnapshot{}, false, fmt.Errorf("block at %d: %w", boundary, err)
	}
	totals, err := a.totalsAt(ctx, block)
	if err != nil {
		return model.HourlySnapshot{}, false, fmt.Errorf("totals at block %d: %w", block, err)
	}
	snap := model.HourlySnapshot{
		SnapshotTimestamp: boundary,
		BlockNumber:       block,
		ProtocolTotals:    totals,
	}

	if err := a.checkMonotone(ctx, snap); err != nil {
		return model.HourlySnapshot{}, false, err
	}

	created, err := a.store.InsertSnapshot(ctx, snap)
	if err != nil {
		return model.HourlySnapshot{}, false, fmt.Errorf("insert snapshot: %w", err)
	}
	if !created {
		stored, err := a.store.GetSnapshot(ctx, boundary)
		if err != nil {
			return model.HourlySnapshot{}, false, fmt.Errorf("load snapshot: %w", err)
		}
		return *stored, false, nil
	}

	a.metrics.SnapshotWritten(boundary)
	a.logger.Info("snapshot written",
		zap.Uint64("snapshot_timestamp", boundary),
		zap.Uint64("block_number", block),
		zap.Int64("total_nodes", totals.TotalNodes),
		zap.Int64("total_users", totals.TotalUsers),
		zap.String("total_supply", totals.TotalSupply.String()),
	)
	a.reconcileSupply(ctx, snap)
	return snap, true, nil
}

func (a *Aggregator) totalsAt(ctx context.Context, block uint64) (model.ProtocolTotals, error) {
	a.replicaMu.Lock()
	defer a.replicaMu.Unlock()
	return a.replica.TotalsAt(ctx, block)
}

// CatchUp writes every missing boundary up to the ingestion watermark and
// returns how many were created. A call that overlaps a running one is skipped.
func (a *Aggregator) CatchUp(ctx context.Context) (int, error) {
	if !a.running.TryLock() {
		a.metrics.IncSkippedSnapshot()
		a.logger.Debug("snapshot run still in progress, tick skipped")
		return 0, nil
	}
	defer a.running.Unlock()

	watermark, ok, err := a.store.Watermark(ctx, a.cfg.Contracts)
	if err != nil {
		return 0, fmt.Errorf("watermark: %w", err)
	}
	if !ok {
		return 0, nil
	}
	next, ok, err := a.nextBoundary(ctx)
	if err != nil || !ok {
		return 0, err
	}

	created := 0
	for boundary := next; boundary <= watermark; boundary += HourSeconds {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		_, wrote, err := a.TakeSnapshot(ctx, boundary)
		if err != nil {
			return created, err
		}
		if wrote {
			created++
		}
		if a.cfg.StateStore != nil {
			if err := a.cfg.StateStore.Save(ctx, boundary); err != nil {
				return created, fmt.Errorf("save snapshot state: %w", err)
			}
		}
	}
	a.cfg.RecomputeFrom = 0
	return created, nil
}

// Run calls CatchUp on every tick until ctx is done. Failed runs are logged
// and retried on the next tick.
func (a *Aggregator) Run(ctx context.Context) error {
	interval := a.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := a.CatchUp(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.logger.Warn("snapshot run failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// nextBoundary resumes after the contiguous progress marker, or after the
// latest snapshot when a rollback deleted snapshots past it. Without either it
// starts at the first boundary at or after the earliest raw event.
func (a *Aggregator) nextBoundary(ctx context.Context) (uint64, bool, error) {
	if a.cfg.RecomputeFrom > 0 {
		return ceilHour(a.cfg.RecomputeFrom), true, nil
	}

	latest, err := a.store.LatestSnapshot(ctx)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		first, ok, err := a.store.FirstEventTimestamp(ctx)
		if err != nil || !ok {
			return 0, false, err
		}
		return ceilHour(first), true, nil
	case err != nil:
		return 0, false, fmt.Errorf("latest snapshot: %w", err)
	}

	last := latest.SnapshotTimestamp
	if a.cfg.StateStore != nil {
		progress, ok, err := a.cfg.StateStore.Load(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("load snapshot state: %w", err)
		}
		if ok && progress < last {
			last = progress
		}
	}
	return last + HourSeconds, true, nil
}

// checkMonotone logs counters that went down since the latest earlier snapshot.
func (a *Aggregator) checkMonotone(ctx context.Context, snap model.HourlySnapshot) error {
	var from uint64
	if snap.SnapshotTimestamp > 48*HourSeconds {
		from = snap.SnapshotTimestamp - 48*HourSeconds
	}
	earlier, err := a.store.ListSnapshots(ctx, from, snap.SnapshotTimestamp-1)
	if err != nil {
		return fmt.Errorf("previous snapshot: %w", err)
	}
	if len(earlier) == 0 {
		return nil
	}
	prev := earlier[len(earlier)-1]

	previous := prev.MonotoneCounters()
	current := snap.MonotoneCounters()
	names := make([]string, 0, len(current))
	for name := range current {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if current[name].Cmp(previous[name]) < 0 {
			a.logger.Warn("monotone counter decreased",
				zap.String("counter", name),
				zap.Uint64("previous_snapshot", prev.SnapshotTimestamp),
				zap.Uint64("snapshot_timestamp", snap.SnapshotTimestamp),
				zap.String("previous", previous[name].String()),
				zap.String("current", current[name].String()),
			)
		}
	}
	return nil
}

// reconcileSupply compares summed balances with totalSupply at the
// snapshot block.
func (a *Aggregator) reconcileSupply(ctx context.Context, snap model.HourlySnapshot) {
	if a.cfg.Supply == nil || snap.BlockNumber == 0 {
		return
	}
	onChain, err := a.cfg.Supply(ctx, snap.BlockNumber)
	if err != nil {
		a.logger.Warn("supply reconciliation failed", zap.Uint64("block_number", snap.BlockNumber), zap.Error(err))
		return
	}
	if onChain.Cmp(snap.TotalSupply) != 0 {
		a.metrics.IncSupplyMismatch()
		a.logger.Warn("projected supply differs from totalSupply",
			zap.Uint64("snapshot_timestamp", snap.SnapshotTimestamp),
			zap.Uint64("block_number", snap.BlockNumber),
			zap.String("projected", snap.TotalSupply.String()),
			zap.String("on_chain", onChain.String()),
		)
	}
}

func ceilHour(ts uint64) uint64 {
	if ts%HourSeconds == 0 {
		return ts
	}
	return ts - ts%HourSeconds + HourSeconds
}

// FloorHour returns the boundary at or before ts.
func FloorHour(ts uint64) uint64 {
	return ts - ts%HourSeconds
}
