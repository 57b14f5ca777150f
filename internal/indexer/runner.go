package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"stakeScope/internal/contracts"
	"stakeScope/internal/metrics"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/retry"
	"stakeScope/internal/storage"
)

// ErrDeepReorg is returned when no recorded block within the reorg window
// matches the chain.
var ErrDeepReorg = errors.New("reorg deeper than the recorded window")

// Source is the chain surface a Runner reads from.
type Source interface {
	GetChainID(ctx context.Context) (*big.Int, error)
	LatestBlockNumber(ctx context.Context) (uint64, error)
	BlockRef(ctx context.Context, number uint64) (model.BlockRef, error)
	BlockTimestamp(ctx context.Context, hash common.Hash) (uint64, error)
	FilterLogs(ctx context.Context, fromBlock, toBlock uint64, addresses []common.Address, topic0 []common.Hash) ([]types.Log, error)
}

// RunConfig holds runtime settings for one contract stream.
type RunConfig struct {
	Contract model.Contract
	// StartBlock is used when the contract has no cursor yet.
	StartBlock uint64
	// ToBlock stops a catch-up run; 0 means the confirmed head.
	ToBlock       uint64
	BatchSize     uint64
	Confirmations uint64
	Follow        bool
	PollInterval  time.Duration
	// ReorgWindow is how many recorded blocks are checked when looking for a fork.
	ReorgWindow int
	Retry       retry.Policy
}

// Runner streams logs of one contract from the chain into the projection.
type Runner struct {
	cfg     RunConfig
	source  Source
	engine  *projection.Engine
	store   storage.Store
	decoder *contracts.Decoder
	archive storage.LogArchive
	metrics *metrics.Metrics
	logger  *zap.Logger
	address common.Address
}

// NewRunner builds a Runner with its dependencies. archive may be nil.
func NewRunner(
	cfg RunConfig,
	source Source,
	engine *projection.Engine,
	store storage.Store,
	decoder *contracts.Decoder,
	archive storage.LogArchive,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		source:  source,
		engine:  engine,
		store:   store,
		decoder: decoder,
		archive: archive,
		metrics: m,
		logger:  logger.With(zap.String("contract", string(cfg.Contract))),
		address: common.HexToAddress(decoder.Address(cfg.Contract)),
	}
}

// Run executes the indexing loop. Without Follow it returns once the stream
// has caught up with ToBlock or the confirmed head.
func (r *Runner) Run(ctx context.Context) error {
	if r.cfg.BatchSize == 0 {
		return fmt.Errorf("batch size must be greater than zero")
	}
	if r.decoder.Address(r.cfg.Contract) == "" {
		return fmt.Errorf("no address configured for %s", r.cfg.Contract)
	}

	chainID, err := r.chainID(ctx)
	if err != nil {
		return err
	}

	for {
		done, err := r.syncOnce(ctx, chainID)
		switch {
		case err == nil:
		case errors.Is(err, projection.ErrStaleEpoch):
			r.logger.Info("projection rolled back, restarting from cursor")
			continue
		case errors.Is(err, projection.ErrReorgDetected):
			var reorg *projection.ReorgError
			errors.As(err, &reorg)
			r.logger.Warn("reorg detected during ingest", zap.Error(err))
			if _, err := r.engine.Rollback(ctx, reorg.ForkBlock); err != nil {
				return err
			}
			continue
		default:
			return err
		}

		if done && !r.cfg.Follow {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.PollInterval):
		}
	}
}

// syncOnce ingests from the resume point to the current target and reports
// whether the target was reached.
func (r *Runner) syncOnce(ctx context.Context, chainID uint64) (bool, error) {
	epoch := r.engine.Epoch()

	from, err := r.resumePoint(ctx)
	if err != nil {
		return false, err
	}
	to, err := r.target(ctx)
	if err != nil {
		return false, err
	}
	if from > to {
		r.logger.Debug("nothing to sync", zap.Uint64("from", from), zap.Uint64("to", to))
		return true, nil
	}

	ranges, err := newRangeCursor(from, to, r.cfg.BatchSize)
	if err != nil {
		return false, err
	}
	for blockRange, ok := ranges.Next(); ok; blockRange, ok = ranges.Next() {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		if err := r.syncRange(ctx, chainID, epoch, blockRange); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *Runner) syncRange(ctx context.Context, chainID, epoch uint64, blockRange BlockRange) error {
	r.logger.Info("fetch logs", zap.Uint64("from", blockRange.From), zap.Uint64("to", blockRange.To))

	logs, err := r.filterLogsWithRetry(ctx, blockRange.From, blockRange.To)
	if err != nil {
		return fmt.Errorf("filter logs: %w", err)
	}
	sortLogs(logs)

	ingestedAt := time.Now().UTC()
	records := make([]model.LogRecord, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		ts, err := r.blockTimestampWithRetry(ctx, log.BlockHash)
		if err != nil {
			return fmt.Errorf("block timestamp %d: %w", log.BlockNumber, err)
		}
		records = append(records, buildLogRecord(chainID, log, ts, ingestedAt))
	}

	if r.archive != nil {
		if err := r.archive.PutLogBatch(records); err != nil {
			return fmt.Errorf("archive logs: %w", err)
		}
	}

	var applied, duplicates int
	for _, record := range records {
		raw, err := r.decoder.Decode(record)
		if err != nil {
			r.metrics.IncEvent(string(r.cfg.Contract), metrics.OutcomeUndecoded)
			r.logger.Warn("decode failed", zap.Any("log", decodeErrorFromRecord(r.cfg.Contract, record, err)))
			continue
		}
		outcome, err := r.engine.IngestSince(ctx, epoch, raw)
		if err != nil {
			return err
		}
		if outcome == projection.Duplicate {
			duplicates++
		} else {
			applied++
		}
	}

	ref, err := r.blockRefWithRetry(ctx, blockRange.To)
	if err != nil {
		return fmt.Errorf("block ref %d: %w", blockRange.To, err)
	}
	if err := r.engine.CommitCursor(ctx, epoch, model.Cursor{
		Contract:       r.cfg.Contract,
		BlockNumber:    ref.Number,
		BlockHash:      ref.Hash,
		BlockTimestamp: ref.Timestamp,
	}); err != nil {
		return err
	}

	r.logger.Info("batch complete",
		zap.Int("logs", len(records)),
		zap.Int("applied", applied),
		zap.Int("duplicates", duplicates),
		zap.Uint64("from", blockRange.From),
		zap.Uint64("to", blockRange.To),
	)
	return nil
}

// resumePoint returns the first block to fetch. The cursor block itself is
// fetched again because a crash may have left it partially ingested; its
// events come back as duplicates. A cursor hash that no longer matches the
// chain triggers fork detection and a rollback.
func (r *Runner) resumePoint(ctx context.Context) (uint64, error) {
	cursor, ok, err := r.store.Cursor(ctx, r.cfg.Contract)
	if err != nil {
		return 0, fmt.Errorf("load cursor: %w", err)
	}
	if !ok {
		return r.cfg.StartBlock, nil
	}
	from := cursor.BlockNumber
	if from < r.cfg.StartBlock {
		from = r.cfg.StartBlock
	}
	if cursor.BlockHash == "" {
		return from, nil
	}

	ref, err := r.blockRefWithRetry(ctx, cursor.BlockNumber)
	if err != nil {
		return 0, fmt.Errorf("block ref %d: %w", cursor.BlockNumber, err)
	}
	if strings.EqualFold(ref.Hash, cursor.BlockHash) {
		return from, nil
	}

	r.logger.Warn("cursor block no longer canonical",
		zap.Uint64("block_number", cursor.BlockNumber),
		zap.String("stored_hash", cursor.BlockHash),
		zap.String("chain_hash", ref.Hash),
	)
	fork, err := r.findFork(ctx, cursor.BlockNumber)
	if err != nil {
		return 0, err
	}
	if _, err := r.engine.Rollback(ctx, fork); err != nil {
		return 0, err
	}
	return 0, projection.ErrStaleEpoch
}

// findFork walks recorded blocks below the mismatching cursor, newest first,
// and returns the block after the newest one still on the canonical chain.
func (r *Runner) findFork(ctx context.Context, mismatch uint64) (uint64, error) {
	window := r.cfg.ReorgWindow
	if window <= 0 {
		window = 64
	}
	refs, err := r.store.RecordedBlocks(ctx, r.cfg.Contract, mismatch, window)
	if err != nil {
		return 0, fmt.Errorf("recorded blocks: %w", err)
	}

	fork := mismatch
	for _, recorded := range refs {
		ref, err := r.blockRefWithRetry(ctx, recorded.Number)
		if err != nil {
			return 0, fmt.Errorf("block ref %d: %w", recorded.Number, err)
		}
		if strings.EqualFold(ref.Hash, recorded.Hash) {
			return recorded.Number + 1, nil
		}
		fork = recorded.Number
	}
	if len(refs) == window {
		return 0, fmt.Errorf("%w: %d blocks below %d", ErrDeepReorg, window, mismatch)
	}
	return fork, nil
}

func (r *Runner) target(ctx context.Context) (uint64, error) {
	var latest uint64
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		latest, err = r.source.LatestBlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get latest block: %w", err)
	}
	r.metrics.SetSourceHead(latest)

	if latest < r.cfg.Confirmations {
		return 0, nil
	}
	head := latest - r.cfg.Confirmations
	if r.cfg.ToBlock > 0 && r.cfg.ToBlock < head {
		return r.cfg.ToBlock, nil
	}
	return head, nil
}

func (r *Runner) chainID(ctx context.Context) (uint64, error) {
	var chainID *big.Int
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		chainID, err = r.source.GetChainID(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get chain id: %w", err)
	}
	if !chainID.IsUint64() {
		return 0, fmt.Errorf("chain id does not fit in uint64: %s", chainID)
	}
	return chainID.Uint64(), nil
}

func (r *Runner) filterLogsWithRetry(ctx context.Context, fromBlock, toBlock uint64) ([]types.Log, error) {
	var logs []types.Log
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		logs, err = r.source.FilterLogs(ctx, fromBlock, toBlock, []common.Address{r.address}, nil)
		if err != nil {
			r.logger.Warn("filter logs failed", zap.Error(err), zap.Uint64("from", fromBlock), zap.Uint64("to", toBlock))
		}
		return err
	})
	return logs, err
}

func (r *Runner) blockTimestampWithRetry(ctx context.Context, hash common.Hash) (uint64, error) {
	var ts uint64
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		ts, err = r.source.BlockTimestamp(ctx, hash)
		if err != nil {
			r.logger.Warn("block timestamp fetch failed", zap.Error(err), zap.String("block_hash", hash.Hex()))
		}
		return err
	})
	return ts, err
}

func (r *Runner) blockRefWithRetry(ctx context.Context, number uint64) (model.BlockRef, error) {
	var ref model.BlockRef
	err := retry.Do(ctx, r.cfg.Retry, func(ctx context.Context) error {
		var err error
		ref, err = r.source.BlockRef(ctx, number)
		return err
	})
	return ref, err
}
