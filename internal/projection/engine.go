package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"stakeScope/internal/metrics"
	"stakeScope/internal/model"
	"stakeScope/internal/retry"
	"stakeScope/internal/storage"
)

// Outcome is the result of ingesting one raw event.
type Outcome int

const (
	Applied Outcome = iota
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "applied"
}

// Params are the protocol parameters the state machines depend on.
type Params struct {
	// UnlockDelayBlocks is added to the request block to get a redemption's unlock block.
	UnlockDelayBlocks uint64
}

// Engine applies raw events to the projection. Each event is stored and
// dispatched in one store transaction; rollbacks exclude concurrent ingest.
type Engine struct {
	store   storage.Store
	params  Params
	policy  retry.Policy
	logger  *zap.Logger
	metrics *metrics.Metrics

	mu    sync.RWMutex
	epoch atomic.Uint64
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRetry sets the backoff used when a transaction fails.
func WithRetry(policy retry.Policy) Option {
	return func(e *Engine) { e.policy = policy }
}

func NewEngine(store storage.Store, params Params, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		params: params,
		policy: retry.Policy{MaxRetries: 3, BaseDelay: 200 * time.Millisecond},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Epoch changes every time a rollback commits.
func (e *Engine) Epoch() uint64 {
	return e.epoch.Load()
}

// Ingest stores and applies one raw event.
func (e *Engine) Ingest(ctx context.Context, raw model.RawEvent) (Outcome, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ingest(ctx, raw)
}

// IngestSince is Ingest for a worker that read its batch during epoch. It
// fails with ErrStaleEpoch once a rollback has happened since then.
func (e *Engine) IngestSince(ctx context.Context, epoch uint64, raw model.RawEvent) (Outcome, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.epoch.Load() != epoch {
		return Duplicate, ErrStaleEpoch
	}
	return e.ingest(ctx, raw)
}

func (e *Engine) ingest(ctx context.Context, raw model.RawEvent) (Outcome, error) {
	if _, err := model.ParseContract(string(raw.Contract)); err != nil {
		return Duplicate, err
	}

	var (
		outcome Outcome
		label   string
	)
	err := retry.Do(ctx, e.retryPolicy(), func(ctx context.Context) error {
		return e.store.InTx(ctx, func(tx storage.Tx) error {
			var err error
			outcome, label, err = e.ingestTx(ctx, tx, raw)
			return err
		})
	})
	if err != nil {
		var reorg *ReorgError
		if errors.As(err, &reorg) {
			return Duplicate, err
		}
		return Duplicate, fmt.Errorf("ingest %s %s block %d log %d: %w",
			raw.Contract, raw.EventName, raw.BlockNumber, raw.LogIndex, err)
	}

	contract := string(raw.Contract)
	if outcome == Duplicate {
		e.logger.Debug("duplicate event",
			zap.String("contract", contract),
			zap.String("event", raw.EventName),
			zap.Uint64("block_number", raw.BlockNumber),
			zap.String("tx_hash", raw.TxHash),
			zap.Uint64("log_index", raw.LogIndex),
		)
		e.metrics.IncEvent(contract, metrics.OutcomeDuplicate)
		return outcome, nil
	}
	e.metrics.IncEvent(contract, label)
	e.metrics.SetProcessedBlock(contract, raw.BlockNumber)
	return outcome, nil
}

func (e *Engine) ingestTx(ctx context.Context, tx storage.Tx, raw model.RawEvent) (Outcome, string, error) {
	existing, err := tx.FindRawEvent(ctx, raw.Contract, raw.BlockNumber, raw.LogIndex)
	if err != nil {
		return Duplicate, "", fmt.Errorf("find raw event: %w", err)
	}
	if existing != nil {
		if existing.SameLog(raw) {
			return Duplicate, "", nil
		}
		return Duplicate, "", &ReorgError{
			Contract:   raw.Contract,
			ForkBlock:  raw.BlockNumber,
			LogIndex:   raw.LogIndex,
			StoredTx:   existing.TxHash,
			IncomingTx: raw.TxHash,
		}
	}

	inserted, err := tx.InsertRawEvent(ctx, &raw)
	if err != nil {
		return Duplicate, "", fmt.Errorf("insert raw event: %w", err)
	}
	if !inserted {
		return Duplicate, "", nil
	}

	label, err := e.apply(ctx, tx, raw)
	if err != nil {
		return Duplicate, "", err
	}

	if err := tx.AdvanceCursor(ctx, model.Cursor{
		Contract:       raw.Contract,
		BlockNumber:    raw.BlockNumber,
		BlockHash:      raw.BlockHash,
		BlockTimestamp: raw.BlockTimestamp,
	}); err != nil {
		return Duplicate, "", err
	}
	return Applied, label, nil
}

// retryPolicy never retries a detected reorg, whatever the configured predicate says.
func (e *Engine) retryPolicy() retry.Policy {
	policy := e.policy
	base := policy.Retryable
	policy.Retryable = func(err error) bool {
		if errors.Is(err, ErrReorgDetected) {
			return false
		}
		if base != nil {
			return base(err)
		}
		return true
	}
	return policy
}

// CommitCursor records that a worker reading during epoch has ingested every
// log of its contract up to cursor.BlockNumber.
func (e *Engine) CommitCursor(ctx context.Context, epoch uint64, cursor model.Cursor) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.epoch.Load() != epoch {
		return ErrStaleEpoch
	}
	err := retry.Do(ctx, e.retryPolicy(), func(ctx context.Context) error {
		return e.store.SaveCursor(ctx, cursor)
	})
	if err != nil {
		return fmt.Errorf("save %s cursor: %w", cursor.Contract, err)
	}
	e.metrics.SetProcessedBlock(string(cursor.Contract), cursor.BlockNumber)
	return nil
}
