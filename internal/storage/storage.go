package storage

import (
	"context"
	"errors"

	"stakeScope/internal/model"
)

// ErrNotFound is returned by read accessors when no row matches.
var ErrNotFound = errors.New("not found")

// LogArchive defines a sink for archived raw log records.
type LogArchive interface {
	PutLogBatch(logs []model.LogRecord) error
}

// Store is the relational store behind the projection.
type Store interface {
	Reader

	// InTx runs fn in one transaction; fn's error rolls everything back.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	Cursor(ctx context.Context, contract model.Contract) (model.Cursor, bool, error)
	// SaveCursor advances a contract cursor; it never moves it backwards.
	SaveCursor(ctx context.Context, cursor model.Cursor) error
	// RecordedBlocks lists distinct blocks with raw events below a block, newest first.
	RecordedBlocks(ctx context.Context, contract model.Contract, below uint64, limit int) ([]model.BlockRef, error)

	// Watermark is the lowest committed block timestamp across contracts.
	Watermark(ctx context.Context, contracts []model.Contract) (uint64, bool, error)
	Totals(ctx context.Context) (model.ProtocolTotals, error)
	// BlockAtOrBefore is the highest raw event block with timestamp <= ts.
	BlockAtOrBefore(ctx context.Context, ts uint64) (uint64, error)
	// FirstEventTimestamp is the earliest raw event timestamp.
	FirstEventTimestamp(ctx context.Context) (uint64, bool, error)
	// InsertSnapshot stores a snapshot unless one exists for its timestamp.
	InsertSnapshot(ctx context.Context, snap model.HourlySnapshot) (bool, error)

	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, value uint64) error

	Close()
}

// Reader is the read-only query surface consumed by presentation layers.
type Reader interface {
	GetEdgeNode(ctx context.Context, address string) (*model.EdgeNode, error)
	GetUser(ctx context.Context, address string) (*model.User, error)
	// ListRedemptions filters by owner and status; empty values match all.
	ListRedemptions(ctx context.Context, address string, status model.RedemptionStatus) ([]model.RedemptionEntry, error)
	GetSnapshot(ctx context.Context, ts uint64) (*model.HourlySnapshot, error)
	LatestSnapshot(ctx context.Context) (*model.HourlySnapshot, error)
	// ListSnapshots returns snapshots with from <= timestamp <= to.
	ListSnapshots(ctx context.Context, from, to uint64) ([]model.HourlySnapshot, error)
	ListViolations(ctx context.Context, limit int) ([]model.Violation, error)
}

// Tx is the transactional surface used by ingestion, dispatch and replay.
// Entity getters return nil without error when the row does not exist and
// lock the row for the rest of the transaction when it does.
type Tx interface {
	FindRawEvent(ctx context.Context, contract model.Contract, blockNumber, logIndex uint64) (*model.RawEvent, error)
	// InsertRawEvent returns false when the coordinates already exist.
	InsertRawEvent(ctx context.Context, ev *model.RawEvent) (bool, error)
	EnsureAddress(ctx context.Context, address string) error

	EdgeNode(ctx context.Context, address string) (*model.EdgeNode, error)
	SaveEdgeNode(ctx context.Context, node *model.EdgeNode) error
	User(ctx context.Context, address string) (*model.User, error)
	SaveUser(ctx context.Context, user *model.User) error

	Redemption(ctx context.Context, queueIndex uint64) (*model.RedemptionEntry, error)
	MaxQueueIndex(ctx context.Context) (uint64, bool, error)
	OldestClaimable(ctx context.Context) (*model.RedemptionEntry, error)
	// MaturedRedemptions lists Pending entries with unlock block <= blockNumber.
	MaturedRedemptions(ctx context.Context, blockNumber uint64) ([]*model.RedemptionEntry, error)
	SaveRedemption(ctx context.Context, entry *model.RedemptionEntry) error

	RecordViolation(ctx context.Context, v model.Violation) error
	AdvanceCursor(ctx context.Context, cursor model.Cursor) error

	DeleteRawEventsFrom(ctx context.Context, blockNumber uint64) (int64, error)
	DeleteSnapshotsFrom(ctx context.Context, blockNumber uint64) (int64, error)
	// ResetProjection clears every derived table; addresses are kept.
	ResetProjection(ctx context.Context) error
	// RawEventsAfter returns raw events of both contracts ordered by
	// coordinate, strictly after `after` when it is non-nil.
	RawEventsAfter(ctx context.Context, after *model.Coord, limit int) ([]model.RawEvent, error)
	// RewindCursors moves cursors at or past blockNumber to blockNumber-1.
	RewindCursors(ctx context.Context, blockNumber uint64) error
}
