package projection

import (
	"errors"
	"fmt"

	"stakeScope/internal/model"
)

var (
	// ErrReorgDetected is wrapped by ReorgError.
	ErrReorgDetected = errors.New("reorg detected")
	// ErrStaleEpoch is returned to a worker whose batch started before a rollback.
	ErrStaleEpoch = errors.New("projection epoch changed")
)

// ReorgError reports a different log at an already recorded coordinate.
// Everything at or after ForkBlock must be rolled back before ingest resumes.
type ReorgError struct {
	Contract   model.Contract
	ForkBlock  uint64
	LogIndex   uint64
	StoredTx   string
	IncomingTx string
}

func (e *ReorgError) Error() string {
	return fmt.Sprintf("reorg on %s at block %d log %d: stored tx %s, incoming tx %s",
		e.Contract, e.ForkBlock, e.LogIndex, e.StoredTx, e.IncomingTx)
}

func (e *ReorgError) Unwrap() error { return ErrReorgDetected }
