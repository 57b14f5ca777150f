package indexer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"go.uber.org/zap"

	"stakeScope/internal/contracts"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
)

const checkpointEvery = 1000

// ImportStats summarizes one archive import.
type ImportStats struct {
	Lines      uint64 `json:"lines"`
	Skipped    uint64 `json:"skipped"`
	Applied    uint64 `json:"applied"`
	Duplicates uint64 `json:"duplicates"`
	Failed     uint64 `json:"failed"`
	Rollbacks  uint64 `json:"rollbacks"`
}

// Importer replays archived LogRecord lines through the projection.
type Importer struct {
	engine     *projection.Engine
	decoder    *contracts.Decoder
	checkpoint *CheckpointStore
	logger     *zap.Logger
	// OnDecodeError receives lines that could not be parsed or decoded.
	OnDecodeError func(model.DecodeError)
}

func NewImporter(engine *projection.Engine, decoder *contracts.Decoder, checkpoint *CheckpointStore, logger *zap.Logger) *Importer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if checkpoint == nil {
		checkpoint = NewCheckpointStore("", false)
	}
	return &Importer{engine: engine, decoder: decoder, checkpoint: checkpoint, logger: logger}
}

// Import ingests every line of r in file order. Lines already covered by a
// checkpoint for the same file are skipped. A log conflicting with a stored
// one rolls the projection back to its block before it is ingested.
func (im *Importer) Import(ctx context.Context, source string, r io.Reader) (ImportStats, error) {
	var stats ImportStats

	source, err := filepath.Abs(source)
	if err != nil {
		return stats, fmt.Errorf("resolve source: %w", err)
	}
	saved, hasSaved, err := im.checkpoint.Load()
	if err != nil {
		return stats, err
	}

	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)

	cp := Checkpoint{Source: source}
	var resumeAfter uint64
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.Lines++
		if stats.Lines == 1 {
			cp.Fingerprint = lineFingerprint(scanner.Bytes())
			if hasSaved && saved.Resumes(source, cp.Fingerprint) {
				resumeAfter = saved.LastLine
				cp.LastBlock = saved.LastBlock
				im.logger.Info("resume from checkpoint",
					zap.String("source", source),
					zap.Uint64("last_line", saved.LastLine),
					zap.Uint64("last_block", saved.LastBlock),
				)
			}
		}
		if stats.Lines <= resumeAfter {
			stats.Skipped++
			continue
		}
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		block, err := im.importLine(ctx, line, &stats)
		if err != nil {
			return stats, fmt.Errorf("line %d: %w", stats.Lines, err)
		}
		if block > cp.LastBlock {
			cp.LastBlock = block
		}
		if stats.Lines%checkpointEvery == 0 {
			cp.LastLine = stats.Lines
			if err := im.checkpoint.Save(cp); err != nil {
				return stats, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("scan input: %w", err)
	}
	if stats.Lines == 0 {
		return stats, nil
	}
	cp.LastLine = stats.Lines
	if err := im.checkpoint.Save(cp); err != nil {
		return stats, err
	}
	return stats, nil
}

// importLine returns the block of the ingested log, or 0 for a line that
// failed to decode.
func (im *Importer) importLine(ctx context.Context, line []byte, stats *ImportStats) (uint64, error) {
	var record model.LogRecord
	if err := json.Unmarshal(line, &record); err != nil {
		stats.Failed++
		im.decodeError(model.DecodeError{Error: err.Error()})
		return 0, nil
	}
	contract, _ := im.decoder.Contract(record.Address)
	raw, err := im.decoder.Decode(record)
	if err != nil {
		stats.Failed++
		im.decodeError(decodeErrorFromRecord(contract, record, err))
		return 0, nil
	}

	outcome, err := im.engine.Ingest(ctx, raw)
	var reorg *projection.ReorgError
	if errors.As(err, &reorg) {
		im.logger.Warn("archived log replaces a stored one", zap.Error(err))
		if _, err := im.engine.Rollback(ctx, reorg.ForkBlock); err != nil {
			return 0, err
		}
		stats.Rollbacks++
		outcome, err = im.engine.Ingest(ctx, raw)
	}
	if err != nil {
		return 0, err
	}
	if outcome == projection.Duplicate {
		stats.Duplicates++
	} else {
		stats.Applied++
	}
	return raw.BlockNumber, nil
}

func (im *Importer) decodeError(derr model.DecodeError) {
	im.logger.Debug("import decode failed", zap.String("tx_hash", derr.TxHash), zap.String("error", derr.Error))
	if im.OnDecodeError != nil {
		im.OnDecodeError(derr)
	}
}
