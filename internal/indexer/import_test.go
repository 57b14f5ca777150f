package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"stakeScope/internal/contracts"
	"stakeScope/internal/model"
	"stakeScope/internal/projection"
	"stakeScope/internal/storage/memory"
)

func archiveLines(t *testing.T, logs []types.Log) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, log := range logs {
		require.NoError(t, enc.Encode(buildLogRecord(361, log, 1_700_000_000+log.BlockNumber*2, time.Unix(1_700_000_000, 0))))
	}
	return &buf
}

func newTestImporter(t *testing.T, checkpointPath string) (*Importer, *memory.Store) {
	t.Helper()
	decoder, err := contracts.NewDecoder(contracts.Config{
		NodeManagerAddress: testNodeManager.Hex(),
		TokenAddress:       testToken.Hex(),
	})
	require.NoError(t, err)
	store := memory.NewStore()
	engine := projection.NewEngine(store, projection.Params{UnlockDelayBlocks: 10})
	return NewImporter(engine, decoder, NewCheckpointStore(checkpointPath, true), nil), store
}

func TestImporterAppliesArchive(t *testing.T) {
	ctx := context.Background()
	events := nodeABI(t).Events
	chain := newFakeChain(20)
	nodeTopic := common.BytesToHash(testNode.Bytes())
	chain.emit(t, events["NodeRegistered"], 3, 0, []common.Hash{nodeTopic}, uint8(1))
	chain.emit(t, events["NodeStaked"], 4, 0, []common.Hash{nodeTopic}, big.NewInt(40))

	lines := archiveLines(t, chain.logs)
	lines.WriteString("not json\n")

	importer, store := newTestImporter(t, "")
	var decodeErrors []model.DecodeError
	importer.OnDecodeError = func(derr model.DecodeError) { decodeErrors = append(decodeErrors, derr) }

	stats, err := importer.Import(ctx, "archive.jsonl", lines)
	require.NoError(t, err)
	require.EqualValues(t, 3, stats.Lines)
	require.EqualValues(t, 2, stats.Applied)
	require.EqualValues(t, 1, stats.Failed)
	require.Len(t, decodeErrors, 1)

	node, err := store.GetEdgeNode(ctx, strings.ToLower(testNode.Hex()))
	require.NoError(t, err)
	require.Equal(t, "40", node.TotalStaked.String())
}

func TestImporterResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	events := nodeABI(t).Events
	chain := newFakeChain(20)
	nodeTopic := common.BytesToHash(testNode.Bytes())
	chain.emit(t, events["NodeRegistered"], 3, 0, []common.Hash{nodeTopic}, uint8(1))
	chain.emit(t, events["NodeStaked"], 4, 0, []common.Hash{nodeTopic}, big.NewInt(40))

	checkpointPath := filepath.Join(t.TempDir(), "import.json")
	importer, _ := newTestImporter(t, checkpointPath)

	stats, err := importer.Import(ctx, "archive.jsonl", archiveLines(t, chain.logs))
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Applied)

	cp, ok, err := NewCheckpointStore(checkpointPath, true).Load()
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, cp.LastLine)
	require.EqualValues(t, 4, cp.LastBlock)

	stats, err = importer.Import(ctx, "archive.jsonl", archiveLines(t, chain.logs))
	require.NoError(t, err)
	require.EqualValues(t, 2, stats.Skipped)
	require.EqualValues(t, 0, stats.Applied)

	// a different file starts from the top and finds only duplicates
	stats, err = importer.Import(ctx, "other.jsonl", archiveLines(t, chain.logs))
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Skipped)
	require.EqualValues(t, 2, stats.Duplicates)

	// the same name with different content is a new file
	chain.emit(t, events["NodeStaked"], 6, 0, []common.Hash{nodeTopic}, big.NewInt(1))
	stats, err = importer.Import(ctx, "archive.jsonl", archiveLines(t, chain.logs[1:]))
	require.NoError(t, err)
	require.EqualValues(t, 0, stats.Skipped)
	require.EqualValues(t, 1, stats.Duplicates)
	require.EqualValues(t, 1, stats.Applied)
}

func TestImporterRollsBackConflictingLog(t *testing.T) {
	ctx := context.Background()
	events := nodeABI(t).Events
	chain := newFakeChain(20)
	nodeTopic := common.BytesToHash(testNode.Bytes())
	chain.emit(t, events["NodeRegistered"], 3, 0, []common.Hash{nodeTopic}, uint8(1))
	chain.emit(t, events["NodeStaked"], 4, 0, []common.Hash{nodeTopic}, big.NewInt(40))

	importer, store := newTestImporter(t, "")
	_, err := importer.Import(ctx, "a.jsonl", archiveLines(t, chain.logs))
	require.NoError(t, err)

	chain.fork[4] = "f"
	chain.logs = chain.logs[:1]
	chain.emit(t, events["NodeStaked"], 4, 0, []common.Hash{nodeTopic}, big.NewInt(9))

	stats, err := importer.Import(ctx, "b.jsonl", archiveLines(t, chain.logs[1:]))
	require.NoError(t, err)
	require.EqualValues(t, 1, stats.Rollbacks)
	require.EqualValues(t, 1, stats.Applied)

	node, err := store.GetEdgeNode(ctx, strings.ToLower(testNode.Hex()))
	require.NoError(t, err)
	require.Equal(t, "9", node.TotalStaked.String())
}
