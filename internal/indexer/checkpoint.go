package indexer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
)

// Checkpoint tracks how far an archive file has been imported. Fingerprint
// is the keccak hash of the file's first line, so a file rewritten under the
// same name starts over.
type Checkpoint struct {
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint"`
	LastLine    uint64 `json:"last_line"`
	LastBlock   uint64 `json:"last_block"`
	UpdatedAt   string `json:"updated_at"`
}

// Resumes reports whether cp covers the given file.
func (cp Checkpoint) Resumes(source, fingerprint string) bool {
	return cp.Source == source && cp.Fingerprint == fingerprint
}

func lineFingerprint(line []byte) string {
	return crypto.Keccak256Hash(line).Hex()
}

// CheckpointStore persists one checkpoint to disk. A store without a path is
// disabled and never resumes.
type CheckpointStore struct {
	path    string
	enabled bool
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != ""}
}

func (c *CheckpointStore) Load() (Checkpoint, bool, error) {
	if !c.enabled {
		return Checkpoint{}, false, nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Checkpoint{}, false, nil
		}
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, true, nil
}

// Save replaces the stored checkpoint through a rename so a crash never
// leaves a torn file.
func (c *CheckpointStore) Save(cp Checkpoint) error {
	if !c.enabled {
		return nil
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create checkpoint dir: %w", err)
		}
	}

	cp.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmpPath := c.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
