package model

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Contract identifies one of the two tracked protocol contracts.
type Contract string

const (
	ContractNodeManager Contract = "node_manager"
	ContractToken       Contract = "token"
)

// Contracts lists every tracked contract in a stable order.
var Contracts = []Contract{ContractNodeManager, ContractToken}

// ParseContract validates a contract name.
func ParseContract(name string) (Contract, error) {
	switch Contract(strings.ToLower(strings.TrimSpace(name))) {
	case ContractNodeManager:
		return ContractNodeManager, nil
	case ContractToken:
		return ContractToken, nil
	default:
		return "", fmt.Errorf("unknown contract: %s", name)
	}
}

// ZeroAddress is the normalized zero address used by mint/burn transfer legs.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

// NormalizeAddress returns the lowercase 0x-prefixed form of an address.
func NormalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("invalid address: %s", address)
	}
	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// Coord orders raw events within and across contracts.
type Coord struct {
	BlockNumber uint64 `json:"block_number"`
	TxIndex     uint64 `json:"tx_index"`
	LogIndex    uint64 `json:"log_index"`
}

// Less reports whether c sorts strictly before other.
func (c Coord) Less(other Coord) bool {
	if c.BlockNumber != other.BlockNumber {
		return c.BlockNumber < other.BlockNumber
	}
	if c.TxIndex != other.TxIndex {
		return c.TxIndex < other.TxIndex
	}
	return c.LogIndex < other.LogIndex
}

// RawEvent is one decoded contract log as persisted in the raw event tables.
// Args are positional, in ABI input order: addresses as lowercase hex,
// integers in base 10 and booleans as "true"/"false".
type RawEvent struct {
	ID              int64    `json:"id,omitempty"`
	Contract        Contract `json:"contract"`
	ContractAddress string   `json:"contract_address"`
	EventName       string   `json:"event_name"`
	Args            []string `json:"args"`
	BlockNumber     uint64   `json:"block_number"`
	BlockHash       string   `json:"block_hash"`
	TxHash          string   `json:"tx_hash"`
	TxIndex         uint64   `json:"tx_index"`
	LogIndex        uint64   `json:"log_index"`
	BlockTimestamp  uint64   `json:"block_timestamp"`
}

// Coord returns the ordering coordinate of the event.
func (e RawEvent) Coord() Coord {
	return Coord{BlockNumber: e.BlockNumber, TxIndex: e.TxIndex, LogIndex: e.LogIndex}
}

// SameLog reports whether other describes the same on-chain log as e.
// An empty block hash on either side is treated as unknown.
func (e RawEvent) SameLog(other RawEvent) bool {
	if !strings.EqualFold(e.TxHash, other.TxHash) {
		return false
	}
	if e.BlockHash == "" || other.BlockHash == "" {
		return true
	}
	return strings.EqualFold(e.BlockHash, other.BlockHash)
}

// BlockRef is a recorded block coordinate used for fork detection.
type BlockRef struct {
	Number    uint64
	Hash      string
	Timestamp uint64
}

// Cursor is the last durably committed block for one contract stream.
type Cursor struct {
	Contract       Contract `json:"contract"`
	BlockNumber    uint64   `json:"block_number"`
	BlockHash      string   `json:"block_hash"`
	BlockTimestamp uint64   `json:"block_timestamp"`
}

// Violation flags an event whose normalized mutation was rejected.
type Violation struct {
	Contract    Contract `json:"contract"`
	EventName   string   `json:"event_name"`
	BlockNumber uint64   `json:"block_number"`
	TxHash      string   `json:"tx_hash"`
	LogIndex    uint64   `json:"log_index"`
	Rule        string   `json:"rule"`
	Detail      string   `json:"detail"`
}
