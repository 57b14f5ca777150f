package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"stakeScope/internal/model"
)

var (
	// ErrUntrackedContract is returned for logs emitted by neither tracked contract.
	ErrUntrackedContract = errors.New("untracked contract")
	// ErrRemovedLog is returned for logs the node reported as removed by a reorg.
	ErrRemovedLog = errors.New("removed log")
)

// Config configures decoder behavior.
type Config struct {
	NodeManagerAddress string
	TokenAddress       string
	// Topic0Map adds topic0 aliases decoded with the layout of the named event.
	Topic0Map map[string]string
}

type boundEvent struct {
	contract model.Contract
	event    abi.Event
}

// Decoder turns logs of the node-manager and token contracts into raw events
// with positional string args.
type Decoder struct {
	addresses map[model.Contract]string
	contracts map[string]model.Contract
	topics    map[string]boundEvent
}

// NewDecoder builds a decoder for the configured contract addresses.
func NewDecoder(cfg Config) (*Decoder, error) {
	nodeManagerABI, err := NodeManagerABI()
	if err != nil {
		return nil, fmt.Errorf("node manager abi: %w", err)
	}
	tokenABI, err := TokenABI()
	if err != nil {
		return nil, fmt.Errorf("token abi: %w", err)
	}

	d := &Decoder{
		addresses: make(map[model.Contract]string, 2),
		contracts: make(map[string]model.Contract, 2),
		topics:    make(map[string]boundEvent, len(nodeManagerABI.Events)+len(tokenABI.Events)),
	}
	for contract, address := range map[model.Contract]string{
		model.ContractNodeManager: cfg.NodeManagerAddress,
		model.ContractToken:       cfg.TokenAddress,
	} {
		normalized, err := model.NormalizeAddress(address)
		if err != nil {
			return nil, fmt.Errorf("%s address: %w", contract, err)
		}
		if other, ok := d.contracts[normalized]; ok {
			return nil, fmt.Errorf("%s and %s share address %s", other, contract, normalized)
		}
		d.addresses[contract] = normalized
		d.contracts[normalized] = contract
	}

	byName := make(map[string]boundEvent)
	for contract, parsed := range map[model.Contract]abi.ABI{
		model.ContractNodeManager: nodeManagerABI,
		model.ContractToken:       tokenABI,
	} {
		for name, event := range parsed.Events {
			bound := boundEvent{contract: contract, event: event}
			byName[name] = bound
			d.topics[strings.ToLower(event.ID.Hex())] = bound
		}
	}

	for topic0, name := range cfg.Topic0Map {
		bound, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unsupported event name in topic0 map: %s", name)
		}
		if topic0 == "" {
			continue
		}
		d.topics[strings.ToLower(topic0)] = bound
	}
	return d, nil
}

// Address returns the normalized address of a tracked contract.
func (d *Decoder) Address(contract model.Contract) string {
	return d.addresses[contract]
}

// Contract maps an emitting address to its tracked contract.
func (d *Decoder) Contract(address string) (model.Contract, bool) {
	contract, ok := d.contracts[strings.ToLower(address)]
	return contract, ok
}

// CanDecode checks if the topic0 belongs to a known event.
func (d *Decoder) CanDecode(topic0 string) bool {
	if topic0 == "" {
		return false
	}
	_, ok := d.topics[strings.ToLower(topic0)]
	return ok
}

// Decode converts a log of a tracked contract into a raw event. A log with an
// unrecognized topic0 is still returned, named by its topic0 and carrying the
// remaining topics and data as args, so it can be stored and skipped.
func (d *Decoder) Decode(log model.LogRecord) (model.RawEvent, error) {
	if log.Removed {
		return model.RawEvent{}, ErrRemovedLog
	}
	if len(log.Topics) == 0 {
		return model.RawEvent{}, fmt.Errorf("missing topics")
	}
	contract, ok := d.Contract(log.Address)
	if !ok {
		return model.RawEvent{}, fmt.Errorf("%w: %s", ErrUntrackedContract, log.Address)
	}

	raw := model.RawEvent{
		Contract:        contract,
		ContractAddress: d.addresses[contract],
		BlockNumber:     log.BlockNumber,
		BlockHash:       strings.ToLower(log.BlockHash),
		TxHash:          strings.ToLower(log.TxHash),
		TxIndex:         log.TxIndex,
		LogIndex:        log.LogIndex,
		BlockTimestamp:  log.Timestamp,
	}

	topic0 := strings.ToLower(log.Topic0())
	bound, ok := d.topics[topic0]
	if !ok {
		raw.EventName = topic0
		raw.Args = append(raw.Args, log.Topics[1:]...)
		if log.Data != "" && log.Data != "0x" {
			raw.Args = append(raw.Args, log.Data)
		}
		return raw, nil
	}
	if bound.contract != contract {
		return model.RawEvent{}, fmt.Errorf("%s emitted by %s contract", bound.event.Name, contract)
	}

	args, err := decodeArgs(bound.event, log)
	if err != nil {
		return model.RawEvent{}, fmt.Errorf("decode %s: %w", bound.event.Name, err)
	}
	raw.EventName = bound.event.Name
	raw.Args = args
	return raw, nil
}

// decodeArgs returns every event input in ABI order, indexed or not.
func decodeArgs(event abi.Event, log model.LogRecord) ([]string, error) {
	topics, err := parseIndexedTopics(event, log.Topics)
	if err != nil {
		return nil, err
	}
	values := make(map[string]interface{}, len(event.Inputs))
	if err := abi.ParseTopicsIntoMap(values, indexedArguments(event.Inputs), topics); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	if err := unpackNonIndexed(event, log.Data, values); err != nil {
		return nil, err
	}

	args := make([]string, 0, len(event.Inputs))
	for _, input := range event.Inputs {
		value, ok := values[input.Name]
		if !ok {
			return nil, fmt.Errorf("missing input %s", input.Name)
		}
		formatted, err := formatArg(value)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", input.Name, err)
		}
		args = append(args, formatted)
	}
	return args, nil
}

func formatArg(value interface{}) (string, error) {
	switch v := value.(type) {
	case common.Address:
		return strings.ToLower(v.Hex()), nil
	case *big.Int:
		return v.String(), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case bool:
		return strconv.FormatBool(v), nil
	case common.Hash:
		return strings.ToLower(v.Hex()), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", value)
	}
}

func parseIndexedTopics(event abi.Event, topics []string) ([]common.Hash, error) {
	indexedCount := len(indexedArguments(event.Inputs))
	if len(topics) != indexedCount+1 {
		return nil, fmt.Errorf("expected %d topics, got %d", indexedCount+1, len(topics))
	}
	return parseTopicHashes(topics[1:])
}

func parseTopicHashes(topics []string) ([]common.Hash, error) {
	out := make([]common.Hash, 0, len(topics))
	for _, topic := range topics {
		data, err := hexutil.Decode(topic)
		if err != nil {
			return nil, fmt.Errorf("invalid topic: %w", err)
		}
		if len(data) > 32 {
			return nil, fmt.Errorf("topic length %d", len(data))
		}
		out = append(out, common.BytesToHash(data))
	}
	return out, nil
}

func indexedArguments(args abi.Arguments) abi.Arguments {
	indexed := make(abi.Arguments, 0, len(args))
	for _, arg := range args {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	return indexed
}

func unpackNonIndexed(event abi.Event, dataHex string, out map[string]interface{}) error {
	if dataHex == "" {
		dataHex = "0x"
	}
	data, err := hexutil.Decode(dataHex)
	if err != nil {
		return fmt.Errorf("invalid data: %w", err)
	}
	if err := event.Inputs.NonIndexed().UnpackIntoMap(out, data); err != nil {
		return fmt.Errorf("unpack %s: %w", event.Name, err)
	}
	return nil
}
