package contracts

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"stakeScope/internal/model"
)

var (
	nodeManagerAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
	tokenAddr       = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

func newTestDecoder(t *testing.T, topic0Map map[string]string) *Decoder {
	t.Helper()
	decoder, err := NewDecoder(Config{
		NodeManagerAddress: nodeManagerAddr.Hex(),
		TokenAddress:       tokenAddr.Hex(),
		Topic0Map:          topic0Map,
	})
	if err != nil {
		t.Fatalf("decoder: %v", err)
	}
	return decoder
}

func TestDecoderNodeRegistered(t *testing.T) {
	nodeABI, err := NodeManagerABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t, nil)

	node := common.HexToAddress("0xAbCdEf0000000000000000000000000000000001")
	data, err := nodeABI.Events["NodeRegistered"].Inputs.NonIndexed().Pack(uint8(2))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	log := buildLogRecord(nodeManagerAddr, nodeABI.Events["NodeRegistered"].ID, data, []common.Hash{
		topicFromAddress(node),
	})

	raw, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.Contract != model.ContractNodeManager || raw.EventName != "NodeRegistered" {
		t.Fatalf("unexpected event: %s %s", raw.Contract, raw.EventName)
	}
	if len(raw.Args) != 2 || raw.Args[0] != "0xabcdef0000000000000000000000000000000001" || raw.Args[1] != "2" {
		t.Fatalf("args mismatch: %v", raw.Args)
	}
	if raw.ContractAddress != "0x1111111111111111111111111111111111111111" {
		t.Fatalf("contract address mismatch: %s", raw.ContractAddress)
	}

	ev, err := model.ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	registered, ok := ev.(model.NodeRegistered)
	if !ok || registered.NodeType != 2 {
		t.Fatalf("typed event mismatch: %#v", ev)
	}
}

func TestDecoderInterleavesIndexedArgs(t *testing.T) {
	tokenABI, err := TokenABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t, nil)

	user := common.HexToAddress("0x3333333333333333333333333333333333333333")
	keeper := common.HexToAddress("0x4444444444444444444444444444444444444444")
	data, err := tokenABI.Events["RedemptionCredited"].Inputs.NonIndexed().Pack(big.NewInt(1_000_000))
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	log := buildLogRecord(tokenAddr, tokenABI.Events["RedemptionCredited"].ID, data, []common.Hash{
		topicFromAddress(user),
		common.BigToHash(big.NewInt(7)),
		topicFromAddress(keeper),
	})

	raw, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := []string{
		"0x3333333333333333333333333333333333333333",
		"7",
		"0x4444444444444444444444444444444444444444",
		"1000000",
	}
	if len(raw.Args) != len(want) {
		t.Fatalf("args mismatch: %v", raw.Args)
	}
	for i := range want {
		if raw.Args[i] != want[i] {
			t.Fatalf("arg %d: got %s want %s", i, raw.Args[i], want[i])
		}
	}

	ev, err := model.ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse event: %v", err)
	}
	credited := ev.(model.RedemptionCredited)
	if credited.QueueIndex != 7 || credited.TfuelAmount.Int64() != 1_000_000 {
		t.Fatalf("typed event mismatch: %+v", credited)
	}
}

func TestDecoderLivenessAndTransfer(t *testing.T) {
	nodeABI, err := NodeManagerABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	tokenABI, err := TokenABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t, nil)

	node := common.HexToAddress("0x5555555555555555555555555555555555555555")
	data := packNonIndexed(t, nodeABI.Events["NodeLivenessChanged"], false)
	raw, err := decoder.Decode(buildLogRecord(nodeManagerAddr, nodeABI.Events["NodeLivenessChanged"].ID, data, []common.Hash{
		topicFromAddress(node),
	}))
	if err != nil {
		t.Fatalf("decode liveness: %v", err)
	}
	if raw.Args[1] != "false" {
		t.Fatalf("liveness arg mismatch: %v", raw.Args)
	}

	from := common.Address{}
	to := common.HexToAddress("0x6666666666666666666666666666666666666666")
	data = packNonIndexed(t, tokenABI.Events["Transfer"], big.NewInt(42))
	raw, err = decoder.Decode(buildLogRecord(tokenAddr, tokenABI.Events["Transfer"].ID, data, []common.Hash{
		topicFromAddress(from),
		topicFromAddress(to),
	}))
	if err != nil {
		t.Fatalf("decode transfer: %v", err)
	}
	if raw.Args[0] != model.ZeroAddress || raw.Args[2] != "42" {
		t.Fatalf("transfer args mismatch: %v", raw.Args)
	}
}

func TestDecoderUnknownTopicIsKept(t *testing.T) {
	decoder := newTestDecoder(t, nil)

	topic0 := common.HexToHash("0xdeadbeef")
	log := buildLogRecord(tokenAddr, topic0, []byte{0x01}, []common.Hash{common.BigToHash(big.NewInt(9))})
	raw, err := decoder.Decode(log)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoder.CanDecode(topic0.Hex()) {
		t.Fatalf("unexpected known topic")
	}
	if raw.EventName != topic0.Hex() || len(raw.Args) != 2 {
		t.Fatalf("unknown event mismatch: %+v", raw)
	}
	if _, err := model.ParseEvent(raw); !errors.Is(err, model.ErrUnknownEvent) {
		t.Fatalf("expected unknown event, got %v", err)
	}
}

func TestDecoderTopic0Alias(t *testing.T) {
	tokenABI, err := TokenABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	alias := common.HexToHash("0x0102")
	decoder := newTestDecoder(t, map[string]string{alias.Hex(): "Minted"})

	to := common.HexToAddress("0x7777777777777777777777777777777777777777")
	data := packNonIndexed(t, tokenABI.Events["Minted"], big.NewInt(5))
	raw, err := decoder.Decode(buildLogRecord(tokenAddr, alias, data, []common.Hash{topicFromAddress(to)}))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if raw.EventName != "Minted" || raw.Args[1] != "5" {
		t.Fatalf("alias mismatch: %+v", raw)
	}

	if _, err := NewDecoder(Config{
		NodeManagerAddress: nodeManagerAddr.Hex(),
		TokenAddress:       tokenAddr.Hex(),
		Topic0Map:          map[string]string{alias.Hex(): "Sync"},
	}); err == nil {
		t.Fatalf("expected unsupported name error")
	}
}

func TestDecoderRejects(t *testing.T) {
	tokenABI, err := TokenABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	nodeABI, err := NodeManagerABI()
	if err != nil {
		t.Fatalf("abi parse: %v", err)
	}
	decoder := newTestDecoder(t, nil)
	user := common.HexToAddress("0x8888888888888888888888888888888888888888")
	data := packNonIndexed(t, tokenABI.Events["CreditsClaimed"], big.NewInt(1))

	removed := buildLogRecord(tokenAddr, tokenABI.Events["CreditsClaimed"].ID, data, []common.Hash{topicFromAddress(user)})
	removed.Removed = true
	if _, err := decoder.Decode(removed); !errors.Is(err, ErrRemovedLog) {
		t.Fatalf("expected removed log error, got %v", err)
	}

	other := buildLogRecord(common.HexToAddress("0x9999999999999999999999999999999999999999"),
		tokenABI.Events["CreditsClaimed"].ID, data, []common.Hash{topicFromAddress(user)})
	if _, err := decoder.Decode(other); !errors.Is(err, ErrUntrackedContract) {
		t.Fatalf("expected untracked contract error, got %v", err)
	}

	wrongContract := buildLogRecord(tokenAddr, nodeABI.Events["NodeRecovered"].ID, nil, []common.Hash{topicFromAddress(user)})
	if _, err := decoder.Decode(wrongContract); err == nil {
		t.Fatalf("expected contract mismatch error")
	}

	missingTopic := buildLogRecord(tokenAddr, tokenABI.Events["CreditsClaimed"].ID, data, nil)
	if _, err := decoder.Decode(missingTopic); err == nil {
		t.Fatalf("expected topic count error")
	}
}

func TestTotalSupplyRoundTrip(t *testing.T) {
	call, err := PackTotalSupply()
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if len(call) != 4 {
		t.Fatalf("selector length %d", len(call))
	}
	supply, err := UnpackTotalSupply(common.BigToHash(big.NewInt(123456)).Bytes())
	if err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if supply.Int64() != 123456 {
		t.Fatalf("supply mismatch: %s", supply)
	}
}

func packNonIndexed(t *testing.T, event abi.Event, values ...interface{}) []byte {
	t.Helper()
	data, err := event.Inputs.NonIndexed().Pack(values...)
	if err != nil {
		t.Fatalf("pack %s: %v", event.Name, err)
	}
	return data
}

func buildLogRecord(address common.Address, topic0 common.Hash, data []byte, indexed []common.Hash) model.LogRecord {
	topics := make([]string, 0, len(indexed)+1)
	topics = append(topics, topic0.Hex())
	for _, topic := range indexed {
		topics = append(topics, topic.Hex())
	}

	return model.LogRecord{
		ChainID:     361,
		BlockNumber: 12345,
		BlockHash:   "0xabc",
		TxHash:      "0xdef",
		LogIndex:    1,
		Address:     address.Hex(),
		Topics:      topics,
		Data:        hexutil.Encode(data),
		Timestamp:   1700000000,
	}
}

func topicFromAddress(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}
