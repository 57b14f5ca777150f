package model

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
)

// ErrUnknownEvent is returned by ParseEvent for names with no EventKind.
var ErrUnknownEvent = errors.New("unknown event")

// EventKind is the closed set of contract events the projection understands.
type EventKind uint8

const (
	KindUnknown EventKind = iota

	KindNodeRegistered
	KindNodeStaked
	KindNodeUnstaked
	KindNodeMarkedFaulty
	KindNodeRecovered
	KindNodeUnstakeRequested
	KindNodeDeactivated
	KindNodeLivenessChanged

	KindDeposited
	KindWithdrawn
	KindMinted
	KindBurned
	KindTransfer
	KindKeeperFeeEarned
	KindReferralFeeEarned
	KindRedemptionRequested
	KindRedemptionUnlocked
	KindRedemptionCredited
	KindRedemptionCancelled
	KindCreditsClaimed

	kindCount
)

var kindNames = [kindCount]string{
	KindUnknown:              "Unknown",
	KindNodeRegistered:       "NodeRegistered",
	KindNodeStaked:           "NodeStaked",
	KindNodeUnstaked:         "NodeUnstaked",
	KindNodeMarkedFaulty:     "NodeMarkedFaulty",
	KindNodeRecovered:        "NodeRecovered",
	KindNodeUnstakeRequested: "NodeUnstakeRequested",
	KindNodeDeactivated:      "NodeDeactivated",
	KindNodeLivenessChanged:  "NodeLivenessChanged",
	KindDeposited:            "Deposited",
	KindWithdrawn:            "Withdrawn",
	KindMinted:               "Minted",
	KindBurned:               "Burned",
	KindTransfer:             "Transfer",
	KindKeeperFeeEarned:      "KeeperFeeEarned",
	KindReferralFeeEarned:    "ReferralFeeEarned",
	KindRedemptionRequested:  "RedemptionRequested",
	KindRedemptionUnlocked:   "RedemptionUnlocked",
	KindRedemptionCredited:   "RedemptionCredited",
	KindRedemptionCancelled:  "RedemptionCancelled",
	KindCreditsClaimed:       "CreditsClaimed",
}

// positional argument count per kind
var kindArity = [kindCount]int{
	KindNodeRegistered:       2,
	KindNodeStaked:           2,
	KindNodeUnstaked:         2,
	KindNodeMarkedFaulty:     1,
	KindNodeRecovered:        1,
	KindNodeUnstakeRequested: 1,
	KindNodeDeactivated:      1,
	KindNodeLivenessChanged:  2,
	KindDeposited:            3,
	KindWithdrawn:            3,
	KindMinted:               2,
	KindBurned:               2,
	KindTransfer:             3,
	KindKeeperFeeEarned:      2,
	KindReferralFeeEarned:    2,
	KindRedemptionRequested:  5,
	KindRedemptionUnlocked:   2,
	KindRedemptionCredited:   4,
	KindRedemptionCancelled:  2,
	KindCreditsClaimed:       2,
}

var kindByName = func() map[string]EventKind {
	out := make(map[string]EventKind, kindCount)
	for k := KindUnknown + 1; k < kindCount; k++ {
		out[kindNames[k]] = k
	}
	return out
}()

func (k EventKind) String() string {
	if k >= kindCount {
		return "Unknown"
	}
	return kindNames[k]
}

// ParseEventKind maps an ABI event name to its kind, or KindUnknown.
func ParseEventKind(name string) EventKind {
	return kindByName[name]
}

// EventKinds lists every known kind in declaration order.
func EventKinds() []EventKind {
	out := make([]EventKind, 0, kindCount-1)
	for k := KindUnknown + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// Contract returns the contract that emits events of this kind.
func (k EventKind) Contract() Contract {
	switch {
	case k >= KindNodeRegistered && k <= KindNodeLivenessChanged:
		return ContractNodeManager
	case k >= KindDeposited && k < kindCount:
		return ContractToken
	default:
		return ""
	}
}

// Event is a typed event payload. The set of implementations is closed.
type Event interface {
	Kind() EventKind
	isEvent()
}

type NodeRegistered struct {
	Node     string
	NodeType uint8
}

type NodeStaked struct {
	Node   string
	Amount *big.Int
}

type NodeUnstaked struct {
	Node   string
	Amount *big.Int
}

type NodeMarkedFaulty struct{ Node string }

type NodeRecovered struct{ Node string }

type NodeUnstakeRequested struct{ Node string }

type NodeDeactivated struct{ Node string }

type NodeLivenessChanged struct {
	Node   string
	IsLive bool
}

type Deposited struct {
	User        string
	TfuelAmount *big.Int
	EnteringFee *big.Int
}

type Withdrawn struct {
	User        string
	TfuelAmount *big.Int
	ExitFee     *big.Int
}

type Minted struct {
	To     string
	Amount *big.Int
}

type Burned struct {
	From   string
	Amount *big.Int
}

type Transfer struct {
	From  string
	To    string
	Value *big.Int
}

type KeeperFeeEarned struct {
	Keeper string
	Amount *big.Int
}

type ReferralFeeEarned struct {
	Referrer string
	Amount   *big.Int
}

type RedemptionRequested struct {
	User          string
	QueueIndex    uint64
	StfuelBurned  *big.Int
	TfuelExpected *big.Int
	KeeperTip     *big.Int
}

type RedemptionUnlocked struct {
	User       string
	QueueIndex uint64
}

type RedemptionCredited struct {
	User        string
	QueueIndex  uint64
	Keeper      string
	TfuelAmount *big.Int
}

type RedemptionCancelled struct {
	User       string
	QueueIndex uint64
}

type CreditsClaimed struct {
	User   string
	Amount *big.Int
}

func (NodeRegistered) Kind() EventKind       { return KindNodeRegistered }
func (NodeStaked) Kind() EventKind           { return KindNodeStaked }
func (NodeUnstaked) Kind() EventKind         { return KindNodeUnstaked }
func (NodeMarkedFaulty) Kind() EventKind     { return KindNodeMarkedFaulty }
func (NodeRecovered) Kind() EventKind        { return KindNodeRecovered }
func (NodeUnstakeRequested) Kind() EventKind { return KindNodeUnstakeRequested }
func (NodeDeactivated) Kind() EventKind      { return KindNodeDeactivated }
func (NodeLivenessChanged) Kind() EventKind  { return KindNodeLivenessChanged }
func (Deposited) Kind() EventKind            { return KindDeposited }
func (Withdrawn) Kind() EventKind            { return KindWithdrawn }
func (Minted) Kind() EventKind               { return KindMinted }
func (Burned) Kind() EventKind               { return KindBurned }
func (Transfer) Kind() EventKind             { return KindTransfer }
func (KeeperFeeEarned) Kind() EventKind      { return KindKeeperFeeEarned }
func (ReferralFeeEarned) Kind() EventKind    { return KindReferralFeeEarned }
func (RedemptionRequested) Kind() EventKind  { return KindRedemptionRequested }
func (RedemptionUnlocked) Kind() EventKind   { return KindRedemptionUnlocked }
func (RedemptionCredited) Kind() EventKind   { return KindRedemptionCredited }
func (RedemptionCancelled) Kind() EventKind  { return KindRedemptionCancelled }
func (CreditsClaimed) Kind() EventKind       { return KindCreditsClaimed }

func (NodeRegistered) isEvent()       {}
func (NodeStaked) isEvent()           {}
func (NodeUnstaked) isEvent()         {}
func (NodeMarkedFaulty) isEvent()     {}
func (NodeRecovered) isEvent()        {}
func (NodeUnstakeRequested) isEvent() {}
func (NodeDeactivated) isEvent()      {}
func (NodeLivenessChanged) isEvent()  {}
func (Deposited) isEvent()            {}
func (Withdrawn) isEvent()            {}
func (Minted) isEvent()               {}
func (Burned) isEvent()               {}
func (Transfer) isEvent()             {}
func (KeeperFeeEarned) isEvent()      {}
func (ReferralFeeEarned) isEvent()    {}
func (RedemptionRequested) isEvent()  {}
func (RedemptionUnlocked) isEvent()   {}
func (RedemptionCredited) isEvent()   {}
func (RedemptionCancelled) isEvent()  {}
func (CreditsClaimed) isEvent()       {}

// ParseEvent converts the positional args of a raw event into its typed payload.
func ParseEvent(raw RawEvent) (Event, error) {
	kind := ParseEventKind(raw.EventName)
	if kind == KindUnknown {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, raw.EventName)
	}
	if len(raw.Args) != kindArity[kind] {
		return nil, fmt.Errorf("%s: expected %d args, got %d", kind, kindArity[kind], len(raw.Args))
	}

	r := &argReader{args: raw.Args}
	var ev Event
	switch kind {
	case KindNodeRegistered:
		ev = NodeRegistered{Node: r.address(), NodeType: r.uint8()}
	case KindNodeStaked:
		ev = NodeStaked{Node: r.address(), Amount: r.amount()}
	case KindNodeUnstaked:
		ev = NodeUnstaked{Node: r.address(), Amount: r.amount()}
	case KindNodeMarkedFaulty:
		ev = NodeMarkedFaulty{Node: r.address()}
	case KindNodeRecovered:
		ev = NodeRecovered{Node: r.address()}
	case KindNodeUnstakeRequested:
		ev = NodeUnstakeRequested{Node: r.address()}
	case KindNodeDeactivated:
		ev = NodeDeactivated{Node: r.address()}
	case KindNodeLivenessChanged:
		ev = NodeLivenessChanged{Node: r.address(), IsLive: r.bool()}
	case KindDeposited:
		ev = Deposited{User: r.address(), TfuelAmount: r.amount(), EnteringFee: r.amount()}
	case KindWithdrawn:
		ev = Withdrawn{User: r.address(), TfuelAmount: r.amount(), ExitFee: r.amount()}
	case KindMinted:
		ev = Minted{To: r.address(), Amount: r.amount()}
	case KindBurned:
		ev = Burned{From: r.address(), Amount: r.amount()}
	case KindTransfer:
		ev = Transfer{From: r.address(), To: r.address(), Value: r.amount()}
	case KindKeeperFeeEarned:
		ev = KeeperFeeEarned{Keeper: r.address(), Amount: r.amount()}
	case KindReferralFeeEarned:
		ev = ReferralFeeEarned{Referrer: r.address(), Amount: r.amount()}
	case KindRedemptionRequested:
		ev = RedemptionRequested{
			User:          r.address(),
			QueueIndex:    r.uint64(),
			StfuelBurned:  r.amount(),
			TfuelExpected: r.amount(),
			KeeperTip:     r.amount(),
		}
	case KindRedemptionUnlocked:
		ev = RedemptionUnlocked{User: r.address(), QueueIndex: r.uint64()}
	case KindRedemptionCredited:
		ev = RedemptionCredited{User: r.address(), QueueIndex: r.uint64(), Keeper: r.address(), TfuelAmount: r.amount()}
	case KindRedemptionCancelled:
		ev = RedemptionCancelled{User: r.address(), QueueIndex: r.uint64()}
	case KindCreditsClaimed:
		ev = CreditsClaimed{User: r.address(), Amount: r.amount()}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, raw.EventName)
	}
	if r.err != nil {
		return nil, fmt.Errorf("%s: %w", kind, r.err)
	}
	return ev, nil
}

// argReader consumes positional args in order and keeps the first error.
type argReader struct {
	args []string
	pos  int
	err  error
}

func (r *argReader) next() (string, int) {
	pos := r.pos
	r.pos++
	return r.args[pos], pos
}

func (r *argReader) address() string {
	value, pos := r.next()
	if r.err != nil {
		return ""
	}
	addr, err := NormalizeAddress(value)
	if err != nil {
		r.err = fmt.Errorf("arg %d: %w", pos, err)
	}
	return addr
}

func (r *argReader) amount() *big.Int {
	value, pos := r.next()
	if r.err != nil {
		return nil
	}
	amount, err := ParseAmount(value)
	if err != nil {
		r.err = fmt.Errorf("arg %d: %w", pos, err)
		return nil
	}
	if amount.Sign() < 0 {
		r.err = fmt.Errorf("arg %d: negative amount %s", pos, value)
		return nil
	}
	return amount
}

func (r *argReader) uint64() uint64 {
	value, pos := r.next()
	if r.err != nil {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		r.err = fmt.Errorf("arg %d: %w", pos, err)
	}
	return parsed
}

func (r *argReader) uint8() uint8 {
	value, pos := r.next()
	if r.err != nil {
		return 0
	}
	parsed, err := strconv.ParseUint(value, 10, 8)
	if err != nil {
		r.err = fmt.Errorf("arg %d: %w", pos, err)
	}
	return uint8(parsed)
}

func (r *argReader) bool() bool {
	value, pos := r.next()
	if r.err != nil {
		return false
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		r.err = fmt.Errorf("arg %d: %w", pos, err)
	}
	return parsed
}
