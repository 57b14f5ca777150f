package model

import (
	"errors"
	"testing"
)

func TestParseEvent(t *testing.T) {
	raw := RawEvent{
		EventName: "RedemptionCredited",
		Args: []string{
			"0x00000000000000000000000000000000000000AA",
			"7",
			"0x00000000000000000000000000000000000000bb",
			"123456789012345678901234567890",
		},
	}
	ev, err := ParseEvent(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	credited, ok := ev.(RedemptionCredited)
	if !ok {
		t.Fatalf("unexpected type %T", ev)
	}
	if credited.User != "0x00000000000000000000000000000000000000aa" {
		t.Fatalf("user not normalized: %s", credited.User)
	}
	if credited.QueueIndex != 7 || credited.TfuelAmount.String() != "123456789012345678901234567890" {
		t.Fatalf("unexpected payload: %+v", credited)
	}
	if ev.Kind().Contract() != ContractToken {
		t.Fatalf("unexpected contract: %s", ev.Kind().Contract())
	}
}

func TestParseEventErrors(t *testing.T) {
	cases := []struct {
		name string
		raw  RawEvent
	}{
		{"arity", RawEvent{EventName: "NodeStaked", Args: []string{"0x00000000000000000000000000000000000000aa"}}},
		{"address", RawEvent{EventName: "NodeRecovered", Args: []string{"node-1"}}},
		{"amount", RawEvent{EventName: "Minted", Args: []string{"0x00000000000000000000000000000000000000aa", "1e18"}}},
		{"negative", RawEvent{EventName: "Burned", Args: []string{"0x00000000000000000000000000000000000000aa", "-1"}}},
		{"uint8", RawEvent{EventName: "NodeRegistered", Args: []string{"0x00000000000000000000000000000000000000aa", "256"}}},
		{"bool", RawEvent{EventName: "NodeLivenessChanged", Args: []string{"0x00000000000000000000000000000000000000aa", "maybe"}}},
	}
	for _, tc := range cases {
		if _, err := ParseEvent(tc.raw); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		} else if errors.Is(err, ErrUnknownEvent) {
			t.Fatalf("%s: malformed args reported as unknown: %v", tc.name, err)
		}
	}

	if _, err := ParseEvent(RawEvent{EventName: "OwnershipTransferred"}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestEventKindsCoverBothContracts(t *testing.T) {
	counts := map[Contract]int{}
	for _, kind := range EventKinds() {
		if ParseEventKind(kind.String()) != kind {
			t.Fatalf("kind %s does not round trip", kind)
		}
		counts[kind.Contract()]++
	}
	if counts[ContractNodeManager] != 8 || counts[ContractToken] != 12 {
		t.Fatalf("unexpected kind split: %v", counts)
	}
	if KindUnknown.Contract() != "" {
		t.Fatalf("unknown kind must not belong to a contract")
	}
}

func TestCoordOrdering(t *testing.T) {
	a := Coord{BlockNumber: 5, TxIndex: 1, LogIndex: 9}
	b := Coord{BlockNumber: 5, TxIndex: 2, LogIndex: 0}
	if !a.Less(b) || b.Less(a) || a.Less(a) {
		t.Fatalf("coordinate ordering broken")
	}
}

func TestStatusesAndEventsAreDistinct(t *testing.T) {
	var deactivated Event = NodeDeactivated{Node: "0x00000000000000000000000000000000000000aa"}
	if deactivated.Kind() != KindNodeDeactivated {
		t.Fatalf("kind = %s", deactivated.Kind())
	}

	var node *EdgeNode
	if node.Status() != NodeStatusUnregistered {
		t.Fatalf("nil node status = %s", node.Status())
	}
	block := uint64(9)
	node = &EdgeNode{DeactivationBlock: &block}
	if node.Status() != NodeStatusDeactivated {
		t.Fatalf("deactivated node status = %s", node.Status())
	}

	for _, status := range []RedemptionStatus{RedemptionStatusCredited, RedemptionStatusCancelled} {
		parsed, ok := ParseRedemptionStatus(string(status))
		if !ok || parsed != status || !parsed.Terminal() {
			t.Fatalf("status %s: parsed=%s ok=%v", status, parsed, ok)
		}
	}
	if _, ok := ParseRedemptionStatus("RedemptionCredited"); ok {
		t.Fatalf("event name accepted as a status")
	}
}
