package state

import (
	"fmt"

	"stakeScope/internal/model"
)

// NodeAddress returns the node an edge-node event refers to.
func NodeAddress(ev model.Event) (string, bool) {
	switch e := ev.(type) {
	case model.NodeRegistered:
		return e.Node, true
	case model.NodeStaked:
		return e.Node, true
	case model.NodeUnstaked:
		return e.Node, true
	case model.NodeMarkedFaulty:
		return e.Node, true
	case model.NodeRecovered:
		return e.Node, true
	case model.NodeUnstakeRequested:
		return e.Node, true
	case model.NodeDeactivated:
		return e.Node, true
	case model.NodeLivenessChanged:
		return e.Node, true
	default:
		return "", false
	}
}

// ApplyNode advances the edge-node lifecycle. current is nil for an
// unregistered address. The returned node is a new value; current is never
// mutated.
func ApplyNode(current *model.EdgeNode, ev model.Event, at Block) (*model.EdgeNode, error) {
	addr, ok := NodeAddress(ev)
	if !ok {
		return nil, fmt.Errorf("not an edge node event: %s", ev.Kind())
	}

	status := current.Status()
	if reg, ok := ev.(model.NodeRegistered); ok {
		if status != model.NodeStatusUnregistered {
			return nil, transition("node", addr, string(status), ev.Kind())
		}
		return &model.EdgeNode{
			Address:               addr,
			NodeType:              reg.NodeType,
			RegistrationBlock:     at.Number,
			RegistrationTimestamp: at.Timestamp,
			IsActive:              true,
			IsLive:                true,
			TotalStaked:           model.Zero(),
			TotalUnstaked:         model.Zero(),
		}, nil
	}

	switch status {
	case model.NodeStatusUnregistered, model.NodeStatusDeactivated:
		return nil, transition("node", addr, string(status), ev.Kind())
	}

	next := current.Clone()
	switch e := ev.(type) {
	case model.NodeStaked:
		next.TotalStaked = model.AddInt(next.TotalStaked, e.Amount)

	case model.NodeUnstaked:
		next.TotalUnstaked = model.AddInt(next.TotalUnstaked, e.Amount)
		if next.TotalUnstaked.Cmp(next.TotalStaked) > 0 {
			return nil, violation("node_unstake_exceeds_stake", "node %s unstaked %s of %s staked",
				addr, next.TotalUnstaked, next.TotalStaked)
		}

	case model.NodeMarkedFaulty:
		if !next.IsActive || next.IsFaulty {
			return nil, transition("node", addr, string(status), ev.Kind())
		}
		next.IsFaulty = true
		next.FaultyBlock = model.U64(at.Number)
		next.FaultyTimestamp = model.U64(at.Timestamp)

	case model.NodeRecovered:
		if !next.IsFaulty {
			return nil, transition("node", addr, string(status), ev.Kind())
		}
		next.IsFaulty = false
		next.RecoveryBlock = model.U64(at.Number)
		next.RecoveryTimestamp = model.U64(at.Timestamp)

	case model.NodeUnstakeRequested:
		if next.UnstakeBlock != nil {
			return nil, transition("node", addr, string(status), ev.Kind())
		}
		next.UnstakeBlock = model.U64(at.Number)

	case model.NodeDeactivated:
		if at.Number < next.RegistrationBlock {
			return nil, violation("node_deactivated_before_registration", "node %s deactivated at %d, registered at %d",
				addr, at.Number, next.RegistrationBlock)
		}
		next.IsActive = false
		next.IsLive = false
		next.DeactivationBlock = model.U64(at.Number)
		next.DeactivationTimestamp = model.U64(at.Timestamp)

	case model.NodeLivenessChanged:
		next.IsLive = e.IsLive
	}

	return next, nil
}
