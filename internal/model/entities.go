package model

import "math/big"

// NodeStatus is the lifecycle state derived from an EdgeNode row.
type NodeStatus string

const (
	NodeStatusUnregistered NodeStatus = "unregistered"
	NodeStatusActive       NodeStatus = "active"
	NodeStatusFaulty       NodeStatus = "faulty"
	NodeStatusUnstaking    NodeStatus = "unstaking"
	NodeStatusDeactivated  NodeStatus = "deactivated"
)

// EdgeNode is the projected state of a registered edge node.
type EdgeNode struct {
	Address               string   `json:"address"`
	NodeType              uint8    `json:"node_type"`
	RegistrationBlock     uint64   `json:"registration_block"`
	RegistrationTimestamp uint64   `json:"registration_timestamp"`
	IsActive              bool     `json:"is_active"`
	DeactivationBlock     *uint64  `json:"deactivation_block,omitempty"`
	DeactivationTimestamp *uint64  `json:"deactivation_timestamp,omitempty"`
	IsFaulty              bool     `json:"is_faulty"`
	FaultyBlock           *uint64  `json:"faulty_block,omitempty"`
	FaultyTimestamp       *uint64  `json:"faulty_timestamp,omitempty"`
	RecoveryBlock         *uint64  `json:"recovery_block,omitempty"`
	RecoveryTimestamp     *uint64  `json:"recovery_timestamp,omitempty"`
	UnstakeBlock          *uint64  `json:"unstake_block,omitempty"`
	TotalStaked           *big.Int `json:"total_staked"`
	TotalUnstaked         *big.Int `json:"total_unstaked"`
	IsLive                bool     `json:"is_live"`
}

// Status derives the lifecycle state.
func (n *EdgeNode) Status() NodeStatus {
	switch {
	case n == nil:
		return NodeStatusUnregistered
	case !n.IsActive && n.DeactivationBlock != nil:
		return NodeStatusDeactivated
	case n.IsFaulty:
		return NodeStatusFaulty
	case n.UnstakeBlock != nil:
		return NodeStatusUnstaking
	default:
		return NodeStatusActive
	}
}

// Clone returns a deep copy.
func (n *EdgeNode) Clone() *EdgeNode {
	if n == nil {
		return nil
	}
	out := *n
	out.DeactivationBlock = cloneU64(n.DeactivationBlock)
	out.DeactivationTimestamp = cloneU64(n.DeactivationTimestamp)
	out.FaultyBlock = cloneU64(n.FaultyBlock)
	out.FaultyTimestamp = cloneU64(n.FaultyTimestamp)
	out.RecoveryBlock = cloneU64(n.RecoveryBlock)
	out.RecoveryTimestamp = cloneU64(n.RecoveryTimestamp)
	out.UnstakeBlock = cloneU64(n.UnstakeBlock)
	out.TotalStaked = CloneInt(n.TotalStaked)
	out.TotalUnstaked = CloneInt(n.TotalUnstaked)
	return &out
}

// User is the projected ledger of one token holder.
type User struct {
	Address                string   `json:"address"`
	Balance                *big.Int `json:"balance"`
	TotalDeposited         *big.Int `json:"total_deposited"`
	TotalWithdrawn         *big.Int `json:"total_withdrawn"`
	TotalMinted            *big.Int `json:"total_minted"`
	TotalBurned            *big.Int `json:"total_burned"`
	TotalTransferredIn     *big.Int `json:"total_transferred_in"`
	TotalTransferredOut    *big.Int `json:"total_transferred_out"`
	KeeperFeesEarned       *big.Int `json:"keeper_fees_earned"`
	ReferralFeesEarned     *big.Int `json:"referral_fees_earned"`
	EnteringFeesPaid       *big.Int `json:"entering_fees_paid"`
	ExitFeesPaid           *big.Int `json:"exit_fees_paid"`
	AvailableCredits       *big.Int `json:"available_credits"`
	FirstActivityBlock     uint64   `json:"first_activity_block"`
	FirstActivityTimestamp uint64   `json:"first_activity_timestamp"`
	LastActivityBlock      uint64   `json:"last_activity_block"`
	LastActivityTimestamp  uint64   `json:"last_activity_timestamp"`
}

// NewUser returns an empty ledger for address.
func NewUser(address string) *User {
	return &User{
		Address:             address,
		Balance:             Zero(),
		TotalDeposited:      Zero(),
		TotalWithdrawn:      Zero(),
		TotalMinted:         Zero(),
		TotalBurned:         Zero(),
		TotalTransferredIn:  Zero(),
		TotalTransferredOut: Zero(),
		KeeperFeesEarned:    Zero(),
		ReferralFeesEarned:  Zero(),
		EnteringFeesPaid:    Zero(),
		ExitFeesPaid:        Zero(),
		AvailableCredits:    Zero(),
	}
}

// Clone returns a deep copy.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.Balance = CloneInt(u.Balance)
	out.TotalDeposited = CloneInt(u.TotalDeposited)
	out.TotalWithdrawn = CloneInt(u.TotalWithdrawn)
	out.TotalMinted = CloneInt(u.TotalMinted)
	out.TotalBurned = CloneInt(u.TotalBurned)
	out.TotalTransferredIn = CloneInt(u.TotalTransferredIn)
	out.TotalTransferredOut = CloneInt(u.TotalTransferredOut)
	out.KeeperFeesEarned = CloneInt(u.KeeperFeesEarned)
	out.ReferralFeesEarned = CloneInt(u.ReferralFeesEarned)
	out.EnteringFeesPaid = CloneInt(u.EnteringFeesPaid)
	out.ExitFeesPaid = CloneInt(u.ExitFeesPaid)
	out.AvailableCredits = CloneInt(u.AvailableCredits)
	return &out
}

// RedemptionStatus is the lifecycle state of a queue entry.
type RedemptionStatus string

const (
	RedemptionStatusPending   RedemptionStatus = "pending"
	RedemptionStatusClaimable RedemptionStatus = "claimable"
	RedemptionStatusCredited  RedemptionStatus = "credited"
	RedemptionStatusCancelled RedemptionStatus = "cancelled"
)

// ParseRedemptionStatus validates a status name.
func ParseRedemptionStatus(value string) (RedemptionStatus, bool) {
	switch RedemptionStatus(value) {
	case RedemptionStatusPending, RedemptionStatusClaimable, RedemptionStatusCredited, RedemptionStatusCancelled:
		return RedemptionStatus(value), true
	default:
		return "", false
	}
}

// Terminal reports whether no further transitions are accepted.
func (s RedemptionStatus) Terminal() bool {
	return s == RedemptionStatusCredited || s == RedemptionStatusCancelled
}

// RedemptionEntry is one time-locked redemption request.
type RedemptionEntry struct {
	Address           string           `json:"address"`
	QueueIndex        uint64           `json:"queue_index"`
	RequestBlock      uint64           `json:"request_block"`
	RequestTimestamp  uint64           `json:"request_timestamp"`
	StfuelBurned      *big.Int         `json:"stfuel_burned"`
	TfuelExpected     *big.Int         `json:"tfuel_expected"`
	KeeperTipFee      *big.Int         `json:"keeper_tip_fee"`
	UnlockBlockNumber uint64           `json:"unlock_block_number"`
	UnlockTimestamp   *uint64          `json:"unlock_timestamp,omitempty"`
	Status            RedemptionStatus `json:"status"`
	CreditedBlock     *uint64          `json:"credited_block,omitempty"`
	CreditedTimestamp *uint64          `json:"credited_timestamp,omitempty"`
}

// Clone returns a deep copy.
func (r *RedemptionEntry) Clone() *RedemptionEntry {
	if r == nil {
		return nil
	}
	out := *r
	out.StfuelBurned = CloneInt(r.StfuelBurned)
	out.TfuelExpected = CloneInt(r.TfuelExpected)
	out.KeeperTipFee = CloneInt(r.KeeperTipFee)
	out.UnlockTimestamp = cloneU64(r.UnlockTimestamp)
	out.CreditedBlock = cloneU64(r.CreditedBlock)
	out.CreditedTimestamp = cloneU64(r.CreditedTimestamp)
	return &out
}

// ProtocolTotals are the cumulative counters captured by a snapshot.
type ProtocolTotals struct {
	TotalNodes                 int64    `json:"total_nodes"`
	ActiveNodes                int64    `json:"active_nodes"`
	FaultyNodes                int64    `json:"faulty_nodes"`
	TotalStaked                *big.Int `json:"total_staked"`
	TotalUsers                 int64    `json:"total_users"`
	TotalSupply                *big.Int `json:"total_supply"`
	TotalDeposited             *big.Int `json:"total_deposited"`
	TotalWithdrawn             *big.Int `json:"total_withdrawn"`
	TotalMinted                *big.Int `json:"total_minted"`
	TotalBurned                *big.Int `json:"total_burned"`
	TotalKeeperTipsPaid        *big.Int `json:"total_keeper_tips_paid"`
	TotalKeeperFees            *big.Int `json:"total_keeper_fees"`
	TotalReferralFees          *big.Int `json:"total_referral_fees"`
	TotalEnteringFees          *big.Int `json:"total_entering_fees"`
	TotalExitFees              *big.Int `json:"total_exit_fees"`
	PendingRedemptions         int64    `json:"pending_redemptions"`
	ClaimableRedemptions       int64    `json:"claimable_redemptions"`
	OutstandingRedemptionTfuel *big.Int `json:"outstanding_redemption_tfuel"`
}

// NewProtocolTotals returns totals with every amount set to zero.
func NewProtocolTotals() ProtocolTotals {
	return ProtocolTotals{
		TotalStaked:                Zero(),
		TotalSupply:                Zero(),
		TotalDeposited:             Zero(),
		TotalWithdrawn:             Zero(),
		TotalMinted:                Zero(),
		TotalBurned:                Zero(),
		TotalKeeperTipsPaid:        Zero(),
		TotalKeeperFees:            Zero(),
		TotalReferralFees:          Zero(),
		TotalEnteringFees:          Zero(),
		TotalExitFees:              Zero(),
		OutstandingRedemptionTfuel: Zero(),
	}
}

// MonotoneCounters returns the counters that must never decrease between snapshots.
func (t ProtocolTotals) MonotoneCounters() map[string]*big.Int {
	return map[string]*big.Int{
		"total_deposited":        t.TotalDeposited,
		"total_withdrawn":        t.TotalWithdrawn,
		"total_minted":           t.TotalMinted,
		"total_burned":           t.TotalBurned,
		"total_keeper_tips_paid": t.TotalKeeperTipsPaid,
		"total_keeper_fees":      t.TotalKeeperFees,
		"total_referral_fees":    t.TotalReferralFees,
		"total_entering_fees":    t.TotalEnteringFees,
		"total_exit_fees":        t.TotalExitFees,
		"total_users":            big.NewInt(t.TotalUsers),
		"total_nodes":            big.NewInt(t.TotalNodes),
	}
}

// HourlySnapshot is an immutable rollup keyed by its hour boundary (unix seconds).
type HourlySnapshot struct {
	SnapshotTimestamp uint64 `json:"snapshot_timestamp"`
	BlockNumber       uint64 `json:"block_number"`
	ProtocolTotals
}
