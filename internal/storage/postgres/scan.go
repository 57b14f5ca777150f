package postgres

import (
	"fmt"
	"math/big"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"stakeScope/internal/model"
)

// Amounts travel as decimal text: written through $n::numeric, read as col::text.
func numeric(v *big.Int) string {
	return model.CloneInt(v).String()
}

func nullable(v *uint64) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func fromNullable(v pgtype.Int8) *uint64 {
	if !v.Valid {
		return nil
	}
	return model.U64(uint64(v.Int64))
}

func hourTime(ts uint64) time.Time {
	return time.Unix(int64(ts), 0).UTC()
}

type amountScan struct {
	target **big.Int
	text   string
}

// parseAmounts converts scanned decimal text into the target amounts.
func parseAmounts(scans []amountScan) error {
	for _, s := range scans {
		v, err := model.ParseAmount(s.text)
		if err != nil {
			return fmt.Errorf("parse numeric: %w", err)
		}
		*s.target = v
	}
	return nil
}

const edgeNodeColumns = `
	a.address, n.node_type, n.registration_block, n.registration_timestamp, n.is_active,
	n.deactivation_block, n.deactivation_timestamp, n.is_faulty, n.faulty_block, n.faulty_timestamp,
	n.recovery_block, n.recovery_timestamp, n.unstake_block,
	n.total_staked::text, n.total_unstaked::text, n.is_live`

func scanEdgeNode(row pgx.Row) (*model.EdgeNode, error) {
	var (
		n                                  model.EdgeNode
		nodeType                           int16
		regBlock, regTs                    int64
		deactBlock, deactTs                pgtype.Int8
		faultyBlock, faultyTs              pgtype.Int8
		recoveryBlock, recoveryTs, unstake pgtype.Int8
		staked, unstaked                   string
	)
	if err := row.Scan(
		&n.Address, &nodeType, &regBlock, &regTs, &n.IsActive,
		&deactBlock, &deactTs, &n.IsFaulty, &faultyBlock, &faultyTs,
		&recoveryBlock, &recoveryTs, &unstake,
		&staked, &unstaked, &n.IsLive,
	); err != nil {
		return nil, err
	}
	n.NodeType = uint8(nodeType)
	n.RegistrationBlock = uint64(regBlock)
	n.RegistrationTimestamp = uint64(regTs)
	n.DeactivationBlock = fromNullable(deactBlock)
	n.DeactivationTimestamp = fromNullable(deactTs)
	n.FaultyBlock = fromNullable(faultyBlock)
	n.FaultyTimestamp = fromNullable(faultyTs)
	n.RecoveryBlock = fromNullable(recoveryBlock)
	n.RecoveryTimestamp = fromNullable(recoveryTs)
	n.UnstakeBlock = fromNullable(unstake)
	if err := parseAmounts([]amountScan{
		{&n.TotalStaked, staked},
		{&n.TotalUnstaked, unstaked},
	}); err != nil {
		return nil, err
	}
	return &n, nil
}

const userColumns = `
	a.address, u.balance::text, u.total_deposited::text, u.total_withdrawn::text,
	u.total_minted::text, u.total_burned::text, u.total_transferred_in::text, u.total_transferred_out::text,
	u.keeper_fees_earned::text, u.referral_fees_earned::text, u.entering_fees_paid::text, u.exit_fees_paid::text,
	u.available_credits::text, u.first_activity_block, u.first_activity_timestamp,
	u.last_activity_block, u.last_activity_timestamp`

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u                                      model.User
		amounts                                [12]string
		firstBlock, firstTs, lastBlock, lastTs int64
	)
	if err := row.Scan(
		&u.Address, &amounts[0], &amounts[1], &amounts[2],
		&amounts[3], &amounts[4], &amounts[5], &amounts[6],
		&amounts[7], &amounts[8], &amounts[9], &amounts[10],
		&amounts[11], &firstBlock, &firstTs,
		&lastBlock, &lastTs,
	); err != nil {
		return nil, err
	}
	if err := parseAmounts([]amountScan{
		{&u.Balance, amounts[0]},
		{&u.TotalDeposited, amounts[1]},
		{&u.TotalWithdrawn, amounts[2]},
		{&u.TotalMinted, amounts[3]},
		{&u.TotalBurned, amounts[4]},
		{&u.TotalTransferredIn, amounts[5]},
		{&u.TotalTransferredOut, amounts[6]},
		{&u.KeeperFeesEarned, amounts[7]},
		{&u.ReferralFeesEarned, amounts[8]},
		{&u.EnteringFeesPaid, amounts[9]},
		{&u.ExitFeesPaid, amounts[10]},
		{&u.AvailableCredits, amounts[11]},
	}); err != nil {
		return nil, err
	}
	u.FirstActivityBlock = uint64(firstBlock)
	u.FirstActivityTimestamp = uint64(firstTs)
	u.LastActivityBlock = uint64(lastBlock)
	u.LastActivityTimestamp = uint64(lastTs)
	return &u, nil
}

const redemptionColumns = `
	a.address, r.queue_index, r.request_block, r.request_timestamp,
	r.stfuel_burned::text, r.tfuel_expected::text, r.keeper_tip_fee::text,
	r.unlock_block_number, r.unlock_timestamp, r.status, r.credited_block, r.credited_timestamp`

func scanRedemption(row pgx.Row) (*model.RedemptionEntry, error) {
	var (
		r                                 model.RedemptionEntry
		queueIndex, reqBlock, reqTs       int64
		burned, expected, tip             string
		unlockBlock                       int64
		unlockTs, creditedBlk, creditedTs pgtype.Int8
		status                            string
	)
	if err := row.Scan(
		&r.Address, &queueIndex, &reqBlock, &reqTs,
		&burned, &expected, &tip,
		&unlockBlock, &unlockTs, &status, &creditedBlk, &creditedTs,
	); err != nil {
		return nil, err
	}
	parsed, ok := model.ParseRedemptionStatus(status)
	if !ok {
		return nil, fmt.Errorf("unknown redemption status %q", status)
	}
	r.Status = parsed
	r.QueueIndex = uint64(queueIndex)
	r.RequestBlock = uint64(reqBlock)
	r.RequestTimestamp = uint64(reqTs)
	r.UnlockBlockNumber = uint64(unlockBlock)
	r.UnlockTimestamp = fromNullable(unlockTs)
	r.CreditedBlock = fromNullable(creditedBlk)
	r.CreditedTimestamp = fromNullable(creditedTs)
	if err := parseAmounts([]amountScan{
		{&r.StfuelBurned, burned},
		{&r.TfuelExpected, expected},
		{&r.KeeperTipFee, tip},
	}); err != nil {
		return nil, err
	}
	return &r, nil
}

const snapshotColumns = `
	snapshot_timestamp, block_number, total_nodes, active_nodes, faulty_nodes,
	total_staked::text, total_users, total_supply::text, total_deposited::text, total_withdrawn::text,
	total_minted::text, total_burned::text, total_keeper_tips_paid::text, total_keeper_fees::text,
	total_referral_fees::text, total_entering_fees::text, total_exit_fees::text,
	pending_redemptions, claimable_redemptions, outstanding_redemption_tfuel::text`

func scanSnapshot(row pgx.Row) (*model.HourlySnapshot, error) {
	var (
		snap    model.HourlySnapshot
		at      time.Time
		block   int64
		amounts [12]string
	)
	t := &snap.ProtocolTotals
	if err := row.Scan(
		&at, &block, &t.TotalNodes, &t.ActiveNodes, &t.FaultyNodes,
		&amounts[0], &t.TotalUsers, &amounts[1], &amounts[2], &amounts[3],
		&amounts[4], &amounts[5], &amounts[6], &amounts[7],
		&amounts[8], &amounts[9], &amounts[10],
		&t.PendingRedemptions, &t.ClaimableRedemptions, &amounts[11],
	); err != nil {
		return nil, err
	}
	snap.SnapshotTimestamp = uint64(at.Unix())
	snap.BlockNumber = uint64(block)
	if err := parseAmounts([]amountScan{
		{&t.TotalStaked, amounts[0]},
		{&t.TotalSupply, amounts[1]},
		{&t.TotalDeposited, amounts[2]},
		{&t.TotalWithdrawn, amounts[3]},
		{&t.TotalMinted, amounts[4]},
		{&t.TotalBurned, amounts[5]},
		{&t.TotalKeeperTipsPaid, amounts[6]},
		{&t.TotalKeeperFees, amounts[7]},
		{&t.TotalReferralFees, amounts[8]},
		{&t.TotalEnteringFees, amounts[9]},
		{&t.TotalExitFees, amounts[10]},
		{&t.OutstandingRedemptionTfuel, amounts[11]},
	}); err != nil {
		return nil, err
	}
	return &snap, nil
}

const rawEventColumns = `
	id, contract_address, event_name, args, block_number, block_hash,
	transaction_hash, transaction_index, log_index, block_timestamp`

func scanRawEvent(row pgx.Row, contract model.Contract) (*model.RawEvent, error) {
	var (
		ev                           model.RawEvent
		block, txIndex, logIndex, ts int64
	)
	if err := row.Scan(
		&ev.ID, &ev.ContractAddress, &ev.EventName, &ev.Args, &block, &ev.BlockHash,
		&ev.TxHash, &txIndex, &logIndex, &ts,
	); err != nil {
		return nil, err
	}
	ev.Contract = contract
	ev.BlockNumber = uint64(block)
	ev.TxIndex = uint64(txIndex)
	ev.LogIndex = uint64(logIndex)
	ev.BlockTimestamp = uint64(ts)
	return &ev, nil
}

func rawTable(contract model.Contract) (string, error) {
	switch contract {
	case model.ContractNodeManager:
		return "node_manager_events", nil
	case model.ContractToken:
		return "token_events", nil
	default:
		return "", fmt.Errorf("unknown contract: %s", contract)
	}
}
