package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"stakeScope/internal/model"
)

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) FindRawEvent(ctx context.Context, contract model.Contract, blockNumber, logIndex uint64) (*model.RawEvent, error) {
	table, err := rawTable(contract)
	if err != nil {
		return nil, err
	}
	ev, err := scanRawEvent(t.tx.QueryRow(ctx, fmt.Sprintf(`
		SELECT %s FROM %s WHERE block_number = $1 AND log_index = $2
	`, rawEventColumns, table), int64(blockNumber), int64(logIndex)), contract)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return ev, nil
}

// InsertRawEvent relies on the table's unique keys; a conflicting row is left untouched.
func (t *pgTx) InsertRawEvent(ctx context.Context, ev *model.RawEvent) (bool, error) {
	table, err := rawTable(ev.Contract)
	if err != nil {
		return false, err
	}
	args, err := json.Marshal(ev.Args)
	if err != nil {
		return false, fmt.Errorf("encode args: %w", err)
	}
	var id int64
	err = t.tx.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s (
			contract_address, event_name, args, block_number, block_hash,
			transaction_hash, transaction_index, log_index, block_timestamp, created_at
		) VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9, now())
		ON CONFLICT DO NOTHING
		RETURNING id
	`, table),
		ev.ContractAddress, ev.EventName, string(args), int64(ev.BlockNumber), ev.BlockHash,
		ev.TxHash, int64(ev.TxIndex), int64(ev.LogIndex), int64(ev.BlockTimestamp),
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert %s: %w", table, err)
	}
	ev.ID = id
	return true, nil
}

func (t *pgTx) EnsureAddress(ctx context.Context, address string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO addresses (address, created_at) VALUES ($1, now())
		ON CONFLICT (address) DO NOTHING
	`, address)
	if err != nil {
		return fmt.Errorf("ensure address %s: %w", address, err)
	}
	return nil
}

func (t *pgTx) EdgeNode(ctx context.Context, address string) (*model.EdgeNode, error) {
	node, err := scanEdgeNode(t.tx.QueryRow(ctx, `
		SELECT `+edgeNodeColumns+`
		FROM edge_nodes n JOIN addresses a ON a.id = n.address_id
		WHERE a.address = $1
		FOR UPDATE OF n
	`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return node, nil
}

func (t *pgTx) SaveEdgeNode(ctx context.Context, n *model.EdgeNode) error {
	if err := t.EnsureAddress(ctx, n.Address); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO edge_nodes (
			address_id, node_type, registration_block, registration_timestamp, is_active,
			deactivation_block, deactivation_timestamp, is_faulty, faulty_block, faulty_timestamp,
			recovery_block, recovery_timestamp, unstake_block, total_staked, total_unstaked, is_live, updated_at
		)
		SELECT a.id, $2::smallint, $3::bigint, $4::bigint, $5::boolean,
			$6::bigint, $7::bigint, $8::boolean, $9::bigint, $10::bigint,
			$11::bigint, $12::bigint, $13::bigint, $14::numeric, $15::numeric, $16::boolean, now()
		FROM addresses a WHERE a.address = $1
		ON CONFLICT (address_id) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			registration_block = EXCLUDED.registration_block,
			registration_timestamp = EXCLUDED.registration_timestamp,
			is_active = EXCLUDED.is_active,
			deactivation_block = EXCLUDED.deactivation_block,
			deactivation_timestamp = EXCLUDED.deactivation_timestamp,
			is_faulty = EXCLUDED.is_faulty,
			faulty_block = EXCLUDED.faulty_block,
			faulty_timestamp = EXCLUDED.faulty_timestamp,
			recovery_block = EXCLUDED.recovery_block,
			recovery_timestamp = EXCLUDED.recovery_timestamp,
			unstake_block = EXCLUDED.unstake_block,
			total_staked = EXCLUDED.total_staked,
			total_unstaked = EXCLUDED.total_unstaked,
			is_live = EXCLUDED.is_live,
			updated_at = now()
	`,
		n.Address, int16(n.NodeType), int64(n.RegistrationBlock), int64(n.RegistrationTimestamp), n.IsActive,
		nullable(n.DeactivationBlock), nullable(n.DeactivationTimestamp), n.IsFaulty, nullable(n.FaultyBlock), nullable(n.FaultyTimestamp),
		nullable(n.RecoveryBlock), nullable(n.RecoveryTimestamp), nullable(n.UnstakeBlock),
		numeric(n.TotalStaked), numeric(n.TotalUnstaked), n.IsLive,
	)
	if err != nil {
		return fmt.Errorf("save edge node %s: %w", n.Address, err)
	}
	return nil
}

func (t *pgTx) User(ctx context.Context, address string) (*model.User, error) {
	user, err := scanUser(t.tx.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN addresses a ON a.id = u.address_id
		WHERE a.address = $1
		FOR UPDATE OF u
	`, address))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

func (t *pgTx) SaveUser(ctx context.Context, u *model.User) error {
	if err := t.EnsureAddress(ctx, u.Address); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (
			address_id, balance, total_deposited, total_withdrawn, total_minted, total_burned,
			total_transferred_in, total_transferred_out, keeper_fees_earned, referral_fees_earned,
			entering_fees_paid, exit_fees_paid, available_credits,
			first_activity_block, first_activity_timestamp, last_activity_block, last_activity_timestamp, updated_at
		)
		SELECT a.id, $2::numeric, $3::numeric, $4::numeric, $5::numeric, $6::numeric,
			$7::numeric, $8::numeric, $9::numeric, $10::numeric,
			$11::numeric, $12::numeric, $13::numeric,
			$14::bigint, $15::bigint, $16::bigint, $17::bigint, now()
		FROM addresses a WHERE a.address = $1
		ON CONFLICT (address_id) DO UPDATE SET
			balance = EXCLUDED.balance,
			total_deposited = EXCLUDED.total_deposited,
			total_withdrawn = EXCLUDED.total_withdrawn,
			total_minted = EXCLUDED.total_minted,
			total_burned = EXCLUDED.total_burned,
			total_transferred_in = EXCLUDED.total_transferred_in,
			total_transferred_out = EXCLUDED.total_transferred_out,
			keeper_fees_earned = EXCLUDED.keeper_fees_earned,
			referral_fees_earned = EXCLUDED.referral_fees_earned,
			entering_fees_paid = EXCLUDED.entering_fees_paid,
			exit_fees_paid = EXCLUDED.exit_fees_paid,
			available_credits = EXCLUDED.available_credits,
			first_activity_block = EXCLUDED.first_activity_block,
			first_activity_timestamp = EXCLUDED.first_activity_timestamp,
			last_activity_block = EXCLUDED.last_activity_block,
			last_activity_timestamp = EXCLUDED.last_activity_timestamp,
			updated_at = now()
	`,
		u.Address, numeric(u.Balance), numeric(u.TotalDeposited), numeric(u.TotalWithdrawn), numeric(u.TotalMinted), numeric(u.TotalBurned),
		numeric(u.TotalTransferredIn), numeric(u.TotalTransferredOut), numeric(u.KeeperFeesEarned), numeric(u.ReferralFeesEarned),
		numeric(u.EnteringFeesPaid), numeric(u.ExitFeesPaid), numeric(u.AvailableCredits),
		int64(u.FirstActivityBlock), int64(u.FirstActivityTimestamp), int64(u.LastActivityBlock), int64(u.LastActivityTimestamp),
	)
	if err != nil {
		return fmt.Errorf("save user %s: %w", u.Address, err)
	}
	return nil
}

func (t *pgTx) Redemption(ctx context.Context, queueIndex uint64) (*model.RedemptionEntry, error) {
	entry, err := scanRedemption(t.tx.QueryRow(ctx, `
		SELECT `+redemptionColumns+`
		FROM redemption_queue r JOIN addresses a ON a.id = r.address_id
		WHERE r.queue_index = $1
		FOR UPDATE OF r
	`, int64(queueIndex)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (t *pgTx) MaxQueueIndex(ctx context.Context) (uint64, bool, error) {
	var highest *int64
	if err := t.tx.QueryRow(ctx, `SELECT max(queue_index) FROM redemption_queue`).Scan(&highest); err != nil {
		return 0, false, err
	}
	if highest == nil {
		return 0, false, nil
	}
	return uint64(*highest), true, nil
}

func (t *pgTx) OldestClaimable(ctx context.Context) (*model.RedemptionEntry, error) {
	entry, err := scanRedemption(t.tx.QueryRow(ctx, `
		SELECT `+redemptionColumns+`
		FROM redemption_queue r JOIN addresses a ON a.id = r.address_id
		WHERE r.status = 'claimable'
		ORDER BY r.queue_index
		LIMIT 1
	`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return entry, nil
}

func (t *pgTx) MaturedRedemptions(ctx context.Context, blockNumber uint64) ([]*model.RedemptionEntry, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+redemptionColumns+`
		FROM redemption_queue r JOIN addresses a ON a.id = r.address_id
		WHERE r.status = 'pending' AND r.unlock_block_number <= $1
		ORDER BY r.queue_index
		FOR UPDATE OF r
	`, int64(blockNumber))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*model.RedemptionEntry, 0)
	for rows.Next() {
		entry, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

func (t *pgTx) SaveRedemption(ctx context.Context, r *model.RedemptionEntry) error {
	if err := t.EnsureAddress(ctx, r.Address); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO redemption_queue (
			queue_index, address_id, request_block, request_timestamp,
			stfuel_burned, tfuel_expected, keeper_tip_fee,
			unlock_block_number, unlock_timestamp, status, credited_block, credited_timestamp, updated_at
		)
		SELECT $1::bigint, a.id, $3::bigint, $4::bigint, $5::numeric, $6::numeric, $7::numeric,
			$8::bigint, $9::bigint, $10::text, $11::bigint, $12::bigint, now()
		FROM addresses a WHERE a.address = $2
		ON CONFLICT (queue_index) DO UPDATE SET
			unlock_timestamp = EXCLUDED.unlock_timestamp,
			status = EXCLUDED.status,
			credited_block = EXCLUDED.credited_block,
			credited_timestamp = EXCLUDED.credited_timestamp,
			updated_at = now()
	`,
		int64(r.QueueIndex), r.Address, int64(r.RequestBlock), int64(r.RequestTimestamp),
		numeric(r.StfuelBurned), numeric(r.TfuelExpected), numeric(r.KeeperTipFee),
		int64(r.UnlockBlockNumber), nullable(r.UnlockTimestamp), string(r.Status), nullable(r.CreditedBlock), nullable(r.CreditedTimestamp),
	)
	if err != nil {
		return fmt.Errorf("save redemption %d: %w", r.QueueIndex, err)
	}
	return nil
}

func (t *pgTx) RecordViolation(ctx context.Context, v model.Violation) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO violations (contract, event_name, block_number, transaction_hash, log_index, rule, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
	`, string(v.Contract), v.EventName, int64(v.BlockNumber), v.TxHash, int64(v.LogIndex), v.Rule, v.Detail)
	if err != nil {
		return fmt.Errorf("record violation: %w", err)
	}
	return nil
}

func (t *pgTx) AdvanceCursor(ctx context.Context, cursor model.Cursor) error {
	return advanceCursor(ctx, t.tx, cursor)
}

func (t *pgTx) DeleteRawEventsFrom(ctx context.Context, blockNumber uint64) (int64, error) {
	var deleted int64
	for _, contract := range model.Contracts {
		table, err := rawTable(contract)
		if err != nil {
			return deleted, err
		}
		tag, err := t.tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE block_number >= $1`, table), int64(blockNumber))
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", table, err)
		}
		deleted += tag.RowsAffected()
	}
	return deleted, nil
}

func (t *pgTx) DeleteSnapshotsFrom(ctx context.Context, blockNumber uint64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM hourly_snapshots WHERE block_number >= $1`, int64(blockNumber))
	if err != nil {
		return 0, fmt.Errorf("delete snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) ResetProjection(ctx context.Context) error {
	for _, table := range []string{"redemption_queue", "users", "edge_nodes", "violations"} {
		if _, err := t.tx.Exec(ctx, `DELETE FROM `+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return nil
}

func (t *pgTx) RawEventsAfter(ctx context.Context, after *model.Coord, limit int) ([]model.RawEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	// (-1, -1, -1) sorts before every real coordinate.
	from := [3]int64{-1, -1, -1}
	if after != nil {
		from = [3]int64{int64(after.BlockNumber), int64(after.TxIndex), int64(after.LogIndex)}
	}
	rows, err := t.tx.Query(ctx, `
		SELECT contract, `+rawEventColumns+` FROM (
			SELECT 'node_manager' AS contract, `+rawEventColumns+` FROM node_manager_events
			WHERE (block_number, transaction_index, log_index) > ($1, $2, $3)
			UNION ALL
			SELECT 'token' AS contract, `+rawEventColumns+` FROM token_events
			WHERE (block_number, transaction_index, log_index) > ($1, $2, $3)
		) e
		ORDER BY block_number, transaction_index, log_index
		LIMIT $4
	`, from[0], from[1], from[2], limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.RawEvent, 0)
	for rows.Next() {
		var (
			ev                           model.RawEvent
			contract                     string
			block, txIndex, logIndex, ts int64
		)
		if err := rows.Scan(
			&contract, &ev.ID, &ev.ContractAddress, &ev.EventName, &ev.Args, &block, &ev.BlockHash,
			&ev.TxHash, &txIndex, &logIndex, &ts,
		); err != nil {
			return nil, err
		}
		ev.Contract = model.Contract(contract)
		ev.BlockNumber = uint64(block)
		ev.TxIndex = uint64(txIndex)
		ev.LogIndex = uint64(logIndex)
		ev.BlockTimestamp = uint64(ts)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (t *pgTx) RewindCursors(ctx context.Context, blockNumber uint64) error {
	var rewound int64
	if blockNumber > 0 {
		rewound = int64(blockNumber) - 1
	}
	_, err := t.tx.Exec(ctx, `
		UPDATE ingest_cursors
		SET block_number = $1, block_hash = '', block_timestamp = 0, updated_at = now()
		WHERE block_number >= $2
	`, rewound, int64(blockNumber))
	if err != nil {
		return fmt.Errorf("rewind cursors: %w", err)
	}
	return nil
}
