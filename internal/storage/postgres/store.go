package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"stakeScope/internal/model"
	"stakeScope/internal/storage"
)

//go:embed schema.sql
var schemaSQL string

// querier is satisfied by both the pool and an open transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides Postgres persistence for the raw event log and the projection.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Retryable reports whether err is a transient database failure worth retrying.
func Retryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "40", "08", "53", "57":
			return true
		}
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return pgconn.SafeToRetry(err) || pgconn.Timeout(err)
}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	return pgx.BeginFunc(ctx, s.pool, func(t pgx.Tx) error {
		return fn(&pgTx{tx: t})
	})
}

func (s *Store) Cursor(ctx context.Context, contract model.Contract) (model.Cursor, bool, error) {
	var block, ts int64
	cursor := model.Cursor{Contract: contract}
	row := s.pool.QueryRow(ctx, `
		SELECT block_number, block_hash, block_timestamp FROM ingest_cursors WHERE contract=$1
	`, string(contract))
	if err := row.Scan(&block, &cursor.BlockHash, &ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return cursor, false, nil
		}
		return cursor, false, err
	}
	cursor.BlockNumber = uint64(block)
	cursor.BlockTimestamp = uint64(ts)
	return cursor, true, nil
}

func (s *Store) SaveCursor(ctx context.Context, cursor model.Cursor) error {
	return advanceCursor(ctx, s.pool, cursor)
}

func advanceCursor(ctx context.Context, q querier, cursor model.Cursor) error {
	_, err := q.Exec(ctx, `
		INSERT INTO ingest_cursors (contract, block_number, block_hash, block_timestamp, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (contract) DO UPDATE SET
			block_number = EXCLUDED.block_number,
			block_hash = CASE
				WHEN EXCLUDED.block_hash = '' AND ingest_cursors.block_number = EXCLUDED.block_number
				THEN ingest_cursors.block_hash
				ELSE EXCLUDED.block_hash
			END,
			block_timestamp = EXCLUDED.block_timestamp,
			updated_at = now()
		WHERE ingest_cursors.block_number <= EXCLUDED.block_number
	`, string(cursor.Contract), int64(cursor.BlockNumber), cursor.BlockHash, int64(cursor.BlockTimestamp))
	if err != nil {
		return fmt.Errorf("advance cursor %s: %w", cursor.Contract, err)
	}
	return nil
}

func (s *Store) RecordedBlocks(ctx context.Context, contract model.Contract, below uint64, limit int) ([]model.BlockRef, error) {
	table, err := rawTable(contract)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT block_number, max(block_hash), max(block_timestamp)
		FROM %s
		WHERE block_number < $1
		GROUP BY block_number
		ORDER BY block_number DESC
		LIMIT $2
	`, table), int64(below), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.BlockRef, 0)
	for rows.Next() {
		var block, ts int64
		var ref model.BlockRef
		if err := rows.Scan(&block, &ref.Hash, &ts); err != nil {
			return nil, err
		}
		ref.Number = uint64(block)
		ref.Timestamp = uint64(ts)
		out = append(out, ref)
	}
	return out, rows.Err()
}

func (s *Store) Watermark(ctx context.Context, contracts []model.Contract) (uint64, bool, error) {
	if len(contracts) == 0 {
		return 0, false, nil
	}
	names := make([]string, 0, len(contracts))
	for _, c := range contracts {
		names = append(names, string(c))
	}
	var (
		found int
		low   *int64
	)
	row := s.pool.QueryRow(ctx, `
		SELECT count(*), min(block_timestamp) FROM ingest_cursors WHERE contract = ANY($1)
	`, names)
	if err := row.Scan(&found, &low); err != nil {
		return 0, false, err
	}
	if found < len(names) || low == nil {
		return 0, false, nil
	}
	return uint64(*low), true, nil
}

// Totals aggregates the projection inside one read-only snapshot transaction.
func (s *Store) Totals(ctx context.Context) (model.ProtocolTotals, error) {
	totals := model.NewProtocolTotals()
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var staked string
		if err := tx.QueryRow(ctx, `
			SELECT count(*),
				count(*) FILTER (WHERE is_active),
				count(*) FILTER (WHERE is_faulty),
				COALESCE(sum(total_staked - total_unstaked), 0)::text
			FROM edge_nodes
		`).Scan(&totals.TotalNodes, &totals.ActiveNodes, &totals.FaultyNodes, &staked); err != nil {
			return fmt.Errorf("node totals: %w", err)
		}

		var users [9]string
		if err := tx.QueryRow(ctx, `
			SELECT count(*),
				COALESCE(sum(balance), 0)::text,
				COALESCE(sum(total_deposited), 0)::text,
				COALESCE(sum(total_withdrawn), 0)::text,
				COALESCE(sum(total_minted), 0)::text,
				COALESCE(sum(total_burned), 0)::text,
				COALESCE(sum(keeper_fees_earned), 0)::text,
				COALESCE(sum(referral_fees_earned), 0)::text,
				COALESCE(sum(entering_fees_paid), 0)::text,
				COALESCE(sum(exit_fees_paid), 0)::text
			FROM users
		`).Scan(&totals.TotalUsers, &users[0], &users[1], &users[2], &users[3], &users[4],
			&users[5], &users[6], &users[7], &users[8]); err != nil {
			return fmt.Errorf("user totals: %w", err)
		}

		var tips, outstanding string
		if err := tx.QueryRow(ctx, `
			SELECT COALESCE(sum(keeper_tip_fee) FILTER (WHERE status = 'credited'), 0)::text,
				count(*) FILTER (WHERE status = 'pending'),
				count(*) FILTER (WHERE status = 'claimable'),
				COALESCE(sum(tfuel_expected) FILTER (WHERE status IN ('pending', 'claimable')), 0)::text
			FROM redemption_queue
		`).Scan(&tips, &totals.PendingRedemptions, &totals.ClaimableRedemptions, &outstanding); err != nil {
			return fmt.Errorf("redemption totals: %w", err)
		}

		return parseAmounts([]amountScan{
			{&totals.TotalStaked, staked},
			{&totals.TotalSupply, users[0]},
			{&totals.TotalDeposited, users[1]},
			{&totals.TotalWithdrawn, users[2]},
			{&totals.TotalMinted, users[3]},
			{&totals.TotalBurned, users[4]},
			{&totals.TotalKeeperFees, users[5]},
			{&totals.TotalReferralFees, users[6]},
			{&totals.TotalEnteringFees, users[7]},
			{&totals.TotalExitFees, users[8]},
			{&totals.TotalKeeperTipsPaid, tips},
			{&totals.OutstandingRedemptionTfuel, outstanding},
		})
	})
	return totals, err
}

func (s *Store) BlockAtOrBefore(ctx context.Context, ts uint64) (uint64, error) {
	var block int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(max(block_number), 0) FROM (
			SELECT max(block_number) AS block_number FROM node_manager_events WHERE block_timestamp <= $1
			UNION ALL
			SELECT max(block_number) FROM token_events WHERE block_timestamp <= $1
		) b
	`, int64(ts))
	if err := row.Scan(&block); err != nil {
		return 0, err
	}
	return uint64(block), nil
}

func (s *Store) FirstEventTimestamp(ctx context.Context) (uint64, bool, error) {
	var first *int64
	row := s.pool.QueryRow(ctx, `
		SELECT min(block_timestamp) FROM (
			SELECT min(block_timestamp) AS block_timestamp FROM node_manager_events
			UNION ALL
			SELECT min(block_timestamp) FROM token_events
		) t
	`)
	if err := row.Scan(&first); err != nil {
		return 0, false, err
	}
	if first == nil {
		return 0, false, nil
	}
	return uint64(*first), true, nil
}

// InsertSnapshot writes a snapshot once; an existing row for the hour wins.
func (s *Store) InsertSnapshot(ctx context.Context, snap model.HourlySnapshot) (bool, error) {
	t := snap.ProtocolTotals
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO hourly_snapshots (
			snapshot_timestamp, block_number, total_nodes, active_nodes, faulty_nodes,
			total_staked, total_users, total_supply, total_deposited, total_withdrawn,
			total_minted, total_burned, total_keeper_tips_paid, total_keeper_fees,
			total_referral_fees, total_entering_fees, total_exit_fees,
			pending_redemptions, claimable_redemptions, outstanding_redemption_tfuel, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6::numeric, $7, $8::numeric, $9::numeric, $10::numeric,
			$11::numeric, $12::numeric, $13::numeric, $14::numeric,
			$15::numeric, $16::numeric, $17::numeric,
			$18, $19, $20::numeric, now()
		)
		ON CONFLICT (snapshot_timestamp) DO NOTHING
	`,
		hourTime(snap.SnapshotTimestamp), int64(snap.BlockNumber), t.TotalNodes, t.ActiveNodes, t.FaultyNodes,
		numeric(t.TotalStaked), t.TotalUsers, numeric(t.TotalSupply), numeric(t.TotalDeposited), numeric(t.TotalWithdrawn),
		numeric(t.TotalMinted), numeric(t.TotalBurned), numeric(t.TotalKeeperTipsPaid), numeric(t.TotalKeeperFees),
		numeric(t.TotalReferralFees), numeric(t.TotalEnteringFees), numeric(t.TotalExitFees),
		t.PendingRedemptions, t.ClaimableRedemptions, numeric(t.OutstandingRedemptionTfuel),
	)
	if err != nil {
		return false, fmt.Errorf("insert snapshot: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts int64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM indexer_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return uint64(ts), true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO indexer_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, int64(ts))
	return err
}
