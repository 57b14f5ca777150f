package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"stakeScope/internal/model"
	"stakeScope/internal/storage"
)

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}

func (s *Store) GetEdgeNode(ctx context.Context, address string) (*model.EdgeNode, error) {
	node, err := scanEdgeNode(s.pool.QueryRow(ctx, `
		SELECT `+edgeNodeColumns+`
		FROM edge_nodes n JOIN addresses a ON a.id = n.address_id
		WHERE a.address = $1
	`, address))
	if err != nil {
		return nil, notFound(err)
	}
	return node, nil
}

func (s *Store) GetUser(ctx context.Context, address string) (*model.User, error) {
	user, err := scanUser(s.pool.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users u JOIN addresses a ON a.id = u.address_id
		WHERE a.address = $1
	`, address))
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (s *Store) ListRedemptions(ctx context.Context, address string, status model.RedemptionStatus) ([]model.RedemptionEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+redemptionColumns+`
		FROM redemption_queue r JOIN addresses a ON a.id = r.address_id
		WHERE ($1 = '' OR a.address = $1) AND ($2 = '' OR r.status = $2)
		ORDER BY r.queue_index
	`, address, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.RedemptionEntry, 0)
	for rows.Next() {
		entry, err := scanRedemption(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *entry)
	}
	return out, rows.Err()
}

func (s *Store) GetSnapshot(ctx context.Context, ts uint64) (*model.HourlySnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+` FROM hourly_snapshots WHERE snapshot_timestamp = $1
	`, hourTime(ts)))
	if err != nil {
		return nil, notFound(err)
	}
	return snap, nil
}

func (s *Store) LatestSnapshot(ctx context.Context) (*model.HourlySnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, `
		SELECT `+snapshotColumns+` FROM hourly_snapshots ORDER BY snapshot_timestamp DESC LIMIT 1
	`))
	if err != nil {
		return nil, notFound(err)
	}
	return snap, nil
}

func (s *Store) ListSnapshots(ctx context.Context, from, to uint64) ([]model.HourlySnapshot, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+snapshotColumns+`
		FROM hourly_snapshots
		WHERE snapshot_timestamp BETWEEN $1 AND $2
		ORDER BY snapshot_timestamp
	`, hourTime(from), hourTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.HourlySnapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *snap)
	}
	return out, rows.Err()
}

// ListViolations returns the most recent violations in insertion order.
func (s *Store) ListViolations(ctx context.Context, limit int) ([]model.Violation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT contract, event_name, block_number, transaction_hash, log_index, rule, detail
		FROM (
			SELECT * FROM violations ORDER BY id DESC LIMIT $1
		) v
		ORDER BY id
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]model.Violation, 0)
	for rows.Next() {
		var (
			v               model.Violation
			contract        string
			block, logIndex int64
		)
		if err := rows.Scan(&contract, &v.EventName, &block, &v.TxHash, &logIndex, &v.Rule, &v.Detail); err != nil {
			return nil, err
		}
		v.Contract = model.Contract(contract)
		v.BlockNumber = uint64(block)
		v.LogIndex = uint64(logIndex)
		out = append(out, v)
	}
	return out, rows.Err()
}
