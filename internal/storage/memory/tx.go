package memory

import (
	"context"
	"sort"

	"stakeScope/internal/model"
)

type tx struct {
	d    *data
	undo []func()
}

func (t *tx) onRollback(fn func()) {
	t.undo = append(t.undo, fn)
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *tx) FindRawEvent(_ context.Context, contract model.Contract, blockNumber, logIndex uint64) (*model.RawEvent, error) {
	ev, ok := t.d.raw[contract][rawKey{block: blockNumber, logIndex: logIndex}]
	if !ok {
		return nil, nil
	}
	ev.Args = append([]string(nil), ev.Args...)
	return &ev, nil
}

func (t *tx) InsertRawEvent(_ context.Context, ev *model.RawEvent) (bool, error) {
	rows := t.d.raw[ev.Contract]
	if rows == nil {
		rows = make(map[rawKey]model.RawEvent)
		t.d.raw[ev.Contract] = rows
	}
	key := rawKey{block: ev.BlockNumber, logIndex: ev.LogIndex}
	if _, ok := rows[key]; ok {
		return false, nil
	}

	prevID := t.d.nextRawID
	t.d.nextRawID++
	ev.ID = t.d.nextRawID
	stored := *ev
	stored.Args = append([]string(nil), ev.Args...)
	rows[key] = stored

	ref := rawRef{coord: ev.Coord(), contract: ev.Contract, key: key}
	t.insertOrdered(ref)

	t.onRollback(func() {
		delete(rows, key)
		t.removeOrdered(ref)
		t.d.nextRawID = prevID
	})
	return true, nil
}

// insertOrdered keeps d.ordered sorted; ingestion mostly appends.
func (t *tx) insertOrdered(ref rawRef) {
	pos := t.d.search(ref.coord)
	t.d.ordered = append(t.d.ordered, rawRef{})
	copy(t.d.ordered[pos+1:], t.d.ordered[pos:])
	t.d.ordered[pos] = ref
}

func (t *tx) removeOrdered(ref rawRef) {
	pos := t.d.search(ref.coord)
	for pos < len(t.d.ordered) && t.d.ordered[pos].coord == ref.coord {
		if t.d.ordered[pos].contract == ref.contract {
			t.d.ordered = append(t.d.ordered[:pos], t.d.ordered[pos+1:]...)
			return
		}
		pos++
	}
}

func (t *tx) EnsureAddress(_ context.Context, address string) error {
	t.ensureAddress(address)
	return nil
}

func (t *tx) ensureAddress(address string) {
	if _, ok := t.d.addresses[address]; ok {
		return
	}
	t.d.addresses[address] = struct{}{}
	addresses := t.d.addresses
	t.onRollback(func() { delete(addresses, address) })
}

func (t *tx) EdgeNode(_ context.Context, address string) (*model.EdgeNode, error) {
	return t.d.nodes[address].Clone(), nil
}

func (t *tx) SaveEdgeNode(_ context.Context, node *model.EdgeNode) error {
	t.ensureAddress(node.Address)
	nodes := t.d.nodes
	prev, existed := nodes[node.Address]
	nodes[node.Address] = node.Clone()
	t.onRollback(func() {
		if existed {
			nodes[node.Address] = prev
		} else {
			delete(nodes, node.Address)
		}
	})
	return nil
}

func (t *tx) User(_ context.Context, address string) (*model.User, error) {
	return t.d.users[address].Clone(), nil
}

func (t *tx) SaveUser(_ context.Context, user *model.User) error {
	t.ensureAddress(user.Address)
	users := t.d.users
	prev, existed := users[user.Address]
	users[user.Address] = user.Clone()
	t.onRollback(func() {
		if existed {
			users[user.Address] = prev
		} else {
			delete(users, user.Address)
		}
	})
	return nil
}

func (t *tx) Redemption(_ context.Context, queueIndex uint64) (*model.RedemptionEntry, error) {
	return t.d.redemptions[queueIndex].Clone(), nil
}

func (t *tx) MaxQueueIndex(_ context.Context) (uint64, bool, error) {
	var highest uint64
	found := false
	for idx := range t.d.redemptions {
		if !found || idx > highest {
			highest = idx
			found = true
		}
	}
	return highest, found, nil
}

func (t *tx) OldestClaimable(_ context.Context) (*model.RedemptionEntry, error) {
	var oldest *model.RedemptionEntry
	for _, r := range t.d.redemptions {
		if r.Status != model.RedemptionStatusClaimable {
			continue
		}
		if oldest == nil || r.QueueIndex < oldest.QueueIndex {
			oldest = r
		}
	}
	return oldest.Clone(), nil
}

func (t *tx) MaturedRedemptions(_ context.Context, blockNumber uint64) ([]*model.RedemptionEntry, error) {
	out := make([]*model.RedemptionEntry, 0)
	for _, r := range t.d.redemptions {
		if r.Status == model.RedemptionStatusPending && r.UnlockBlockNumber <= blockNumber {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueIndex < out[j].QueueIndex })
	return out, nil
}

func (t *tx) SaveRedemption(_ context.Context, entry *model.RedemptionEntry) error {
	t.ensureAddress(entry.Address)
	redemptions := t.d.redemptions
	prev, existed := redemptions[entry.QueueIndex]
	redemptions[entry.QueueIndex] = entry.Clone()
	t.onRollback(func() {
		if existed {
			redemptions[entry.QueueIndex] = prev
		} else {
			delete(redemptions, entry.QueueIndex)
		}
	})
	return nil
}

func (t *tx) RecordViolation(_ context.Context, v model.Violation) error {
	n := len(t.d.violations)
	t.d.violations = append(t.d.violations, v)
	t.onRollback(func() { t.d.violations = t.d.violations[:n] })
	return nil
}

func (t *tx) AdvanceCursor(_ context.Context, cursor model.Cursor) error {
	prev, existed := t.d.cursors[cursor.Contract]
	advanceCursor(t.d, cursor)
	t.onRollback(func() {
		if existed {
			t.d.cursors[cursor.Contract] = prev
		} else {
			delete(t.d.cursors, cursor.Contract)
		}
	})
	return nil
}

func (t *tx) DeleteRawEventsFrom(_ context.Context, blockNumber uint64) (int64, error) {
	pos := t.d.search(model.Coord{BlockNumber: blockNumber})
	removed := append([]rawRef(nil), t.d.ordered[pos:]...)
	events := make([]model.RawEvent, 0, len(removed))
	for _, ref := range removed {
		events = append(events, t.d.raw[ref.contract][ref.key])
		delete(t.d.raw[ref.contract], ref.key)
	}
	t.d.ordered = t.d.ordered[:pos]

	t.onRollback(func() {
		for i, ref := range removed {
			t.d.raw[ref.contract][ref.key] = events[i]
		}
		t.d.ordered = append(t.d.ordered[:pos], removed...)
	})
	return int64(len(removed)), nil
}

func (t *tx) DeleteSnapshotsFrom(_ context.Context, blockNumber uint64) (int64, error) {
	deleted := make(map[uint64]model.HourlySnapshot)
	for ts, snap := range t.d.snapshots {
		if snap.BlockNumber >= blockNumber {
			deleted[ts] = snap
			delete(t.d.snapshots, ts)
		}
	}
	t.onRollback(func() {
		for ts, snap := range deleted {
			t.d.snapshots[ts] = snap
		}
	})
	return int64(len(deleted)), nil
}

func (t *tx) ResetProjection(_ context.Context) error {
	nodes, users, redemptions, violations := t.d.nodes, t.d.users, t.d.redemptions, t.d.violations
	t.d.nodes = make(map[string]*model.EdgeNode)
	t.d.users = make(map[string]*model.User)
	t.d.redemptions = make(map[uint64]*model.RedemptionEntry)
	t.d.violations = nil
	t.onRollback(func() {
		t.d.nodes, t.d.users, t.d.redemptions, t.d.violations = nodes, users, redemptions, violations
	})
	return nil
}

func (t *tx) RawEventsAfter(_ context.Context, after *model.Coord, limit int) ([]model.RawEvent, error) {
	pos := 0
	if after != nil {
		pos = t.d.search(*after)
		for pos < len(t.d.ordered) && t.d.ordered[pos].coord == *after {
			pos++
		}
	}
	end := len(t.d.ordered)
	if limit > 0 && pos+limit < end {
		end = pos + limit
	}

	out := make([]model.RawEvent, 0, end-pos)
	for _, ref := range t.d.ordered[pos:end] {
		ev := t.d.raw[ref.contract][ref.key]
		ev.Args = append([]string(nil), ev.Args...)
		out = append(out, ev)
	}
	return out, nil
}

func (t *tx) RewindCursors(_ context.Context, blockNumber uint64) error {
	prev := make(map[model.Contract]model.Cursor, len(t.d.cursors))
	for contract, c := range t.d.cursors {
		prev[contract] = c
	}
	for contract, c := range t.d.cursors {
		if c.BlockNumber < blockNumber {
			continue
		}
		rewound := model.Cursor{Contract: contract}
		if blockNumber > 0 {
			rewound.BlockNumber = blockNumber - 1
		}
		t.d.cursors[contract] = rewound
	}
	t.onRollback(func() { t.d.cursors = prev })
	return nil
}
