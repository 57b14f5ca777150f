package memory

import (
	"context"
	"sort"
	"sync"

	"stakeScope/internal/model"
	"stakeScope/internal/storage"
)

type rawKey struct {
	block    uint64
	logIndex uint64
}

// rawRef locates a stored raw event in coordinate order.
type rawRef struct {
	coord    model.Coord
	contract model.Contract
	key      rawKey
}

type data struct {
	raw         map[model.Contract]map[rawKey]model.RawEvent
	ordered     []rawRef
	nextRawID   int64
	addresses   map[string]struct{}
	nodes       map[string]*model.EdgeNode
	users       map[string]*model.User
	redemptions map[uint64]*model.RedemptionEntry
	snapshots   map[uint64]model.HourlySnapshot
	cursors     map[model.Contract]model.Cursor
	violations  []model.Violation
	state       map[string]uint64
}

func newData() *data {
	return &data{
		raw:         make(map[model.Contract]map[rawKey]model.RawEvent),
		addresses:   make(map[string]struct{}),
		nodes:       make(map[string]*model.EdgeNode),
		users:       make(map[string]*model.User),
		redemptions: make(map[uint64]*model.RedemptionEntry),
		snapshots:   make(map[uint64]model.HourlySnapshot),
		cursors:     make(map[model.Contract]model.Cursor),
		state:       make(map[string]uint64),
	}
}

// search returns the position of the first ordered entry not before coord.
func (d *data) search(coord model.Coord) int {
	return sort.Search(len(d.ordered), func(i int) bool {
		return !d.ordered[i].coord.Less(coord)
	})
}

// Store keeps the whole projection in process memory. Transactions are
// serialized and journaled: every write records its inverse, and a failed
// transaction replays the journal backwards so it leaves no trace.
type Store struct {
	mu   sync.Mutex
	data *data
}

var _ storage.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{data: newData()}
}

func (s *Store) Close() {}

func (s *Store) InTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	work := &tx{d: s.data}
	defer func() {
		if p := recover(); p != nil {
			work.rollback()
			panic(p)
		}
	}()
	if err := fn(work); err != nil {
		work.rollback()
		return err
	}
	return nil
}

func (s *Store) Cursor(_ context.Context, contract model.Contract) (model.Cursor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.cursors[contract]
	return c, ok, nil
}

func (s *Store) SaveCursor(_ context.Context, cursor model.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	advanceCursor(s.data, cursor)
	return nil
}

func (s *Store) RecordedBlocks(_ context.Context, contract model.Contract, below uint64, limit int) ([]model.BlockRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uint64]model.BlockRef)
	for _, ev := range s.data.raw[contract] {
		if ev.BlockNumber >= below {
			continue
		}
		seen[ev.BlockNumber] = model.BlockRef{Number: ev.BlockNumber, Hash: ev.BlockHash, Timestamp: ev.BlockTimestamp}
	}
	out := make([]model.BlockRef, 0, len(seen))
	for _, ref := range seen {
		out = append(out, ref)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number > out[j].Number })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) Watermark(_ context.Context, contracts []model.Contract) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var low uint64
	for i, contract := range contracts {
		c, ok := s.data.cursors[contract]
		if !ok {
			return 0, false, nil
		}
		if i == 0 || c.BlockTimestamp < low {
			low = c.BlockTimestamp
		}
	}
	return low, len(contracts) > 0, nil
}

func (s *Store) Totals(_ context.Context) (model.ProtocolTotals, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := model.NewProtocolTotals()
	for _, n := range s.data.nodes {
		t.TotalNodes++
		if n.IsActive {
			t.ActiveNodes++
		}
		if n.IsFaulty {
			t.FaultyNodes++
		}
		t.TotalStaked.Add(t.TotalStaked, n.TotalStaked)
		t.TotalStaked.Sub(t.TotalStaked, n.TotalUnstaked)
	}
	for _, u := range s.data.users {
		t.TotalUsers++
		t.TotalSupply.Add(t.TotalSupply, u.Balance)
		t.TotalDeposited.Add(t.TotalDeposited, u.TotalDeposited)
		t.TotalWithdrawn.Add(t.TotalWithdrawn, u.TotalWithdrawn)
		t.TotalMinted.Add(t.TotalMinted, u.TotalMinted)
		t.TotalBurned.Add(t.TotalBurned, u.TotalBurned)
		t.TotalKeeperFees.Add(t.TotalKeeperFees, u.KeeperFeesEarned)
		t.TotalReferralFees.Add(t.TotalReferralFees, u.ReferralFeesEarned)
		t.TotalEnteringFees.Add(t.TotalEnteringFees, u.EnteringFeesPaid)
		t.TotalExitFees.Add(t.TotalExitFees, u.ExitFeesPaid)
	}
	for _, r := range s.data.redemptions {
		switch r.Status {
		case model.RedemptionStatusCredited:
			t.TotalKeeperTipsPaid.Add(t.TotalKeeperTipsPaid, r.KeeperTipFee)
		case model.RedemptionStatusPending:
			t.PendingRedemptions++
			t.OutstandingRedemptionTfuel.Add(t.OutstandingRedemptionTfuel, r.TfuelExpected)
		case model.RedemptionStatusClaimable:
			t.ClaimableRedemptions++
			t.OutstandingRedemptionTfuel.Add(t.OutstandingRedemptionTfuel, r.TfuelExpected)
		}
	}
	return t, nil
}

func (s *Store) BlockAtOrBefore(_ context.Context, ts uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.data.ordered) - 1; i >= 0; i-- {
		ref := s.data.ordered[i]
		if s.data.raw[ref.contract][ref.key].BlockTimestamp <= ts {
			return ref.coord.BlockNumber, nil
		}
	}
	return 0, nil
}

func (s *Store) FirstEventTimestamp(_ context.Context) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.data.ordered) == 0 {
		return 0, false, nil
	}
	first := s.data.ordered[0]
	return s.data.raw[first.contract][first.key].BlockTimestamp, true, nil
}

func (s *Store) InsertSnapshot(_ context.Context, snap model.HourlySnapshot) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data.snapshots[snap.SnapshotTimestamp]; ok {
		return false, nil
	}
	s.data.snapshots[snap.SnapshotTimestamp] = cloneSnapshot(snap)
	return true, nil
}

func (s *Store) LoadState(_ context.Context, name string) (uint64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data.state[name]
	return v, ok, nil
}

func (s *Store) SaveState(_ context.Context, name string, value uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.state[name] = value
	return nil
}

func (s *Store) GetEdgeNode(_ context.Context, address string) (*model.EdgeNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.data.nodes[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return n.Clone(), nil
}

func (s *Store) GetUser(_ context.Context, address string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.data.users[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) ListRedemptions(_ context.Context, address string, status model.RedemptionStatus) ([]model.RedemptionEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.RedemptionEntry, 0)
	for _, r := range s.data.redemptions {
		if address != "" && r.Address != address {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, *r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueIndex < out[j].QueueIndex })
	return out, nil
}

func (s *Store) GetSnapshot(_ context.Context, ts uint64) (*model.HourlySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.data.snapshots[ts]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := cloneSnapshot(snap)
	return &out, nil
}

func (s *Store) LatestSnapshot(_ context.Context) (*model.HourlySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *model.HourlySnapshot
	for _, snap := range s.data.snapshots {
		if latest == nil || snap.SnapshotTimestamp > latest.SnapshotTimestamp {
			copied := cloneSnapshot(snap)
			latest = &copied
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest, nil
}

func (s *Store) ListSnapshots(_ context.Context, from, to uint64) ([]model.HourlySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.HourlySnapshot, 0)
	for ts, snap := range s.data.snapshots {
		if ts < from || ts > to {
			continue
		}
		out = append(out, cloneSnapshot(snap))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SnapshotTimestamp < out[j].SnapshotTimestamp })
	return out, nil
}

func (s *Store) ListViolations(_ context.Context, limit int) ([]model.Violation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := append([]model.Violation(nil), s.data.violations...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func advanceCursor(d *data, cursor model.Cursor) {
	current, ok := d.cursors[cursor.Contract]
	if ok && current.BlockNumber > cursor.BlockNumber {
		return
	}
	if ok && current.BlockNumber == cursor.BlockNumber && cursor.BlockHash == "" {
		cursor.BlockHash = current.BlockHash
	}
	d.cursors[cursor.Contract] = cursor
}

func cloneSnapshot(snap model.HourlySnapshot) model.HourlySnapshot {
	out := snap
	t := snap.ProtocolTotals
	out.TotalStaked = model.CloneInt(t.TotalStaked)
	out.TotalSupply = model.CloneInt(t.TotalSupply)
	out.TotalDeposited = model.CloneInt(t.TotalDeposited)
	out.TotalWithdrawn = model.CloneInt(t.TotalWithdrawn)
	out.TotalMinted = model.CloneInt(t.TotalMinted)
	out.TotalBurned = model.CloneInt(t.TotalBurned)
	out.TotalKeeperTipsPaid = model.CloneInt(t.TotalKeeperTipsPaid)
	out.TotalKeeperFees = model.CloneInt(t.TotalKeeperFees)
	out.TotalReferralFees = model.CloneInt(t.TotalReferralFees)
	out.TotalEnteringFees = model.CloneInt(t.TotalEnteringFees)
	out.TotalExitFees = model.CloneInt(t.TotalExitFees)
	out.OutstandingRedemptionTfuel = model.CloneInt(t.OutstandingRedemptionTfuel)
	return out
}
