package state

import (
	"strconv"

	"stakeScope/internal/model"
)

func queueKey(index uint64) string {
	return strconv.FormatUint(index, 10)
}

// RequestRedemption creates a Pending entry. maxIndex is the highest queue
// index seen so far (hasMax is false for an empty queue); the protocol-assigned
// index must be strictly greater. The unlock block is the request block plus
// unlockDelay.
func RequestRedemption(maxIndex uint64, hasMax bool, ev model.RedemptionRequested, at Block, unlockDelay uint64) (*model.RedemptionEntry, error) {
	if hasMax && ev.QueueIndex <= maxIndex {
		return nil, violation("redemption_index_not_increasing", "queue index %d requested after %d", ev.QueueIndex, maxIndex)
	}
	return &model.RedemptionEntry{
		Address:           ev.User,
		QueueIndex:        ev.QueueIndex,
		RequestBlock:      at.Number,
		RequestTimestamp:  at.Timestamp,
		StfuelBurned:      model.CloneInt(ev.StfuelBurned),
		TfuelExpected:     model.CloneInt(ev.TfuelExpected),
		KeeperTipFee:      model.CloneInt(ev.KeeperTip),
		UnlockBlockNumber: at.Number + unlockDelay,
		Status:            model.RedemptionStatusPending,
	}, nil
}

// Unlock moves a Pending entry to Claimable. It returns nil without error
// when the entry is already Claimable.
func Unlock(entry *model.RedemptionEntry, ev model.RedemptionUnlocked, at Block) (*model.RedemptionEntry, error) {
	if err := checkEntry(entry, ev.User, ev.QueueIndex, ev.Kind()); err != nil {
		return nil, err
	}
	switch entry.Status {
	case model.RedemptionStatusClaimable:
		return nil, nil
	case model.RedemptionStatusPending:
		return claimable(entry, at), nil
	default:
		return nil, transition("redemption", queueKey(entry.QueueIndex), string(entry.Status), ev.Kind())
	}
}

// PromoteMatured returns the Claimable versions of every Pending entry whose
// unlock block has been reached at block at.
func PromoteMatured(entries []*model.RedemptionEntry, at Block) []*model.RedemptionEntry {
	out := make([]*model.RedemptionEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status != model.RedemptionStatusPending || entry.UnlockBlockNumber > at.Number {
			continue
		}
		out = append(out, claimable(entry, at))
	}
	return out
}

// Credit moves a Claimable entry to Credited. oldest is the lowest-index
// Claimable entry; crediting any other entry is flagged rather than applied.
func Credit(entry, oldest *model.RedemptionEntry, ev model.RedemptionCredited, at Block) (*model.RedemptionEntry, error) {
	if entry == nil {
		return nil, violation("redemption_credit_unknown_entry", "credit for unknown queue index %d", ev.QueueIndex)
	}
	if err := checkEntry(entry, ev.User, ev.QueueIndex, ev.Kind()); err != nil {
		return nil, err
	}
	switch entry.Status {
	case model.RedemptionStatusClaimable:
	case model.RedemptionStatusPending:
		return nil, violation("redemption_credit_before_unlock", "queue index %d credited at block %d, unlocks at %d",
			entry.QueueIndex, at.Number, entry.UnlockBlockNumber)
	default:
		return nil, transition("redemption", queueKey(entry.QueueIndex), string(entry.Status), ev.Kind())
	}
	if oldest != nil && oldest.QueueIndex != entry.QueueIndex {
		return nil, violation("redemption_credit_out_of_order", "queue index %d credited while %d is the oldest claimable",
			entry.QueueIndex, oldest.QueueIndex)
	}

	next := entry.Clone()
	next.Status = model.RedemptionStatusCredited
	next.CreditedBlock = model.U64(at.Number)
	next.CreditedTimestamp = model.U64(at.Timestamp)
	return next, nil
}

// Cancel moves a Pending entry to Cancelled.
func Cancel(entry *model.RedemptionEntry, ev model.RedemptionCancelled, at Block) (*model.RedemptionEntry, error) {
	if err := checkEntry(entry, ev.User, ev.QueueIndex, ev.Kind()); err != nil {
		return nil, err
	}
	if entry.Status != model.RedemptionStatusPending {
		return nil, transition("redemption", queueKey(entry.QueueIndex), string(entry.Status), ev.Kind())
	}
	next := entry.Clone()
	next.Status = model.RedemptionStatusCancelled
	return next, nil
}

func checkEntry(entry *model.RedemptionEntry, owner string, index uint64, kind model.EventKind) error {
	if entry == nil {
		return transition("redemption", queueKey(index), "missing", kind)
	}
	if entry.Address != owner {
		return violation("redemption_owner_mismatch", "queue index %d owned by %s, event names %s", index, entry.Address, owner)
	}
	return nil
}

func claimable(entry *model.RedemptionEntry, at Block) *model.RedemptionEntry {
	next := entry.Clone()
	next.Status = model.RedemptionStatusClaimable
	next.UnlockTimestamp = model.U64(at.Timestamp)
	return next
}
