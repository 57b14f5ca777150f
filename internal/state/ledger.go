package state

import (
	"fmt"
	"math/big"

	"stakeScope/internal/model"
)

// LedgerParties returns the user addresses a ledger event touches, in the
// order ApplyLedger expects them. Transfers with a zero-address leg touch
// nobody: supply changes are carried by Minted and Burned.
func LedgerParties(ev model.Event) []string {
	switch e := ev.(type) {
	case model.Deposited:
		return []string{e.User}
	case model.Withdrawn:
		return []string{e.User}
	case model.Minted:
		return []string{e.To}
	case model.Burned:
		return []string{e.From}
	case model.Transfer:
		if e.From == model.ZeroAddress || e.To == model.ZeroAddress {
			return nil
		}
		if e.From == e.To {
			return []string{e.From}
		}
		return []string{e.From, e.To}
	case model.KeeperFeeEarned:
		return []string{e.Keeper}
	case model.ReferralFeeEarned:
		return []string{e.Referrer}
	case model.CreditsClaimed:
		return []string{e.User}
	default:
		return nil
	}
}

// ApplyLedger applies a user-ledger event. users holds the current rows of
// the parties returned by LedgerParties; missing entries start empty. The
// updated users are returned as new values and every one of them has passed
// CheckUser.
func ApplyLedger(users map[string]*model.User, ev model.Event, at Block) ([]*model.User, error) {
	parties := LedgerParties(ev)
	if len(parties) == 0 {
		return nil, nil
	}

	next := make(map[string]*model.User, len(parties))
	for _, addr := range parties {
		u := users[addr].Clone()
		if u == nil {
			u = model.NewUser(addr)
		}
		touch(u, at)
		next[addr] = u
	}

	switch e := ev.(type) {
	case model.Deposited:
		u := next[e.User]
		u.TotalDeposited = model.AddInt(u.TotalDeposited, e.TfuelAmount)
		u.EnteringFeesPaid = model.AddInt(u.EnteringFeesPaid, e.EnteringFee)

	case model.Withdrawn:
		u := next[e.User]
		u.TotalWithdrawn = model.AddInt(u.TotalWithdrawn, e.TfuelAmount)
		u.ExitFeesPaid = model.AddInt(u.ExitFeesPaid, e.ExitFee)

	case model.Minted:
		u := next[e.To]
		u.TotalMinted = model.AddInt(u.TotalMinted, e.Amount)
		u.Balance = model.AddInt(u.Balance, e.Amount)

	case model.Burned:
		u := next[e.From]
		u.TotalBurned = model.AddInt(u.TotalBurned, e.Amount)
		u.Balance = model.SubInt(u.Balance, e.Amount)

	case model.Transfer:
		if e.From != e.To {
			from, to := next[e.From], next[e.To]
			from.TotalTransferredOut = model.AddInt(from.TotalTransferredOut, e.Value)
			from.Balance = model.SubInt(from.Balance, e.Value)
			to.TotalTransferredIn = model.AddInt(to.TotalTransferredIn, e.Value)
			to.Balance = model.AddInt(to.Balance, e.Value)
		}

	case model.KeeperFeeEarned:
		u := next[e.Keeper]
		u.KeeperFeesEarned = model.AddInt(u.KeeperFeesEarned, e.Amount)

	case model.ReferralFeeEarned:
		u := next[e.Referrer]
		u.ReferralFeesEarned = model.AddInt(u.ReferralFeesEarned, e.Amount)

	case model.CreditsClaimed:
		u := next[e.User]
		u.AvailableCredits = model.SubInt(u.AvailableCredits, e.Amount)

	default:
		return nil, fmt.Errorf("not a ledger event: %s", ev.Kind())
	}

	out := make([]*model.User, 0, len(parties))
	for _, addr := range parties {
		if err := CheckUser(next[addr]); err != nil {
			return nil, err
		}
		out = append(out, next[addr])
	}
	return out, nil
}

// CreditUser adds a credited redemption payout to the owner's available credits.
func CreditUser(current *model.User, owner string, amount *big.Int, at Block) (*model.User, error) {
	u := current.Clone()
	if u == nil {
		u = model.NewUser(owner)
	}
	touch(u, at)
	u.AvailableCredits = model.AddInt(u.AvailableCredits, amount)
	if err := CheckUser(u); err != nil {
		return nil, err
	}
	return u, nil
}

// CheckUser verifies the ledger invariants of a single user:
// balance = minted - burned + transferred in - transferred out, and neither
// balance nor credits are negative.
func CheckUser(u *model.User) error {
	if u.Balance.Sign() < 0 {
		return violation("user_negative_balance", "user %s balance %s", u.Address, u.Balance)
	}
	if u.AvailableCredits.Sign() < 0 {
		return violation("user_negative_credits", "user %s credits %s", u.Address, u.AvailableCredits)
	}
	derived := model.SubInt(u.TotalMinted, u.TotalBurned)
	derived = model.AddInt(derived, u.TotalTransferredIn)
	derived = model.SubInt(derived, u.TotalTransferredOut)
	if derived.Cmp(u.Balance) != 0 {
		return violation("user_balance_mismatch", "user %s balance %s, derived %s", u.Address, u.Balance, derived)
	}
	return nil
}

func touch(u *model.User, at Block) {
	if u.FirstActivityBlock == 0 && u.FirstActivityTimestamp == 0 {
		u.FirstActivityBlock = at.Number
		u.FirstActivityTimestamp = at.Timestamp
	}
	if at.Number >= u.LastActivityBlock {
		u.LastActivityBlock = at.Number
		u.LastActivityTimestamp = at.Timestamp
	}
}
