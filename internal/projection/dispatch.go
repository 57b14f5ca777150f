package projection

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"stakeScope/internal/metrics"
	"stakeScope/internal/model"
	"stakeScope/internal/state"
	"stakeScope/internal/storage"
)

// apply runs the normalized side effects of a stored raw event and returns
// the metrics outcome label. Only storage failures are returned as errors.
func (e *Engine) apply(ctx context.Context, tx storage.Tx, raw model.RawEvent) (string, error) {
	at := state.Block{Number: raw.BlockNumber, Timestamp: raw.BlockTimestamp}

	if raw.Contract == model.ContractToken {
		if err := e.promote(ctx, tx, at); err != nil {
			return "", err
		}
	}

	ev, err := model.ParseEvent(raw)
	if err != nil {
		if errors.Is(err, model.ErrUnknownEvent) {
			e.logger.Warn("unknown event skipped", eventFields(raw)...)
			return metrics.OutcomeUnknown, nil
		}
		return e.classify(ctx, tx, raw, &state.ViolationError{Rule: "malformed_event", Detail: err.Error()})
	}
	if ev.Kind().Contract() != raw.Contract {
		return e.classify(ctx, tx, raw, &state.ViolationError{
			Rule:   "event_contract_mismatch",
			Detail: fmt.Sprintf("%s is not emitted by the %s contract", ev.Kind(), raw.Contract),
		})
	}

	if err := e.ensureAddresses(ctx, tx, ev); err != nil {
		return "", err
	}
	return e.classify(ctx, tx, raw, e.dispatch(ctx, tx, ev, at))
}

// dispatch routes a typed event to its state machine. The switch covers
// every model.Event implementation.
func (e *Engine) dispatch(ctx context.Context, tx storage.Tx, ev model.Event, at state.Block) error {
	switch ev := ev.(type) {
	case model.NodeRegistered, model.NodeStaked, model.NodeUnstaked, model.NodeMarkedFaulty,
		model.NodeRecovered, model.NodeUnstakeRequested, model.NodeDeactivated, model.NodeLivenessChanged:
		return e.applyNode(ctx, tx, ev, at)
	case model.Deposited, model.Withdrawn, model.Minted, model.Burned, model.Transfer,
		model.KeeperFeeEarned, model.ReferralFeeEarned, model.CreditsClaimed:
		return e.applyLedger(ctx, tx, ev, at)
	case model.RedemptionRequested:
		return e.requestRedemption(ctx, tx, ev, at)
	case model.RedemptionUnlocked:
		return e.unlockRedemption(ctx, tx, ev, at)
	case model.RedemptionCredited:
		return e.creditRedemption(ctx, tx, ev, at)
	case model.RedemptionCancelled:
		return e.cancelRedemption(ctx, tx, ev, at)
	default:
		return fmt.Errorf("no handler for %s", ev.Kind())
	}
}

// classify turns a state machine result into an outcome label. Violations
// are recorded for review and transition errors are logged; neither aborts
// the transaction, so the raw row still commits.
func (e *Engine) classify(ctx context.Context, tx storage.Tx, raw model.RawEvent, err error) (string, error) {
	if err == nil {
		return metrics.OutcomeApplied, nil
	}

	var violation *state.ViolationError
	if errors.As(err, &violation) {
		if recErr := tx.RecordViolation(ctx, model.Violation{
			Contract:    raw.Contract,
			EventName:   raw.EventName,
			BlockNumber: raw.BlockNumber,
			TxHash:      raw.TxHash,
			LogIndex:    raw.LogIndex,
			Rule:        violation.Rule,
			Detail:      violation.Detail,
		}); recErr != nil {
			return "", recErr
		}
		e.logger.Warn("invariant violation flagged",
			append(eventFields(raw), zap.String("rule", violation.Rule), zap.String("detail", violation.Detail))...)
		return metrics.OutcomeViolation, nil
	}

	if errors.Is(err, state.ErrInvalidTransition) {
		e.logger.Warn("invalid transition skipped", append(eventFields(raw), zap.Error(err))...)
		return metrics.OutcomeTransition, nil
	}
	return "", err
}

func (e *Engine) promote(ctx context.Context, tx storage.Tx, at state.Block) error {
	matured, err := tx.MaturedRedemptions(ctx, at.Number)
	if err != nil {
		return fmt.Errorf("matured redemptions: %w", err)
	}
	for _, entry := range state.PromoteMatured(matured, at) {
		if err := tx.SaveRedemption(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) applyNode(ctx context.Context, tx storage.Tx, ev model.Event, at state.Block) error {
	addr, _ := state.NodeAddress(ev)
	current, err := tx.EdgeNode(ctx, addr)
	if err != nil {
		return fmt.Errorf("load edge node %s: %w", addr, err)
	}
	next, err := state.ApplyNode(current, ev, at)
	if err != nil {
		return err
	}
	return tx.SaveEdgeNode(ctx, next)
}

func (e *Engine) applyLedger(ctx context.Context, tx storage.Tx, ev model.Event, at state.Block) error {
	parties := state.LedgerParties(ev)
	if len(parties) == 0 {
		return nil
	}
	users := make(map[string]*model.User, len(parties))
	for _, addr := range parties {
		u, err := tx.User(ctx, addr)
		if err != nil {
			return fmt.Errorf("load user %s: %w", addr, err)
		}
		users[addr] = u
	}
	updated, err := state.ApplyLedger(users, ev, at)
	if err != nil {
		return err
	}
	for _, u := range updated {
		if err := tx.SaveUser(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) requestRedemption(ctx context.Context, tx storage.Tx, ev model.RedemptionRequested, at state.Block) error {
	highest, ok, err := tx.MaxQueueIndex(ctx)
	if err != nil {
		return fmt.Errorf("max queue index: %w", err)
	}
	entry, err := state.RequestRedemption(highest, ok, ev, at, e.params.UnlockDelayBlocks)
	if err != nil {
		return err
	}
	return tx.SaveRedemption(ctx, entry)
}

func (e *Engine) unlockRedemption(ctx context.Context, tx storage.Tx, ev model.RedemptionUnlocked, at state.Block) error {
	entry, err := tx.Redemption(ctx, ev.QueueIndex)
	if err != nil {
		return fmt.Errorf("load redemption %d: %w", ev.QueueIndex, err)
	}
	next, err := state.Unlock(entry, ev, at)
	if err != nil || next == nil {
		return err
	}
	return tx.SaveRedemption(ctx, next)
}

func (e *Engine) creditRedemption(ctx context.Context, tx storage.Tx, ev model.RedemptionCredited, at state.Block) error {
	entry, err := tx.Redemption(ctx, ev.QueueIndex)
	if err != nil {
		return fmt.Errorf("load redemption %d: %w", ev.QueueIndex, err)
	}
	oldest, err := tx.OldestClaimable(ctx)
	if err != nil {
		return fmt.Errorf("oldest claimable: %w", err)
	}
	next, err := state.Credit(entry, oldest, ev, at)
	if err != nil {
		return err
	}
	owner, err := tx.User(ctx, ev.User)
	if err != nil {
		return fmt.Errorf("load user %s: %w", ev.User, err)
	}
	credited, err := state.CreditUser(owner, ev.User, ev.TfuelAmount, at)
	if err != nil {
		return err
	}
	if err := tx.SaveRedemption(ctx, next); err != nil {
		return err
	}
	return tx.SaveUser(ctx, credited)
}

func (e *Engine) cancelRedemption(ctx context.Context, tx storage.Tx, ev model.RedemptionCancelled, at state.Block) error {
	entry, err := tx.Redemption(ctx, ev.QueueIndex)
	if err != nil {
		return fmt.Errorf("load redemption %d: %w", ev.QueueIndex, err)
	}
	next, err := state.Cancel(entry, ev, at)
	if err != nil {
		return err
	}
	return tx.SaveRedemption(ctx, next)
}

// ensureAddresses registers every non-zero address an event names.
func (e *Engine) ensureAddresses(ctx context.Context, tx storage.Tx, ev model.Event) error {
	for _, addr := range eventAddresses(ev) {
		if addr == model.ZeroAddress {
			continue
		}
		if err := tx.EnsureAddress(ctx, addr); err != nil {
			return err
		}
	}
	return nil
}

func eventAddresses(ev model.Event) []string {
	if addr, ok := state.NodeAddress(ev); ok {
		return []string{addr}
	}
	switch ev := ev.(type) {
	case model.Transfer:
		return []string{ev.From, ev.To}
	case model.RedemptionRequested:
		return []string{ev.User}
	case model.RedemptionUnlocked:
		return []string{ev.User}
	case model.RedemptionCredited:
		return []string{ev.User, ev.Keeper}
	case model.RedemptionCancelled:
		return []string{ev.User}
	default:
		return state.LedgerParties(ev)
	}
}

func eventFields(raw model.RawEvent) []zap.Field {
	return []zap.Field{
		zap.String("contract", string(raw.Contract)),
		zap.String("event", raw.EventName),
		zap.Uint64("block_number", raw.BlockNumber),
		zap.String("tx_hash", raw.TxHash),
		zap.Uint64("log_index", raw.LogIndex),
	}
}
