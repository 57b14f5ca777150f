package state

import (
	"errors"
	"fmt"

	"stakeScope/internal/model"
)

var (
	// ErrInvalidTransition marks an event that does not fit the entity's current
	// lifecycle state. Callers treat it as a consistency warning and skip the event.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrInvariantViolation marks an event whose mutation would break a protocol
	// invariant. Callers reject the mutation and flag the event for review.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Block is the chain position an event is applied at.
type Block struct {
	Number    uint64
	Timestamp uint64
}

// TransitionError describes a rejected lifecycle transition.
type TransitionError struct {
	Entity string
	Key    string
	From   string
	Event  model.EventKind
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s %s: %s not allowed from %s", e.Entity, e.Key, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ViolationError describes a broken invariant.
type ViolationError struct {
	Rule   string
	Detail string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Rule, e.Detail)
}

func (e *ViolationError) Unwrap() error { return ErrInvariantViolation }

func violation(rule, format string, args ...interface{}) error {
	return &ViolationError{Rule: rule, Detail: fmt.Sprintf(format, args...)}
}

func transition(entity, key, from string, kind model.EventKind) error {
	return &TransitionError{Entity: entity, Key: key, From: from, Event: kind}
}
