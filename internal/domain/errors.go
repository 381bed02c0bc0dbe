package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors of the reconciliation taxonomy. Typed errors below wrap
// them so callers can use errors.Is for the category and errors.As for detail.
var (
	ErrParse               = errors.New("parse error")
	ErrInvalidRule         = errors.New("invalid percentage rule")
	ErrNoRule              = errors.New("no percentage rule")
	ErrImbalancedSelection = errors.New("imbalanced selection")
	ErrAlreadyConsumed     = errors.New("settlement entry already consumed")
	ErrPersistence         = errors.New("persistence error")

	ErrEmptySelection   = errors.New("selection is empty on at least one side")
	ErrUnknownCandidate = errors.New("id is not a candidate of this session")
	ErrSessionBusy      = errors.New("session is committing")
	ErrSessionClosed    = errors.New("session is closed")
	ErrSessionNotFound  = errors.New("session not found")
	ErrNoCandidates     = errors.New("no candidate transactions on this date")
)

// ParseError describes one malformed field of an imported record.
type ParseError struct {
	Line  int
	Field string
	Value string
	Err   error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: field %q: cannot parse %q: %v", e.Line, e.Field, e.Value, e.Err)
}

func (e *ParseError) Unwrap() []error { return []error{ErrParse, e.Err} }

// RuleError reports why an entry could not be split automatically.
type RuleError struct {
	EntryID string
	Reason  error // ErrNoRule or ErrInvalidRule
	Detail  string
}

func (e *RuleError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("entry %s: %v", e.EntryID, e.Reason)
	}
	return fmt.Sprintf("entry %s: %v: %s", e.EntryID, e.Reason, e.Detail)
}

func (e *RuleError) Unwrap() error { return e.Reason }

// ImbalanceError carries the totals of a selection that does not balance.
type ImbalanceError struct {
	TransactionTotal decimal.Decimal
	GeneratedTotal   decimal.Decimal
	Difference       decimal.Decimal
}

func (e *ImbalanceError) Error() string {
	return fmt.Sprintf("%v: transactions %s, generated %s, difference %s",
		ErrImbalancedSelection, e.TransactionTotal.StringFixed(2), e.GeneratedTotal.StringFixed(2), e.Difference.StringFixed(2))
}

func (e *ImbalanceError) Unwrap() error { return ErrImbalancedSelection }

// ConsumedError names the entries that became unavailable.
type ConsumedError struct {
	EntryIDs []string
}

func (e *ConsumedError) Error() string {
	return fmt.Sprintf("%v: %v", ErrAlreadyConsumed, e.EntryIDs)
}

func (e *ConsumedError) Unwrap() error { return ErrAlreadyConsumed }

// PersistenceError wraps any storage failure, timeouts included.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrPersistence, e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// Persistence wraps err as a PersistenceError unless it is nil or already one.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
