package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a settlement operation was rejected.
type ErrorKind string

// Settlement error kinds.
const (
	KindValidation         ErrorKind = "VALIDATION"
	KindBidTooLow          ErrorKind = "BID_TOO_LOW"
	KindAuthorization      ErrorKind = "AUTHORIZATION"
	KindInsufficientEscrow ErrorKind = "INSUFFICIENT_ESCROW"
	KindCollaborator       ErrorKind = "COLLABORATOR_FAILURE"
	KindReentrant          ErrorKind = "REENTRANT_CALL"
	KindHalted             ErrorKind = "CUSTODY_HALTED"
	KindUnconfirmed        ErrorKind = "TRANSFER_UNCONFIRMED"
)

// SettlementError is returned by every failed engine operation.
// State is unchanged whenever one of these is returned, except for
// TRANSFER_UNCONFIRMED: the operation's ledger change stands and the transfer
// is tracked as pending until its outcome is known.
type SettlementError struct {
	Kind    ErrorKind
	Message string
	SlotID  uint64
	BidID   uint64
	Err     error // collaborator error, if any
}

func (e *SettlementError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s (slot %d): %s: %v", e.Kind, e.SlotID, msg, e.Err)
	}
	return fmt.Sprintf("%s (slot %d): %s", e.Kind, e.SlotID, msg)
}

func (e *SettlementError) Unwrap() error {
	return e.Err
}

// Is matches any SettlementError of the same kind, so the sentinels below
// work with errors.Is regardless of message or slot.
func (e *SettlementError) Is(target error) bool {
	t, ok := target.(*SettlementError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrValidation         = &SettlementError{Kind: KindValidation}
	ErrBidTooLow          = &SettlementError{Kind: KindBidTooLow}
	ErrAuthorization      = &SettlementError{Kind: KindAuthorization}
	ErrInsufficientEscrow = &SettlementError{Kind: KindInsufficientEscrow}
	ErrCollaborator       = &SettlementError{Kind: KindCollaborator}
	ErrReentrant          = &SettlementError{Kind: KindReentrant}
	ErrHalted             = &SettlementError{Kind: KindHalted}
	ErrUnconfirmed        = &SettlementError{Kind: KindUnconfirmed}
)

// Messages carried over from the deployed contract's revert strings so
// front-ends matching on them keep working.
const (
	MsgBidTooLow          = "The bid is less than 120%"
	MsgBidIDMismatch      = "The bidId is not match."
	MsgInsufficientEscrow = "The advertising sponsor is credit balance is insufficient."
)

// NewError builds a SettlementError for a slot.
func NewError(kind ErrorKind, slotID uint64, msg string) *SettlementError {
	return &SettlementError{Kind: kind, SlotID: slotID, Message: msg}
}

// CollaboratorError wraps an error returned by a token collaborator.
func CollaboratorError(slotID uint64, op string, err error) *SettlementError {
	return &SettlementError{Kind: KindCollaborator, SlotID: slotID, Message: op, Err: err}
}

// UnconfirmedError wraps a transfer whose outcome is not known yet.
func UnconfirmedError(slotID uint64, bidID uint64, op string, err error) *SettlementError {
	return &SettlementError{Kind: KindUnconfirmed, SlotID: slotID, BidID: bidID, Message: op, Err: err}
}

// KindOf returns the kind of a settlement error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var se *SettlementError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}
