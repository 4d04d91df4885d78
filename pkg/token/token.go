// Package token defines the collaborator boundary of the settlement engine:
// a fungible payment token that holds custody, and a non-fungible slot token
// that carries per-operator content. Addresses are supplied per call, so the
// engine only ever sees these interfaces, resolved through a Registry.
package token

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Collaborator errors shared by the in-memory and chain implementations.
var (
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNotApproved           = errors.New("caller is not an approved operator")
	ErrNonexistentToken      = errors.New("slot token does not exist")
	ErrUnknownContract       = errors.New("unknown token contract")
	ErrInvalidRecipient      = errors.New("transfer to the zero address")
	ErrNotSigner             = errors.New("sender is not the configured signer")

	// ErrUnconfirmed marks a transfer that was submitted but whose outcome is
	// not known yet. Funds may or may not have moved.
	ErrUnconfirmed = errors.New("transfer outcome unconfirmed")
)

// UnconfirmedError is returned when a transfer was broadcast but its outcome
// could not be confirmed. Ref identifies the submission, a transaction hash on
// chain backends, and is what TransferStatus takes.
type UnconfirmedError struct {
	Ref string
	Err error
}

func (e *UnconfirmedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrUnconfirmed, e.Ref, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrUnconfirmed, e.Ref)
}

func (e *UnconfirmedError) Unwrap() []error {
	return []error{ErrUnconfirmed, e.Err}
}

// UnconfirmedRef returns the submission reference of an unconfirmed transfer.
func UnconfirmedRef(err error) (string, bool) {
	var ue *UnconfirmedError
	if errors.As(err, &ue) {
		return ue.Ref, true
	}
	return "", false
}

// TransferStatus is the settled outcome of a submitted transfer.
type TransferStatus int

// Transfer statuses.
const (
	TransferPending TransferStatus = iota
	TransferConfirmed
	TransferFailed
)

func (s TransferStatus) String() string {
	switch s {
	case TransferConfirmed:
		return "confirmed"
	case TransferFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Confirmer is implemented by payment tokens whose transfers can come back
// unconfirmed. TransferStatus reports how the referenced submission settled.
type Confirmer interface {
	TransferStatus(ctx context.Context, ref string) (TransferStatus, error)
}

// PaymentToken is the fungible value-custody primitive.
//
// Implementations must pass the ctx they receive to anything that calls back
// into the engine. The engine marks that ctx to reject nested calls; a call
// made with a fresh context waits on the engine lock held by the caller and
// never returns.
//
// A transfer that returns a plain error must not have moved funds. When the
// outcome is unknown, return an *UnconfirmedError instead.
type PaymentToken interface {
	Address() common.Address
	BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error)
	Allowance(ctx context.Context, owner common.Address, spender common.Address) (*big.Int, error)

	// TransferFrom moves amount from `from` to `to`, spending spender's allowance.
	TransferFrom(ctx context.Context, spender common.Address, from common.Address, to common.Address, amount *big.Int) error

	// Transfer moves amount out of from's own balance.
	Transfer(ctx context.Context, from common.Address, to common.Address, amount *big.Int) error
}

// BatchTransferer is implemented by payment tokens that can apply several
// transfers from one account as a single all-or-nothing step.
type BatchTransferer interface {
	BatchTransfer(ctx context.Context, from common.Address, recipients []common.Address, amounts []*big.Int) error
}

// SlotToken is the non-fungible content-assignment primitive. Content is
// keyed by (slotID, operator) so operators never overwrite each other.
//
// As with PaymentToken, implementations must propagate the ctx they receive.
type SlotToken interface {
	Address() common.Address
	OwnerOf(ctx context.Context, slotID uint64) (common.Address, error)
	IsApprovedForAll(ctx context.Context, owner common.Address, operator common.Address) (bool, error)
	SetSlotURI(ctx context.Context, operator common.Address, slotID uint64, uri string) error
	SlotURI(ctx context.Context, slotID uint64, operator common.Address) (string, error)
}

// Registry resolves contract addresses passed by callers into collaborators.
type Registry interface {
	PaymentToken(ctx context.Context, addr common.Address) (PaymentToken, error)
	SlotToken(ctx context.Context, addr common.Address) (SlotToken, error)
}
