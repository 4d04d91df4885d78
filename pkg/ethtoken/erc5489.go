package ethtoken

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/token"
)

// SlotToken is an ERC-5489 hyperlink NFT. Slot content is written with
// setSlotUri from the transactor's key, which is the operator namespace the
// content lands in.
type SlotToken struct {
	address    common.Address
	backend    Backend
	transactor *Transactor
}

var _ token.SlotToken = (*SlotToken)(nil)

// NewSlotToken binds an ERC-5489 contract.
func NewSlotToken(address common.Address, backend Backend, transactor *Transactor) *SlotToken {
	return &SlotToken{address: address, backend: backend, transactor: transactor}
}

// Address implements token.SlotToken.
func (s *SlotToken) Address() common.Address {
	return s.address
}

// OwnerOf implements token.SlotToken.
func (s *SlotToken) OwnerOf(ctx context.Context, slotID uint64) (common.Address, error) {
	out, err := call(ctx, s.backend, erc5489ABI, s.address, "ownerOf", new(big.Int).SetUint64(slotID))
	if err != nil {
		return common.Address{}, err
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unpack ownerOf: unexpected type %T", out[0])
	}
	if owner == (common.Address{}) {
		return common.Address{}, token.ErrNonexistentToken
	}
	return owner, nil
}

// IsApprovedForAll implements token.SlotToken.
func (s *SlotToken) IsApprovedForAll(ctx context.Context, owner common.Address, operator common.Address) (bool, error) {
	out, err := call(ctx, s.backend, erc5489ABI, s.address, "isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}
	approved, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unpack isApprovedForAll: unexpected type %T", out[0])
	}
	return approved, nil
}

// SetSlotURI implements token.SlotToken. Operator approval is checked with
// eth_call first so a missing approval fails before any gas is spent.
func (s *SlotToken) SetSlotURI(ctx context.Context, operator common.Address, slotID uint64, uri string) error {
	if operator != s.transactor.From() {
		return fmt.Errorf("%w: operator %s", token.ErrNotSigner, operator.Hex())
	}

	owner, err := s.OwnerOf(ctx, slotID)
	if err != nil {
		return err
	}

	if owner != operator {
		approved, err := s.IsApprovedForAll(ctx, owner, operator)
		if err != nil {
			return err
		}
		if !approved {
			return fmt.Errorf("%w: %s for owner %s", token.ErrNotApproved, operator.Hex(), owner.Hex())
		}
	}

	data, err := erc5489ABI.Pack("setSlotUri", new(big.Int).SetUint64(slotID), uri)
	if err != nil {
		return fmt.Errorf("pack setSlotUri: %w", err)
	}

	_, err = s.transactor.Send(ctx, s.address, data, "setSlotUri")
	return err
}

// SlotURI implements token.SlotToken.
func (s *SlotToken) SlotURI(ctx context.Context, slotID uint64, operator common.Address) (string, error) {
	out, err := call(ctx, s.backend, erc5489ABI, s.address, "getSlotUri", new(big.Int).SetUint64(slotID), operator)
	if err != nil {
		return "", err
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("unpack getSlotUri: unexpected type %T", out[0])
	}
	return uri, nil
}
