package ethtoken

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/mselser95/slot-auction/pkg/token"
)

// PaymentToken is an ERC-20 contract. Transfers are sent from the
// transactor's key, so `from` (or the spender) must be that account.
type PaymentToken struct {
	address    common.Address
	backend    Backend
	transactor *Transactor
}

var (
	_ token.PaymentToken = (*PaymentToken)(nil)
	_ token.Confirmer    = (*PaymentToken)(nil)
)

// NewPaymentToken binds an ERC-20 contract.
func NewPaymentToken(address common.Address, backend Backend, transactor *Transactor) *PaymentToken {
	return &PaymentToken{address: address, backend: backend, transactor: transactor}
}

// Address implements token.PaymentToken.
func (p *PaymentToken) Address() common.Address {
	return p.address
}

// BalanceOf implements token.PaymentToken.
func (p *PaymentToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	out, err := call(ctx, p.backend, erc20ABI, p.address, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	return asBigInt(out[0], "balanceOf")
}

// Allowance implements token.PaymentToken.
func (p *PaymentToken) Allowance(ctx context.Context, owner common.Address, spender common.Address) (*big.Int, error) {
	out, err := call(ctx, p.backend, erc20ABI, p.address, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(out[0], "allowance")
}

// TransferFrom implements token.PaymentToken. Allowance and balance are
// checked with eth_call first so the common failures surface as the shared
// collaborator errors instead of a reverted transaction.
func (p *PaymentToken) TransferFrom(
	ctx context.Context,
	spender common.Address,
	from common.Address,
	to common.Address,
	amount *big.Int,
) error {
	if spender != p.transactor.From() {
		return fmt.Errorf("%w: spender %s", token.ErrNotSigner, spender.Hex())
	}
	if to == (common.Address{}) {
		return token.ErrInvalidRecipient
	}

	allowance, err := p.Allowance(ctx, from, spender)
	if err != nil {
		return err
	}
	if allowance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", token.ErrInsufficientAllowance, allowance, amount)
	}

	balance, err := p.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", token.ErrInsufficientBalance, balance, amount)
	}

	data, err := erc20ABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return fmt.Errorf("pack transferFrom: %w", err)
	}

	_, err = p.transactor.Send(ctx, p.address, data, "transferFrom")
	return err
}

// Transfer implements token.PaymentToken.
func (p *PaymentToken) Transfer(ctx context.Context, from common.Address, to common.Address, amount *big.Int) error {
	if from != p.transactor.From() {
		return fmt.Errorf("%w: sender %s", token.ErrNotSigner, from.Hex())
	}
	if to == (common.Address{}) {
		return token.ErrInvalidRecipient
	}

	data, err := erc20ABI.Pack("transfer", to, amount)
	if err != nil {
		return fmt.Errorf("pack transfer: %w", err)
	}

	_, err = p.transactor.Send(ctx, p.address, data, "transfer")
	return err
}

// TransferStatus implements token.Confirmer. ref is a transaction hash.
func (p *PaymentToken) TransferStatus(ctx context.Context, ref string) (token.TransferStatus, error) {
	raw, err := hexutil.Decode(ref)
	if err != nil || len(raw) != common.HashLength {
		return token.TransferPending, fmt.Errorf("invalid transaction hash %q", ref)
	}
	return p.transactor.Status(ctx, common.HexToHash(ref))
}

func asBigInt(v interface{}, method string) (*big.Int, error) {
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unpack %s: unexpected type %T", method, v)
	}
	return n, nil
}
