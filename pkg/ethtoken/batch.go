package ethtoken

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/token"
)

// BatchPaymentToken is an ERC-20 payment token that sends batches through a
// Disperse helper contract, so every transfer in a batch shares one
// transaction and one receipt.
type BatchPaymentToken struct {
	*PaymentToken
	helper common.Address
}

var (
	_ token.PaymentToken    = (*BatchPaymentToken)(nil)
	_ token.BatchTransferer = (*BatchPaymentToken)(nil)
	_ token.Confirmer       = (*BatchPaymentToken)(nil)
)

// NewBatchPaymentToken wraps pay with the helper deployed at helper.
func NewBatchPaymentToken(pay *PaymentToken, helper common.Address) *BatchPaymentToken {
	return &BatchPaymentToken{PaymentToken: pay, helper: helper}
}

// Helper returns the batch helper contract address.
func (b *BatchPaymentToken) Helper() common.Address {
	return b.helper
}

// BatchTransfer implements token.BatchTransferer. The helper is approved for
// the full range the first time its allowance runs short.
func (b *BatchPaymentToken) BatchTransfer(
	ctx context.Context,
	from common.Address,
	recipients []common.Address,
	amounts []*big.Int,
) error {
	if from != b.transactor.From() {
		return fmt.Errorf("%w: sender %s", token.ErrNotSigner, from.Hex())
	}
	if len(recipients) != len(amounts) {
		return fmt.Errorf("batch length mismatch: %d recipients, %d amounts", len(recipients), len(amounts))
	}

	total := new(big.Int)
	for i, to := range recipients {
		if to == (common.Address{}) {
			return token.ErrInvalidRecipient
		}
		total.Add(total, amounts[i])
	}

	balance, err := b.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(total) < 0 {
		return fmt.Errorf("%w: have %s, need %s", token.ErrInsufficientBalance, balance, total)
	}

	err = b.ensureAllowance(ctx, from, total)
	if err != nil {
		return err
	}

	data, err := disperseABI.Pack("disperseToken", b.address, recipients, amounts)
	if err != nil {
		return fmt.Errorf("pack disperseToken: %w", err)
	}

	_, err = b.transactor.Send(ctx, b.helper, data, "disperseToken")
	return err
}

// ensureAllowance approves the helper when its allowance is below need. An
// approval moves no funds, so an unconfirmed one is reported as a plain
// failure and the batch is not sent.
func (b *BatchPaymentToken) ensureAllowance(ctx context.Context, owner common.Address, need *big.Int) error {
	allowance, err := b.Allowance(ctx, owner, b.helper)
	if err != nil {
		return err
	}
	if allowance.Cmp(need) >= 0 {
		return nil
	}

	data, err := erc20ABI.Pack("approve", b.helper, abi.MaxUint256)
	if err != nil {
		return fmt.Errorf("pack approve: %w", err)
	}

	_, err = b.transactor.Send(ctx, b.address, data, "approve")
	if err != nil {
		return fmt.Errorf("approve batch helper %s: %v", b.helper.Hex(), err)
	}
	return nil
}
