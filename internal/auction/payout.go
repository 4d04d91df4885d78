package auction

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/internal/escrow"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// PayoutResult is returned by an applied payout.
type PayoutResult struct {
	BidID      uint64
	SlotID     uint64
	Recipients []common.Address
	Amounts    []*big.Int
	Total      *big.Int
	Remaining  *big.Int
}

// Payout draws amount from the slot's escrow and pays it to caller.
// bidID must identify the slot's current winning bid.
func (e *Engine) Payout(
	ctx context.Context,
	caller common.Address,
	bidID uint64,
	slotID uint64,
	amount *big.Int,
) (result *PayoutResult, err error) {
	start := time.Now()
	defer func() {
		OperationDurationSeconds.WithLabelValues("payout").Observe(time.Since(start).Seconds())
		PayoutsTotal.WithLabelValues("single", outcomeLabel(err, "applied")).Inc()
	}()

	if inOperation(ctx) {
		return nil, reentrantError(slotID)
	}

	if caller == (common.Address{}) {
		return nil, validationError(slotID, "caller cannot be the zero address")
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, validationError(slotID, "payout amount must be positive")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.checkGuardLocked(slotID)
	if err != nil {
		return nil, err
	}

	ctx = enterOperation(ctx)

	bid, pay, err := e.authorizePayoutLocked(ctx, caller, bidID, slotID)
	if err != nil {
		return nil, err
	}

	err = e.ledger.Decrement(slotID, bidID, amount)
	if err != nil {
		return nil, err
	}

	err = pay.Transfer(ctx, e.address, caller, amount)
	if ref, ok := token.UnconfirmedRef(err); ok {
		e.trackPayoutLocked(ref, bid, caller, []common.Address{caller}, []*big.Int{amount})
		return nil, types.UnconfirmedError(slotID, bidID, "push payout", err)
	}
	if err != nil {
		cause := types.CollaboratorError(slotID, "push payout", err)
		return nil, e.creditBack(slotID, bidID, amount, cause)
	}

	cur, _ := e.ledger.Current(slotID)

	e.logger.Info("payout-applied",
		zap.Uint64("slot-id", slotID),
		zap.Uint64("bid-id", bidID),
		zap.String("recipient", caller.Hex()),
		zap.String("amount", amount.String()),
		zap.String("remaining", cur.RemainingAmount.String()))

	e.publishPayoutLocked(ctx, bid, caller, caller, amount)

	return &PayoutResult{
		BidID:      bidID,
		SlotID:     slotID,
		Recipients: []common.Address{caller},
		Amounts:    []*big.Int{new(big.Int).Set(amount)},
		Total:      new(big.Int).Set(amount),
		Remaining:  cur.RemainingAmount,
	}, nil
}

// BatchPayout pays amounts[i] to recipients[i] from the slot's escrow.
// Either the sum fits in the remaining escrow and every recipient is paid, or
// nobody is.
func (e *Engine) BatchPayout(
	ctx context.Context,
	caller common.Address,
	bidID uint64,
	slotID uint64,
	amounts []*big.Int,
	recipients []common.Address,
) (result *PayoutResult, err error) {
	start := time.Now()
	defer func() {
		OperationDurationSeconds.WithLabelValues("batch_payout").Observe(time.Since(start).Seconds())
		PayoutsTotal.WithLabelValues("batch", outcomeLabel(err, "applied")).Inc()
	}()

	if inOperation(ctx) {
		return nil, reentrantError(slotID)
	}

	err = validateBatch(caller, slotID, amounts, recipients)
	if err != nil {
		return nil, err
	}

	total := types.Sum(amounts)

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.checkGuardLocked(slotID)
	if err != nil {
		return nil, err
	}

	ctx = enterOperation(ctx)

	bid, pay, err := e.authorizePayoutLocked(ctx, caller, bidID, slotID)
	if err != nil {
		return nil, err
	}

	err = e.ledger.Decrement(slotID, bidID, total)
	if err != nil {
		return nil, err
	}

	err = e.pushBatch(ctx, bid, caller, pay, amounts, recipients, total)
	if err != nil {
		return nil, err
	}

	cur, _ := e.ledger.Current(slotID)

	e.logger.Info("batch-payout-applied",
		zap.Uint64("slot-id", slotID),
		zap.Uint64("bid-id", bidID),
		zap.String("caller", caller.Hex()),
		zap.Int("recipients", len(recipients)),
		zap.String("total", total.String()),
		zap.String("remaining", cur.RemainingAmount.String()))

	for i, to := range recipients {
		e.publishPayoutLocked(ctx, bid, caller, to, amounts[i])
	}

	copied := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		copied[i] = new(big.Int).Set(a)
	}

	return &PayoutResult{
		BidID:      bidID,
		SlotID:     slotID,
		Recipients: append([]common.Address(nil), recipients...),
		Amounts:    copied,
		Total:      total,
		Remaining:  cur.RemainingAmount,
	}, nil
}

// pushBatch delivers an already-decremented batch. Tokens that can transfer a
// batch atomically do so; otherwise custody is checked up front and transfers
// go out one by one. On failure anything never sent is credited back, and
// payouts already delivered are published since they cannot be undone.
func (e *Engine) pushBatch(
	ctx context.Context,
	bid escrow.HighestBid,
	caller common.Address,
	pay token.PaymentToken,
	amounts []*big.Int,
	recipients []common.Address,
	total *big.Int,
) error {
	slotID, bidID := bid.SlotID, bid.BidID

	if batcher, ok := pay.(token.BatchTransferer); ok {
		err := batcher.BatchTransfer(ctx, e.address, recipients, amounts)
		if ref, ok := token.UnconfirmedRef(err); ok {
			e.trackPayoutLocked(ref, bid, caller, recipients, amounts)
			return types.UnconfirmedError(slotID, bidID, "push batch payout", err)
		}
		if err != nil {
			cause := types.CollaboratorError(slotID, "push batch payout", err)
			return e.creditBack(slotID, bidID, total, cause)
		}
		return nil
	}

	balance, err := pay.BalanceOf(ctx, e.address)
	if err != nil {
		cause := types.CollaboratorError(slotID, "read custody balance", err)
		return e.creditBack(slotID, bidID, total, cause)
	}
	if balance.Cmp(total) < 0 {
		cause := types.CollaboratorError(slotID, "push batch payout",
			fmt.Errorf("%w: custody %s, batch %s", token.ErrInsufficientBalance, balance, total))
		return e.creditBack(slotID, bidID, total, cause)
	}

	for i, to := range recipients {
		err = pay.Transfer(ctx, e.address, to, amounts[i])
		if err == nil {
			continue
		}

		for j := 0; j < i; j++ {
			e.publishPayoutLocked(ctx, bid, caller, recipients[j], amounts[j])
		}

		op := fmt.Sprintf("push batch payout to recipient %d", i)
		if ref, ok := token.UnconfirmedRef(err); ok {
			e.trackPayoutLocked(ref, bid, caller, recipients[i:i+1], amounts[i:i+1])
			cause := types.UnconfirmedError(slotID, bidID, op, err)
			unsent := types.Sum(amounts[i+1:])
			if unsent.Sign() == 0 {
				return cause
			}
			return e.creditBack(slotID, bidID, unsent, cause)
		}

		undelivered := types.Sum(amounts[i:])
		e.logger.Error("batch-payout-partially-delivered",
			zap.Uint64("slot-id", slotID),
			zap.Uint64("bid-id", bidID),
			zap.Int("delivered", i),
			zap.String("undelivered", undelivered.String()),
			zap.Error(err))
		return e.creditBack(slotID, bidID, undelivered, types.CollaboratorError(slotID, op, err))
	}

	return nil
}

// trackPayoutLocked records an unconfirmed payout push. The escrow stays
// decremented; a failed outcome credits it back.
func (e *Engine) trackPayoutLocked(
	ref string,
	bid escrow.HighestBid,
	caller common.Address,
	recipients []common.Address,
	amounts []*big.Int,
) {
	copied := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		copied[i] = new(big.Int).Set(a)
	}
	e.trackLocked(PendingTransfer{
		Ref:          ref,
		Op:           PendingPayout,
		SlotID:       bid.SlotID,
		BidID:        bid.BidID,
		PaymentToken: bid.PaymentToken,
		SlotToken:    bid.SlotToken,
		Caller:       caller,
		Recipients:   append([]common.Address(nil), recipients...),
		Amounts:      copied,
		Amount:       types.Sum(copied),
	})
}

// authorizePayoutLocked checks the bid id and, under the owner policy, that
// caller owns the slot. It resolves the bid's payment token.
func (e *Engine) authorizePayoutLocked(
	ctx context.Context,
	caller common.Address,
	bidID uint64,
	slotID uint64,
) (escrow.HighestBid, token.PaymentToken, error) {
	bid, ok := e.ledger.Current(slotID)
	if !ok || bid.BidID != bidID {
		mismatch := types.NewError(types.KindAuthorization, slotID, types.MsgBidIDMismatch)
		mismatch.BidID = bidID
		return escrow.HighestBid{}, nil, mismatch
	}

	if e.policy == PayoutPolicyOwner {
		slots, err := e.registry.SlotToken(ctx, bid.SlotToken)
		if err != nil {
			return escrow.HighestBid{}, nil, types.CollaboratorError(slotID, "resolve slot token", err)
		}

		owner, err := slots.OwnerOf(ctx, slotID)
		if err != nil {
			return escrow.HighestBid{}, nil, types.CollaboratorError(slotID, "read slot owner", err)
		}

		if owner != caller {
			notOwner := types.NewError(types.KindAuthorization, slotID, "caller is not the slot owner")
			notOwner.BidID = bidID
			return escrow.HighestBid{}, nil, notOwner
		}
	}

	pay, err := e.registry.PaymentToken(ctx, bid.PaymentToken)
	if err != nil {
		return escrow.HighestBid{}, nil, types.CollaboratorError(slotID, "resolve payment token", err)
	}

	return bid, pay, nil
}

// creditBack returns amount to the escrow after a failed push.
func (e *Engine) creditBack(slotID uint64, bidID uint64, amount *big.Int, cause error) error {
	err := e.ledger.Credit(slotID, bidID, amount)
	if err != nil {
		CompensationFailuresTotal.WithLabelValues("credit-escrow").Inc()
		e.logger.Error("payout-rollback-credit-failed",
			zap.Uint64("slot-id", slotID),
			zap.Uint64("bid-id", bidID),
			zap.String("amount", amount.String()),
			zap.Error(err))
		return errors.Join(cause, err)
	}
	return cause
}

func (e *Engine) publishPayoutLocked(
	ctx context.Context,
	bid escrow.HighestBid,
	caller common.Address,
	recipient common.Address,
	amount *big.Int,
) {
	ev := types.NewEvent(types.EventPayoutApplied, bid.SlotID, bid.BidID)
	ev.Account = recipient
	ev.Caller = caller
	ev.PaymentToken = bid.PaymentToken
	ev.SlotToken = bid.SlotToken
	ev.Amount = new(big.Int).Set(amount)
	e.publishLocked(ctx, ev)
}

func validateBatch(caller common.Address, slotID uint64, amounts []*big.Int, recipients []common.Address) error {
	if caller == (common.Address{}) {
		return validationError(slotID, "caller cannot be the zero address")
	}
	if len(amounts) != len(recipients) {
		return validationError(slotID, "amounts and recipients length mismatch: %d != %d", len(amounts), len(recipients))
	}
	if len(amounts) == 0 {
		return validationError(slotID, "batch payout needs at least one recipient")
	}
	for i, a := range amounts {
		if a == nil || a.Sign() <= 0 {
			return validationError(slotID, "amount %d must be positive", i)
		}
		if recipients[i] == (common.Address{}) {
			return validationError(slotID, "recipient %d cannot be the zero address", i)
		}
	}
	return nil
}
