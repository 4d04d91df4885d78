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

// PendingOp names the engine step that submitted a pending transfer.
type PendingOp string

// Pending transfer operations.
const (
	// PendingPayout is a payout push. The escrow stays decremented.
	PendingPayout PendingOp = "payout"
	// PendingPull is a bid's escrow pull. No bid was recorded.
	PendingPull PendingOp = "pull"
	// PendingRefund is the refund to a displaced bidder. The new bid stands.
	PendingRefund PendingOp = "refund"
	// PendingReturn returns pulled funds to a bidder whose bid failed.
	PendingReturn PendingOp = "return-funds"
)

// PendingTransfer is a transfer that was submitted but not confirmed.
// Settlement is halted while any exist.
type PendingTransfer struct {
	Ref          string
	Op           PendingOp
	SlotID       uint64
	BidID        uint64
	PaymentToken common.Address
	SlotToken    common.Address
	Caller       common.Address
	// Account receives the funds for pull, refund and return-funds entries.
	Account common.Address
	// Recipients and Amounts list the payouts a payout entry covers.
	Recipients []common.Address
	Amounts    []*big.Int
	Amount     *big.Int
	Since      time.Time
}

func (p PendingTransfer) clone() PendingTransfer {
	c := p
	c.Recipients = append([]common.Address(nil), p.Recipients...)
	c.Amounts = make([]*big.Int, len(p.Amounts))
	for i, a := range p.Amounts {
		c.Amounts[i] = new(big.Int).Set(a)
	}
	c.Amount = new(big.Int).Set(p.Amount)
	return c
}

// Pending returns the transfers awaiting confirmation, oldest first.
func (e *Engine) Pending(ctx context.Context) ([]PendingTransfer, error) {
	if inOperation(ctx) {
		return nil, reentrantError(0)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]PendingTransfer, len(e.pending))
	for i, p := range e.pending {
		out[i] = p.clone()
	}
	return out, nil
}

// ReconcilePending asks each pending transfer's payment token how it settled
// and finishes the operation that submitted it. It returns how many transfers
// are still pending. Tokens that do not implement token.Confirmer cannot be
// reconciled and keep their entries.
func (e *Engine) ReconcilePending(ctx context.Context) (remaining int, err error) {
	if inOperation(ctx) {
		return 0, reentrantError(0)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.pending) == 0 {
		return 0, nil
	}

	ctx = enterOperation(ctx)

	var errs []error
	kept := make([]PendingTransfer, 0, len(e.pending))
	for _, p := range e.pending {
		next, rerr := e.resolvePendingLocked(ctx, p)
		if rerr != nil {
			errs = append(errs, rerr)
		}
		kept = append(kept, next...)
	}
	e.pending = kept
	PendingTransfers.Set(float64(len(e.pending)))

	return len(e.pending), errors.Join(errs...)
}

// resolvePendingLocked settles one entry and returns what must stay pending,
// which is the entry itself, a follow-up transfer, or nothing.
func (e *Engine) resolvePendingLocked(ctx context.Context, p PendingTransfer) ([]PendingTransfer, error) {
	pay, err := e.registry.PaymentToken(ctx, p.PaymentToken)
	if err != nil {
		return []PendingTransfer{p}, fmt.Errorf("resolve payment token for %s: %w", p.Ref, err)
	}

	confirmer, ok := pay.(token.Confirmer)
	if !ok {
		return []PendingTransfer{p}, fmt.Errorf("payment token %s cannot confirm %s", p.PaymentToken.Hex(), p.Ref)
	}

	status, err := confirmer.TransferStatus(ctx, p.Ref)
	if err != nil {
		return []PendingTransfer{p}, fmt.Errorf("transfer status %s: %w", p.Ref, err)
	}
	if status == token.TransferPending {
		return []PendingTransfer{p}, nil
	}

	PendingResolvedTotal.WithLabelValues(string(p.Op), status.String()).Inc()
	e.logger.Info("pending-transfer-resolved",
		zap.String("ref", p.Ref),
		zap.String("operation", string(p.Op)),
		zap.Uint64("slot-id", p.SlotID),
		zap.Uint64("bid-id", p.BidID),
		zap.String("status", status.String()))

	switch p.Op {
	case PendingPayout:
		if status == token.TransferConfirmed {
			bid := escrow.HighestBid{
				BidID:        p.BidID,
				SlotID:       p.SlotID,
				PaymentToken: p.PaymentToken,
				SlotToken:    p.SlotToken,
			}
			for i, to := range p.Recipients {
				e.publishPayoutLocked(ctx, bid, p.Caller, to, p.Amounts[i])
			}
			return nil, nil
		}
		cause := fmt.Errorf("payout %s failed on settlement", p.Ref)
		err = e.ledger.Credit(p.SlotID, p.BidID, p.Amount)
		if err != nil {
			CompensationFailuresTotal.WithLabelValues("credit-escrow").Inc()
			return nil, errors.Join(cause, err)
		}
		return nil, nil

	case PendingPull:
		if status == token.TransferFailed {
			return nil, nil
		}
		// The funds arrived for a bid that was never recorded.
		return e.sendLocked(ctx, pay, p, PendingReturn)

	case PendingRefund:
		if status == token.TransferConfirmed {
			e.publishRefundLocked(ctx, p)
			return nil, nil
		}
		return e.sendLocked(ctx, pay, p, PendingRefund)

	case PendingReturn:
		if status == token.TransferConfirmed {
			return nil, nil
		}
		return e.sendLocked(ctx, pay, p, PendingReturn)

	default:
		return []PendingTransfer{p}, fmt.Errorf("unknown pending operation %q", p.Op)
	}
}

// sendLocked pays p.Amount to p.Account from custody. A transfer that fails
// outright keeps p so the next pass tries again.
func (e *Engine) sendLocked(
	ctx context.Context,
	pay token.PaymentToken,
	p PendingTransfer,
	op PendingOp,
) ([]PendingTransfer, error) {
	err := pay.Transfer(ctx, e.address, p.Account, p.Amount)
	if ref, ok := token.UnconfirmedRef(err); ok {
		next := p
		next.Ref = ref
		next.Op = op
		next.Since = time.Now()
		return []PendingTransfer{next}, nil
	}
	if err != nil {
		return []PendingTransfer{p}, fmt.Errorf("resend %s to %s: %w", op, p.Account.Hex(), err)
	}

	if op == PendingRefund {
		e.publishRefundLocked(ctx, p)
	}
	return nil, nil
}

// trackLocked records a submitted transfer whose outcome is unknown.
func (e *Engine) trackLocked(p PendingTransfer) {
	p.Since = time.Now()
	e.pending = append(e.pending, p)
	PendingTransfers.Set(float64(len(e.pending)))

	e.logger.Warn("transfer-unconfirmed",
		zap.String("ref", p.Ref),
		zap.String("operation", string(p.Op)),
		zap.Uint64("slot-id", p.SlotID),
		zap.Uint64("bid-id", p.BidID),
		zap.String("amount", p.Amount.String()))
}

func (e *Engine) publishRefundLocked(ctx context.Context, p PendingTransfer) {
	RefundsTotal.Inc()
	ev := types.NewEvent(types.EventRefundIssued, p.SlotID, p.BidID)
	ev.Account = p.Account
	ev.Caller = p.Caller
	ev.PaymentToken = p.PaymentToken
	ev.SlotToken = p.SlotToken
	ev.Amount = new(big.Int).Set(p.Amount)
	e.publishLocked(ctx, ev)
}
