package auction

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/internal/escrow"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// BidRequest asks for the right to set a slot's content.
type BidRequest struct {
	SlotID       uint64
	SlotToken    common.Address
	PaymentToken common.Address
	Amount       *big.Int
	ContentURI   string
}

// Refund describes escrow returned to a displaced bidder.
type Refund struct {
	BidID        uint64
	Bidder       common.Address
	PaymentToken common.Address
	Amount       *big.Int
}

// BidResult is returned by an accepted bid.
type BidResult struct {
	Bid    escrow.HighestBid
	Refund *Refund // nil when the slot had no previous bid
}

// Bid places a bid on a slot. The bidder must have allowed the engine to
// pull at least req.Amount of the payment token, and the slot owner must have
// approved the engine as an operator on the slot token.
//
// A previous bid must be outbid by at least 120% of its original amount. On
// success the full remaining escrow of the previous bid is refunded and the
// slot's content under the engine's operator namespace is set to
// req.ContentURI.
func (e *Engine) Bid(ctx context.Context, bidder common.Address, req BidRequest) (result *BidResult, err error) {
	start := time.Now()
	defer func() {
		OperationDurationSeconds.WithLabelValues("bid").Observe(time.Since(start).Seconds())
		BidsTotal.WithLabelValues(outcomeLabel(err, "accepted")).Inc()
	}()

	if inOperation(ctx) {
		return nil, reentrantError(req.SlotID)
	}

	err = validateBid(bidder, req)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	err = e.checkGuardLocked(req.SlotID)
	if err != nil {
		return nil, err
	}

	ctx = enterOperation(ctx)

	prev, hasPrev := e.ledger.Current(req.SlotID)
	if hasPrev && !escrow.RaiseAccepted(prev.OriginalAmount, req.Amount) {
		e.logger.Info("bid-rejected-too-low",
			zap.Uint64("slot-id", req.SlotID),
			zap.String("bidder", bidder.Hex()),
			zap.String("amount", req.Amount.String()),
			zap.String("minimum", escrow.MinimumRaise(prev.OriginalAmount).String()))
		tooLow := types.NewError(types.KindBidTooLow, req.SlotID, types.MsgBidTooLow)
		tooLow.BidID = prev.BidID
		return nil, tooLow
	}

	pay, err := e.registry.PaymentToken(ctx, req.PaymentToken)
	if err != nil {
		return nil, types.CollaboratorError(req.SlotID, "resolve payment token", err)
	}

	slots, err := e.registry.SlotToken(ctx, req.SlotToken)
	if err != nil {
		return nil, types.CollaboratorError(req.SlotID, "resolve slot token", err)
	}

	refundToken := pay
	if hasPrev && prev.PaymentToken != req.PaymentToken {
		refundToken, err = e.registry.PaymentToken(ctx, prev.PaymentToken)
		if err != nil {
			return nil, types.CollaboratorError(req.SlotID, "resolve refund token", err)
		}
	}

	// Read current content first so it can be put back if a later step fails.
	prevURI, err := slots.SlotURI(ctx, req.SlotID, e.address)
	if err != nil {
		return nil, types.CollaboratorError(req.SlotID, "read slot content", err)
	}

	err = pay.TransferFrom(ctx, e.address, bidder, e.address, req.Amount)
	if ref, ok := token.UnconfirmedRef(err); ok {
		e.trackLocked(PendingTransfer{
			Ref:          ref,
			Op:           PendingPull,
			SlotID:       req.SlotID,
			PaymentToken: req.PaymentToken,
			SlotToken:    req.SlotToken,
			Caller:       bidder,
			Account:      bidder,
			Amount:       new(big.Int).Set(req.Amount),
		})
		return nil, types.UnconfirmedError(req.SlotID, 0, "pull escrow", err)
	}
	if err != nil {
		return nil, types.CollaboratorError(req.SlotID, "pull escrow", err)
	}

	err = slots.SetSlotURI(ctx, e.address, req.SlotID, req.ContentURI)
	if err != nil {
		// An unconfirmed write may still land, so put the old content back after it.
		contentChanged := errors.Is(err, token.ErrUnconfirmed)
		cause := types.CollaboratorError(req.SlotID, "set slot content", err)
		return nil, e.rollbackBid(ctx, cause, req, bidder, pay, slots, prevURI, contentChanged)
	}

	bid := escrow.HighestBid{
		BidID:           e.ledger.NextBidID(),
		Bidder:          bidder,
		PaymentToken:    req.PaymentToken,
		SlotToken:       req.SlotToken,
		OriginalAmount:  new(big.Int).Set(req.Amount),
		RemainingAmount: new(big.Int).Set(req.Amount),
	}
	old, existed := e.ledger.Replace(req.SlotID, bid)

	result = &BidResult{}
	var refundErr error
	if existed {
		if old.RemainingAmount.Sign() > 0 {
			err = refundToken.Transfer(ctx, e.address, old.Bidder, old.RemainingAmount)
			if ref, ok := token.UnconfirmedRef(err); ok {
				e.trackLocked(PendingTransfer{
					Ref:          ref,
					Op:           PendingRefund,
					SlotID:       req.SlotID,
					BidID:        old.BidID,
					PaymentToken: old.PaymentToken,
					SlotToken:    req.SlotToken,
					Caller:       bidder,
					Account:      old.Bidder,
					Amount:       new(big.Int).Set(old.RemainingAmount),
				})
				refundErr = err
			} else if err != nil {
				cause := types.CollaboratorError(req.SlotID, "refund previous bidder", err)
				e.ledger.Restore(req.SlotID, old, existed)
				return nil, e.rollbackBid(ctx, cause, req, bidder, pay, slots, prevURI, true)
			}
		}
	}
	if existed && refundErr == nil {
		result.Refund = &Refund{
			BidID:        old.BidID,
			Bidder:       old.Bidder,
			PaymentToken: old.PaymentToken,
			Amount:       new(big.Int).Set(old.RemainingAmount),
		}
	}

	result.Bid, _ = e.ledger.Current(req.SlotID)

	e.logger.Info("bid-accepted",
		zap.Uint64("slot-id", req.SlotID),
		zap.Uint64("bid-id", result.Bid.BidID),
		zap.String("bidder", bidder.Hex()),
		zap.String("amount", req.Amount.String()),
		zap.Bool("outbid", existed))

	if result.Refund != nil {
		RefundsTotal.Inc()
		e.logger.Info("refund-issued",
			zap.Uint64("slot-id", req.SlotID),
			zap.Uint64("displaced-bid-id", result.Refund.BidID),
			zap.String("bidder", result.Refund.Bidder.Hex()),
			zap.String("amount", result.Refund.Amount.String()))
	}

	ev := types.NewEvent(types.EventBidAccepted, req.SlotID, result.Bid.BidID)
	ev.Account = bidder
	ev.Caller = bidder
	ev.PaymentToken = req.PaymentToken
	ev.SlotToken = req.SlotToken
	ev.Amount = new(big.Int).Set(req.Amount)
	ev.ContentURI = req.ContentURI
	e.publishLocked(ctx, ev)

	if result.Refund != nil {
		ev := types.NewEvent(types.EventRefundIssued, req.SlotID, result.Refund.BidID)
		ev.Account = result.Refund.Bidder
		ev.Caller = bidder
		ev.PaymentToken = result.Refund.PaymentToken
		ev.SlotToken = req.SlotToken
		ev.Amount = new(big.Int).Set(result.Refund.Amount)
		e.publishLocked(ctx, ev)
	}

	if refundErr != nil {
		// The bid stands; the refund event follows once the transfer settles.
		return nil, types.UnconfirmedError(req.SlotID, result.Bid.BidID, "refund previous bidder", refundErr)
	}

	return result, nil
}

// rollbackBid undoes the collaborator side effects of a failed bid: slot
// content is put back when it was changed, and the pulled funds go back to the
// bidder. Failed compensation steps are joined onto cause. An unconfirmed
// return is tracked as pending rather than retried here.
func (e *Engine) rollbackBid(
	ctx context.Context,
	cause error,
	req BidRequest,
	bidder common.Address,
	pay token.PaymentToken,
	slots token.SlotToken,
	prevURI string,
	contentChanged bool,
) error {
	errs := []error{cause}

	if contentChanged && slots != nil {
		err := slots.SetSlotURI(ctx, e.address, req.SlotID, prevURI)
		if err != nil {
			CompensationFailuresTotal.WithLabelValues("restore-content").Inc()
			e.logger.Error("bid-rollback-restore-content-failed",
				zap.Uint64("slot-id", req.SlotID),
				zap.Error(err))
			errs = append(errs, err)
		}
	}

	err := pay.Transfer(ctx, e.address, bidder, req.Amount)
	if ref, ok := token.UnconfirmedRef(err); ok {
		e.trackLocked(PendingTransfer{
			Ref:          ref,
			Op:           PendingReturn,
			SlotID:       req.SlotID,
			PaymentToken: req.PaymentToken,
			SlotToken:    req.SlotToken,
			Caller:       bidder,
			Account:      bidder,
			Amount:       new(big.Int).Set(req.Amount),
		})
		errs = append(errs, err)
	} else if err != nil {
		CompensationFailuresTotal.WithLabelValues("return-funds").Inc()
		e.logger.Error("bid-rollback-return-funds-failed",
			zap.Uint64("slot-id", req.SlotID),
			zap.String("bidder", bidder.Hex()),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		errs = append(errs, err)
	}

	e.logger.Warn("bid-rolled-back",
		zap.Uint64("slot-id", req.SlotID),
		zap.String("bidder", bidder.Hex()),
		zap.Error(cause))

	if len(errs) == 1 {
		return cause
	}
	return errors.Join(errs...)
}

func validateBid(bidder common.Address, req BidRequest) error {
	if bidder == (common.Address{}) {
		return validationError(req.SlotID, "bidder cannot be the zero address")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return validationError(req.SlotID, "bid amount must be positive")
	}
	if req.SlotToken == (common.Address{}) {
		return validationError(req.SlotID, "slot token address is required")
	}
	if req.PaymentToken == (common.Address{}) {
		return validationError(req.SlotID, "payment token address is required")
	}
	return nil
}

// outcomeLabel turns an operation error into a metric label.
func outcomeLabel(err error, success string) string {
	if err == nil {
		return success
	}
	kind := types.KindOf(err)
	if kind == "" {
		return "error"
	}
	return strings.ToLower(string(kind))
}
