package httpserver

import (
	"math/big"

	"github.com/mselser95/slot-auction/internal/auction"
	"github.com/mselser95/slot-auction/internal/escrow"
	"github.com/mselser95/slot-auction/pkg/types"
)

// Request and response bodies of the REST API. Amounts are base-10 strings
// and addresses are 0x-prefixed hex.

// BidRequest is the signed body of POST /api/slots/{slotID}/bids.
type BidRequest struct {
	SlotID       uint64 `json:"slot_id"`
	SlotToken    string `json:"slot_token"`
	PaymentToken string `json:"payment_token"`
	Amount       string `json:"amount"`
	ContentURI   string `json:"content_uri"`
	Timestamp    int64  `json:"timestamp"`
}

// PayoutRequest is the signed body of POST /api/slots/{slotID}/payouts.
type PayoutRequest struct {
	SlotID    uint64 `json:"slot_id"`
	BidID     uint64 `json:"bid_id"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// BatchPayoutRequest is the signed body of POST /api/slots/{slotID}/batch-payouts.
type BatchPayoutRequest struct {
	SlotID     uint64   `json:"slot_id"`
	BidID      uint64   `json:"bid_id"`
	Amounts    []string `json:"amounts"`
	Recipients []string `json:"recipients"`
	Timestamp  int64    `json:"timestamp"`
}

// HighestBidResponse describes a slot's winning bid. Amount is the escrow
// still claimable.
type HighestBidResponse struct {
	SlotID         uint64 `json:"slot_id"`
	BidID          uint64 `json:"bid_id"`
	Bidder         string `json:"bidder"`
	Amount         string `json:"amount"`
	OriginalAmount string `json:"original_amount"`
	PaymentToken   string `json:"payment_token"`
	SlotToken      string `json:"slot_token"`
}

// RefundResponse describes escrow returned to an outbid bidder.
type RefundResponse struct {
	BidID        uint64 `json:"bid_id"`
	Bidder       string `json:"bidder"`
	PaymentToken string `json:"payment_token"`
	Amount       string `json:"amount"`
}

// BidResponse is returned by an accepted bid.
type BidResponse struct {
	Bid    HighestBidResponse `json:"bid"`
	Refund *RefundResponse    `json:"refund,omitempty"`
}

// PayoutResponse is returned by an applied payout or batch payout.
type PayoutResponse struct {
	SlotID     uint64   `json:"slot_id"`
	BidID      uint64   `json:"bid_id"`
	Recipients []string `json:"recipients"`
	Amounts    []string `json:"amounts"`
	Total      string   `json:"total"`
	Remaining  string   `json:"remaining"`
}

// EventsResponse lists journaled events for a slot, oldest first.
type EventsResponse struct {
	SlotID uint64         `json:"slot_id"`
	Events []*types.Event `json:"events"`
}

// BalanceResponse reports a payment token balance.
type BalanceResponse struct {
	Token   string `json:"token"`
	Account string `json:"account"`
	Balance string `json:"balance"`
}

// ContentResponse reports the content this engine set on a slot.
type ContentResponse struct {
	SlotID     uint64 `json:"slot_id"`
	SlotToken  string `json:"slot_token"`
	Operator   string `json:"operator"`
	ContentURI string `json:"content_uri"`
}

// ErrorResponse represents an HTTP error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func toHighestBidResponse(b escrow.HighestBid) HighestBidResponse {
	return HighestBidResponse{
		SlotID:         b.SlotID,
		BidID:          b.BidID,
		Bidder:         b.Bidder.Hex(),
		Amount:         b.RemainingAmount.String(),
		OriginalAmount: b.OriginalAmount.String(),
		PaymentToken:   b.PaymentToken.Hex(),
		SlotToken:      b.SlotToken.Hex(),
	}
}

func toBidResponse(res *auction.BidResult) BidResponse {
	resp := BidResponse{Bid: toHighestBidResponse(res.Bid)}
	if res.Refund != nil {
		resp.Refund = &RefundResponse{
			BidID:        res.Refund.BidID,
			Bidder:       res.Refund.Bidder.Hex(),
			PaymentToken: res.Refund.PaymentToken.Hex(),
			Amount:       res.Refund.Amount.String(),
		}
	}
	return resp
}

func toPayoutResponse(res *auction.PayoutResult) PayoutResponse {
	resp := PayoutResponse{
		SlotID:     res.SlotID,
		BidID:      res.BidID,
		Recipients: make([]string, len(res.Recipients)),
		Amounts:    amountStrings(res.Amounts),
		Total:      res.Total.String(),
		Remaining:  res.Remaining.String(),
	}
	for i, r := range res.Recipients {
		resp.Recipients[i] = r.Hex()
	}
	return resp
}

func amountStrings(amounts []*big.Int) []string {
	out := make([]string, len(amounts))
	for i, a := range amounts {
		out[i] = a.String()
	}
	return out
}
