package types

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// EventKind names an observable settlement event.
type EventKind string

// Event kinds. The values match the event names of the deployed contract.
const (
	EventBidAccepted   EventKind = "BidSuccessed"
	EventRefundIssued  EventKind = "RefundPreviousBidIncreased"
	EventPayoutApplied EventKind = "PayOutIncreased"
)

// Event is emitted after a settlement operation commits.
//
// Account is the party whose balance moved: the bidder for a bid, the
// displaced bidder for a refund, the recipient for a payout.
type Event struct {
	ID           string         `json:"id"`
	Kind         EventKind      `json:"kind"`
	BidID        uint64         `json:"bid_id"`
	SlotID       uint64         `json:"slot_id"`
	Account      common.Address `json:"account"`
	Caller       common.Address `json:"caller"`
	PaymentToken common.Address `json:"payment_token"`
	SlotToken    common.Address `json:"slot_token"`
	Amount       *big.Int       `json:"amount"`
	ContentURI   string         `json:"content_uri,omitempty"`
	OccurredAt   time.Time      `json:"occurred_at"`
}

// NewEvent stamps a fresh id and time on an event.
func NewEvent(kind EventKind, slotID uint64, bidID uint64) *Event {
	return &Event{
		ID:         uuid.New().String(),
		Kind:       kind,
		SlotID:     slotID,
		BidID:      bidID,
		OccurredAt: time.Now().UTC(),
	}
}
