// Package escrow holds custody bookkeeping: which bid currently wins each
// slot and how much of it is still held by the engine.
package escrow

import (
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/types"
)

// HighestBid is the winning bid for a slot.
//
// OriginalAmount is fixed at bid time and is the base for the next raise.
// RemainingAmount starts equal to it and only decreases through payouts.
type HighestBid struct {
	BidID           uint64
	SlotID          uint64
	Bidder          common.Address
	PaymentToken    common.Address
	SlotToken       common.Address
	OriginalAmount  *big.Int
	RemainingAmount *big.Int
}

func (b HighestBid) clone() HighestBid {
	b.OriginalAmount = new(big.Int).Set(b.OriginalAmount)
	b.RemainingAmount = new(big.Int).Set(b.RemainingAmount)
	return b
}

// Raise threshold, as a ratio: a new bid must reach RaiseNumerator/RaiseDenominator
// of the current bid's original amount.
const (
	RaiseNumerator   = 120
	RaiseDenominator = 100
)

// RaiseAccepted reports whether amount outbids a bid whose original amount is
// original, using amount*100 >= original*120 in exact integer arithmetic.
func RaiseAccepted(original *big.Int, amount *big.Int) bool {
	lhs := new(big.Int).Mul(amount, big.NewInt(RaiseDenominator))
	rhs := new(big.Int).Mul(original, big.NewInt(RaiseNumerator))
	return lhs.Cmp(rhs) >= 0
}

// MinimumRaise returns the smallest amount RaiseAccepted accepts over original.
func MinimumRaise(original *big.Int) *big.Int {
	n := new(big.Int).Mul(original, big.NewInt(RaiseNumerator))
	q, r := new(big.Int).QuoRem(n, big.NewInt(RaiseDenominator), new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// Ledger maps slots to their highest bid and issues bid ids.
// It is the only place custody bookkeeping is mutated.
type Ledger struct {
	mu     sync.RWMutex
	bids   map[uint64]*HighestBid
	lastID uint64
}

// NewLedger creates an empty ledger. The first issued bid id is 1.
func NewLedger() *Ledger {
	return &Ledger{
		bids: make(map[uint64]*HighestBid),
	}
}

// NextBidID issues a fresh bid id. Ids are never reused, including ids of
// bids that were rolled back.
func (l *Ledger) NextBidID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastID++
	return l.lastID
}

// Current returns a copy of the slot's highest bid.
func (l *Ledger) Current(slotID uint64) (HighestBid, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	bid, ok := l.bids[slotID]
	if !ok {
		return HighestBid{}, false
	}
	return bid.clone(), true
}

// Replace installs bid as the slot's highest bid and returns the displaced one.
// The raise threshold must already have been checked by the caller.
func (l *Ledger) Replace(slotID uint64, bid HighestBid) (HighestBid, bool) {
	bid.SlotID = slotID
	bid = bid.clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	old, existed := l.bids[slotID]
	l.bids[slotID] = &bid
	if !existed {
		return HighestBid{}, false
	}
	return *old, true
}

// Restore undoes a Replace whose accompanying transfers failed.
func (l *Ledger) Restore(slotID uint64, old HighestBid, existed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !existed {
		delete(l.bids, slotID)
		return
	}
	old = old.clone()
	l.bids[slotID] = &old
}

// Decrement draws amount from the slot's escrow. It fails when bidID is not
// the slot's current bid or when amount exceeds what remains.
func (l *Ledger) Decrement(slotID uint64, bidID uint64, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bid, err := l.authorizeLocked(slotID, bidID)
	if err != nil {
		return err
	}

	if amount.Cmp(bid.RemainingAmount) > 0 {
		e := types.NewError(types.KindInsufficientEscrow, slotID, types.MsgInsufficientEscrow)
		e.BidID = bidID
		return e
	}

	bid.RemainingAmount = new(big.Int).Sub(bid.RemainingAmount, amount)
	return nil
}

// Credit returns amount to the slot's escrow after a failed outbound transfer.
// It never lifts the remaining amount above the original amount.
func (l *Ledger) Credit(slotID uint64, bidID uint64, amount *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	bid, err := l.authorizeLocked(slotID, bidID)
	if err != nil {
		return err
	}

	next := new(big.Int).Add(bid.RemainingAmount, amount)
	if next.Cmp(bid.OriginalAmount) > 0 {
		e := types.NewError(types.KindValidation, slotID, "credit exceeds original escrow")
		e.BidID = bidID
		return e
	}

	bid.RemainingAmount = next
	return nil
}

func (l *Ledger) authorizeLocked(slotID uint64, bidID uint64) (*HighestBid, error) {
	bid, ok := l.bids[slotID]
	if !ok || bid.BidID != bidID {
		e := types.NewError(types.KindAuthorization, slotID, types.MsgBidIDMismatch)
		e.BidID = bidID
		return nil, e
	}
	return bid, nil
}

// Snapshot returns copies of every highest bid, ordered by slot id.
func (l *Ledger) Snapshot() []HighestBid {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]HighestBid, 0, len(l.bids))
	for _, bid := range l.bids {
		out = append(out, bid.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotID < out[j].SlotID })
	return out
}

// EscrowTotals sums the remaining escrow per payment token.
func (l *Ledger) EscrowTotals() map[common.Address]*big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	totals := make(map[common.Address]*big.Int)
	for _, bid := range l.bids {
		sum, ok := totals[bid.PaymentToken]
		if !ok {
			sum = new(big.Int)
			totals[bid.PaymentToken] = sum
		}
		sum.Add(sum, bid.RemainingAmount)
	}
	return totals
}
