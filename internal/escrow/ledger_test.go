package escrow

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	bidderA = common.HexToAddress("0x000000000000000000000000000000000000000a")
	bidderB = common.HexToAddress("0x000000000000000000000000000000000000000b")
	payTok  = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	slotTok = common.HexToAddress("0x0000000000000000000000000000000000005489")
)

func newBid(l *Ledger, bidder common.Address, amount int64) HighestBid {
	return HighestBid{
		BidID:           l.NextBidID(),
		Bidder:          bidder,
		PaymentToken:    payTok,
		SlotToken:       slotTok,
		OriginalAmount:  big.NewInt(amount),
		RemainingAmount: big.NewInt(amount),
	}
}

func TestRaiseAccepted(t *testing.T) {
	tests := []struct {
		name     string
		original int64
		amount   int64
		want     bool
	}{
		{name: "exactly-120-percent", original: 1000, amount: 1200, want: true},
		{name: "just-below", original: 1000, amount: 1199, want: false},
		{name: "above", original: 1000, amount: 5000, want: true},
		{name: "equal-amount", original: 1000, amount: 1000, want: false},
		{name: "non-multiple-of-five-rounds-up", original: 7, amount: 8, want: false},
		{name: "non-multiple-of-five-ceiling", original: 7, amount: 9, want: true},
		{name: "tiny-original", original: 1, amount: 2, want: true},
		{name: "tiny-original-equal", original: 1, amount: 1, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RaiseAccepted(big.NewInt(tt.original), big.NewInt(tt.amount))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMinimumRaise(t *testing.T) {
	for _, original := range []int64{1, 3, 7, 10, 999, 1000, 1001} {
		minimum := MinimumRaise(big.NewInt(original))
		assert.True(t, RaiseAccepted(big.NewInt(original), minimum), "original %d min %s", original, minimum)
		below := new(big.Int).Sub(minimum, big.NewInt(1))
		assert.False(t, RaiseAccepted(big.NewInt(original), below), "original %d below %s", original, below)
	}
}

func TestLedger_NextBidIDIsFresh(t *testing.T) {
	l := NewLedger()
	seen := make(map[uint64]bool)
	for i := 0; i < 100; i++ {
		id := l.NextBidID()
		require.False(t, seen[id], "bid id %d reused", id)
		seen[id] = true
	}
	assert.True(t, seen[1])
}

func TestLedger_ReplaceReturnsDisplaced(t *testing.T) {
	l := NewLedger()

	_, ok := l.Current(1)
	require.False(t, ok)

	first := newBid(l, bidderA, 1000)
	_, existed := l.Replace(1, first)
	assert.False(t, existed)

	second := newBid(l, bidderB, 1200)
	old, existed := l.Replace(1, second)
	require.True(t, existed)
	assert.Equal(t, first.BidID, old.BidID)
	assert.Equal(t, bidderA, old.Bidder)

	cur, ok := l.Current(1)
	require.True(t, ok)
	assert.Equal(t, second.BidID, cur.BidID)
	assert.Equal(t, uint64(1), cur.SlotID)
	assert.Equal(t, "1200", cur.RemainingAmount.String())
}

func TestLedger_CurrentReturnsCopy(t *testing.T) {
	l := NewLedger()
	l.Replace(1, newBid(l, bidderA, 1000))

	cur, _ := l.Current(1)
	cur.RemainingAmount.SetInt64(0)

	again, _ := l.Current(1)
	assert.Equal(t, "1000", again.RemainingAmount.String())
}

func TestLedger_Decrement(t *testing.T) {
	l := NewLedger()
	bid := newBid(l, bidderA, 1200)
	l.Replace(1, bid)

	require.NoError(t, l.Decrement(1, bid.BidID, big.NewInt(1)))
	cur, _ := l.Current(1)
	assert.Equal(t, "1199", cur.RemainingAmount.String())
	assert.Equal(t, "1200", cur.OriginalAmount.String())

	err := l.Decrement(1, bid.BidID, big.NewInt(1200))
	require.True(t, errors.Is(err, types.ErrInsufficientEscrow))

	err = l.Decrement(1, bid.BidID+1, big.NewInt(1))
	require.True(t, errors.Is(err, types.ErrAuthorization))

	err = l.Decrement(2, bid.BidID, big.NewInt(1))
	require.True(t, errors.Is(err, types.ErrAuthorization))

	require.NoError(t, l.Decrement(1, bid.BidID, big.NewInt(1199)))
	cur, _ = l.Current(1)
	assert.Equal(t, "0", cur.RemainingAmount.String())

	// Drained records keep their bid id.
	assert.Equal(t, bid.BidID, cur.BidID)
}

func TestLedger_StaleBidIDNeverAuthorizes(t *testing.T) {
	l := NewLedger()
	first := newBid(l, bidderA, 1000)
	l.Replace(1, first)
	l.Replace(1, newBid(l, bidderB, 1200))

	err := l.Decrement(1, first.BidID, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrAuthorization)

	var se *types.SettlementError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, types.MsgBidIDMismatch, se.Message)
	assert.Equal(t, first.BidID, se.BidID)
}

func TestLedger_CreditCompensates(t *testing.T) {
	l := NewLedger()
	bid := newBid(l, bidderA, 100)
	l.Replace(1, bid)

	require.NoError(t, l.Decrement(1, bid.BidID, big.NewInt(40)))
	require.NoError(t, l.Credit(1, bid.BidID, big.NewInt(40)))

	cur, _ := l.Current(1)
	assert.Equal(t, "100", cur.RemainingAmount.String())

	err := l.Credit(1, bid.BidID, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestLedger_Restore(t *testing.T) {
	l := NewLedger()
	first := newBid(l, bidderA, 1000)
	l.Replace(1, first)

	old, existed := l.Replace(1, newBid(l, bidderB, 1200))
	l.Restore(1, old, existed)

	cur, _ := l.Current(1)
	assert.Equal(t, first.BidID, cur.BidID)

	old, existed = l.Replace(2, newBid(l, bidderB, 5))
	l.Restore(2, old, existed)
	_, ok := l.Current(2)
	assert.False(t, ok)
}

func TestLedger_SnapshotAndTotals(t *testing.T) {
	l := NewLedger()
	other := common.HexToAddress("0x00000000000000000000000000000000000000ef")

	l.Replace(3, newBid(l, bidderA, 30))
	l.Replace(1, newBid(l, bidderA, 10))
	b := newBid(l, bidderB, 50)
	b.PaymentToken = other
	l.Replace(2, b)

	snap := l.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{snap[0].SlotID, snap[1].SlotID, snap[2].SlotID})

	totals := l.EscrowTotals()
	assert.Equal(t, "40", totals[payTok].String())
	assert.Equal(t, "50", totals[other].String())
}
