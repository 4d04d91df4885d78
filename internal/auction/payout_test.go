package auction

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/internal/testutil"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func amounts(vals ...int64) []*big.Int {
	out := make([]*big.Int, len(vals))
	for i, v := range vals {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestEndToEndScenario(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	ctx := context.Background()

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)
	assert.Equal(t, "bbbb", f.slotURI(t))

	_, err = f.bid(testutil.BidderB, 1199, "cccc")
	require.ErrorIs(t, err, types.ErrBidTooLow)

	second, err := f.bid(testutil.BidderB, 1200, "cccc")
	require.NoError(t, err)
	assert.Equal(t, "100000", f.market.Balance(testutil.BidderA))
	assert.Equal(t, "cccc", f.slotURI(t))

	_, err = f.engine.Payout(ctx, testutil.SlotOwner, first.Bid.BidID, f.market.SlotID, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrAuthorization)
	assert.Contains(t, err.Error(), types.MsgBidIDMismatch)

	res, err := f.engine.Payout(ctx, testutil.SlotOwner, second.Bid.BidID, f.market.SlotID, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "1199", res.Remaining.String())
	assert.Equal(t, "1", f.market.Balance(testutil.SlotOwner))

	batch, err := f.engine.BatchPayout(ctx, testutil.SlotOwner, second.Bid.BidID, f.market.SlotID,
		amounts(1, 2, 10),
		[]common.Address{testutil.RecipientX, testutil.RecipientY, testutil.RecipientZ})
	require.NoError(t, err)
	assert.Equal(t, "13", batch.Total.String())
	assert.Equal(t, "1186", batch.Remaining.String())

	assert.Equal(t, "1", f.market.Balance(testutil.RecipientX))
	assert.Equal(t, "2", f.market.Balance(testutil.RecipientY))
	assert.Equal(t, "10", f.market.Balance(testutil.RecipientZ))
	assert.Equal(t, "1186", f.market.Balance(testutil.EngineAddress))

	remaining, bidder, _ := f.highest(t)
	assert.Equal(t, "1186", remaining)
	assert.Equal(t, testutil.BidderB, bidder)

	assert.Len(t, f.sink.ByKind(types.EventBidAccepted), 2)
	assert.Len(t, f.sink.ByKind(types.EventRefundIssued), 1)
	assert.Len(t, f.sink.ByKind(types.EventPayoutApplied), 4)
}

func TestPayout(t *testing.T) {
	tests := []struct {
		name      string
		policy    PayoutPolicy
		caller    common.Address
		staleID   bool
		amount    int64
		wantErr   error
		wantMsg   string
		remaining string
	}{
		{name: "owner-draws", policy: PayoutPolicyOwner, caller: testutil.SlotOwner, amount: 250, remaining: "750"},
		{name: "owner-draws-everything", policy: PayoutPolicyOwner, caller: testutil.SlotOwner, amount: 1000, remaining: "0"},
		{
			name: "over-remaining", policy: PayoutPolicyOwner, caller: testutil.SlotOwner, amount: 1001,
			wantErr: types.ErrInsufficientEscrow, wantMsg: types.MsgInsufficientEscrow, remaining: "1000",
		},
		{
			name: "stale-bid-id", policy: PayoutPolicyOwner, caller: testutil.SlotOwner, staleID: true, amount: 1,
			wantErr: types.ErrAuthorization, wantMsg: types.MsgBidIDMismatch, remaining: "1000",
		},
		{
			name: "non-owner-under-owner-policy", policy: PayoutPolicyOwner, caller: testutil.BidderC, amount: 1,
			wantErr: types.ErrAuthorization, remaining: "1000",
		},
		{name: "non-owner-under-open-policy", policy: PayoutPolicyOpen, caller: testutil.BidderC, amount: 1, remaining: "999"},
		{
			name: "zero-amount", policy: PayoutPolicyOpen, caller: testutil.SlotOwner, amount: 0,
			wantErr: types.ErrValidation, remaining: "1000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.policy)
			ctx := context.Background()

			first, err := f.bid(testutil.BidderA, 1000, "bbbb")
			require.NoError(t, err)
			f.sink.Reset()

			bidID := first.Bid.BidID
			if tt.staleID {
				bidID++
			}

			before := f.market.Balance(tt.caller)
			res, err := f.engine.Payout(ctx, tt.caller, bidID, f.market.SlotID, big.NewInt(tt.amount))

			remaining, _, _ := f.highest(t)
			assert.Equal(t, tt.remaining, remaining)

			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				if tt.wantMsg != "" {
					assert.Contains(t, err.Error(), tt.wantMsg)
				}
				assert.Equal(t, before, f.market.Balance(tt.caller))
				assert.Empty(t, f.sink.Events())
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.remaining, res.Remaining.String())

			events := f.sink.ByKind(types.EventPayoutApplied)
			require.Len(t, events, 1)
			assert.Equal(t, tt.caller, events[0].Account)
			assert.Equal(t, big.NewInt(tt.amount).String(), events[0].Amount.String())
			assert.Equal(t, first.Bid.BidID, events[0].BidID)
		})
	}
}

func TestPayout_NoBidOnSlot(t *testing.T) {
	f := newFixture(t, PayoutPolicyOpen)

	_, err := f.engine.Payout(context.Background(), testutil.SlotOwner, 1, f.market.SlotID, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrAuthorization)
}

func TestPayout_TransferFailureCreditsBack(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	scripted := testutil.NewScriptedPaymentToken(f.market.Payment)
	f.market.Registry.RegisterPaymentToken(scripted)

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)
	f.sink.Reset()

	pushErr := errors.New("transfer reverted")
	scripted.FailTransfersTo(testutil.SlotOwner, pushErr)

	_, err = f.engine.Payout(context.Background(), testutil.SlotOwner, first.Bid.BidID, f.market.SlotID, big.NewInt(400))
	require.ErrorIs(t, err, types.ErrCollaborator)
	require.ErrorIs(t, err, pushErr)

	remaining, _, _ := f.highest(t)
	assert.Equal(t, "1000", remaining)
	assert.Equal(t, "1000", f.market.Balance(testutil.EngineAddress))
	assert.Empty(t, f.sink.Events())
}

func TestPayout_OwnerLookupFailure(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	scripted := testutil.NewScriptedSlotToken(f.market.Slots)
	f.market.Registry.RegisterSlotToken(scripted)

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)

	scripted.FailOwnerOf = errors.New("rpc unavailable")
	_, err = f.engine.Payout(context.Background(), testutil.SlotOwner, first.Bid.BidID, f.market.SlotID, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrCollaborator)

	remaining, _, _ := f.highest(t)
	assert.Equal(t, "1000", remaining)
}

func TestPayout_FollowsSlotOwnership(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	ctx := context.Background()

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)

	require.NoError(t, f.market.Slots.TransferToken(testutil.SlotOwner, testutil.RecipientX, f.market.SlotID))

	_, err = f.engine.Payout(ctx, testutil.SlotOwner, first.Bid.BidID, f.market.SlotID, big.NewInt(1))
	require.ErrorIs(t, err, types.ErrAuthorization)

	_, err = f.engine.Payout(ctx, testutil.RecipientX, first.Bid.BidID, f.market.SlotID, big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "1", f.market.Balance(testutil.RecipientX))
}

func TestBatchPayout_Validation(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	ctx := context.Background()

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)

	tests := []struct {
		name       string
		amounts    []*big.Int
		recipients []common.Address
	}{
		{name: "length-mismatch", amounts: amounts(1, 2), recipients: []common.Address{testutil.RecipientX}},
		{name: "empty", amounts: nil, recipients: nil},
		{name: "zero-amount", amounts: amounts(1, 0), recipients: []common.Address{testutil.RecipientX, testutil.RecipientY}},
		{name: "zero-recipient", amounts: amounts(1, 2), recipients: []common.Address{testutil.RecipientX, {}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.BatchPayout(ctx, testutil.SlotOwner, first.Bid.BidID, f.market.SlotID, tt.amounts, tt.recipients)
			require.ErrorIs(t, err, types.ErrValidation)
		})
	}

	remaining, _, _ := f.highest(t)
	assert.Equal(t, "1000", remaining)
}

func TestBatchPayout_StaleBidIDRejected(t *testing.T) {
	f := newFixture(t, PayoutPolicyOpen)
	ctx := context.Background()

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)
	second, err := f.bid(testutil.BidderB, 1200, "cccc")
	require.NoError(t, err)
	f.sink.Reset()

	recipients := []common.Address{testutil.RecipientX, testutil.RecipientY}
	_, err = f.engine.BatchPayout(ctx, testutil.SlotOwner, first.Bid.BidID, f.market.SlotID, amounts(100, 200), recipients)
	require.ErrorIs(t, err, types.ErrAuthorization)
	assert.Contains(t, err.Error(), types.MsgBidIDMismatch)

	remaining, _, bidID := f.highest(t)
	assert.Equal(t, "1200", remaining)
	assert.Equal(t, second.Bid.BidID, bidID)
	for _, to := range recipients {
		assert.Equal(t, "0", f.market.Balance(to))
	}
	assert.Equal(t, "1200", f.market.Balance(testutil.EngineAddress))
	assert.Empty(t, f.sink.Events())
}

func TestBatchPayout_NonOwnerRejected(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)
	f.sink.Reset()

	recipients := []common.Address{testutil.RecipientX, testutil.RecipientY}
	_, err = f.engine.BatchPayout(context.Background(), testutil.BidderC, first.Bid.BidID, f.market.SlotID,
		amounts(100, 200), recipients)
	require.ErrorIs(t, err, types.ErrAuthorization)

	remaining, _, _ := f.highest(t)
	assert.Equal(t, "1000", remaining)
	for _, to := range recipients {
		assert.Equal(t, "0", f.market.Balance(to))
	}
	assert.Empty(t, f.sink.Events())
}

func TestBatchPayout_SumExceedsEscrow(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)
	f.sink.Reset()

	_, err = f.engine.BatchPayout(context.Background(), testutil.SlotOwner, first.Bid.BidID, f.market.SlotID,
		amounts(500, 400, 101),
		[]common.Address{testutil.RecipientX, testutil.RecipientY, testutil.RecipientZ})
	require.ErrorIs(t, err, types.ErrInsufficientEscrow)

	remaining, _, _ := f.highest(t)
	assert.Equal(t, "1000", remaining)
	for _, to := range []common.Address{testutil.RecipientX, testutil.RecipientY, testutil.RecipientZ} {
		assert.Equal(t, "0", f.market.Balance(to))
	}
	assert.Empty(t, f.sink.Events())
}

func TestBatchPayout_SequentialPath(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	scripted := testutil.NewScriptedPaymentToken(f.market.Payment)
	f.market.Registry.RegisterPaymentToken(scripted)

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)

	_, isBatcher := interface{}(scripted).(token.BatchTransferer)
	require.False(t, isBatcher)

	res, err := f.engine.BatchPayout(context.Background(), testutil.SlotOwner, first.Bid.BidID, f.market.SlotID,
		amounts(1, 2, 10),
		[]common.Address{testutil.RecipientX, testutil.RecipientY, testutil.RecipientZ})
	require.NoError(t, err)
	assert.Equal(t, "987", res.Remaining.String())
	assert.Equal(t, "10", f.market.Balance(testutil.RecipientZ))
}

func TestBatchPayout_SequentialFailureCreditsUndelivered(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	scripted := testutil.NewScriptedPaymentToken(f.market.Payment)
	f.market.Registry.RegisterPaymentToken(scripted)

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)
	f.sink.Reset()

	scripted.FailTransfersTo(testutil.RecipientY, errors.New("recipient is a contract without receive hook"))

	_, err = f.engine.BatchPayout(context.Background(), testutil.SlotOwner, first.Bid.BidID, f.market.SlotID,
		amounts(1, 2, 10),
		[]common.Address{testutil.RecipientX, testutil.RecipientY, testutil.RecipientZ})
	require.ErrorIs(t, err, types.ErrCollaborator)

	// X was already paid; the ledger reflects exactly what left custody.
	remaining, _, _ := f.highest(t)
	assert.Equal(t, "999", remaining)
	assert.Equal(t, "1", f.market.Balance(testutil.RecipientX))
	assert.Equal(t, "0", f.market.Balance(testutil.RecipientY))
	assert.Equal(t, "999", f.market.Balance(testutil.EngineAddress))

	// The delivered transfer cannot be undone, so it is reported.
	events := f.sink.Events()
	require.Len(t, events, 1)
	assert.Equal(t, types.EventPayoutApplied, events[0].Kind)
	assert.Equal(t, testutil.RecipientX, events[0].Account)
	assert.Equal(t, "1", events[0].Amount.String())
}

func TestBatchPayout_CustodyPrecheck(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	scripted := testutil.NewScriptedPaymentToken(f.market.Payment)
	f.market.Registry.RegisterPaymentToken(scripted)

	first, err := f.bid(testutil.BidderA, 1000, "bbbb")
	require.NoError(t, err)

	scripted.FailBalanceOf = errors.New("node syncing")
	_, err = f.engine.BatchPayout(context.Background(), testutil.SlotOwner, first.Bid.BidID, f.market.SlotID,
		amounts(5), []common.Address{testutil.RecipientX})
	require.ErrorIs(t, err, types.ErrCollaborator)

	remaining, _, _ := f.highest(t)
	assert.Equal(t, "1000", remaining)
	assert.Equal(t, "0", f.market.Balance(testutil.RecipientX))
}

func TestEngine_ConcurrentBidsConserveFunds(t *testing.T) {
	f := newFixture(t, PayoutPolicyOwner)
	bidders := []common.Address{testutil.BidderA, testutil.BidderB, testutil.BidderC}

	var wg sync.WaitGroup
	for i, bidder := range bidders {
		wg.Add(1)
		go func(i int, bidder common.Address) {
			defer wg.Done()
			amount := int64(1000)
			for round := 0; round < 20; round++ {
				_, err := f.bid(bidder, amount, "content")
				if err == nil {
					amount = amount * 12 / 10
				} else {
					amount = amount*13/10 + int64(i)
				}
				if amount > 20000 {
					return
				}
			}
		}(i, bidder)
	}
	wg.Wait()

	remaining, winner, _ := f.highest(t)
	assert.Equal(t, remaining, f.market.Balance(testutil.EngineAddress))

	total := big.NewInt(0)
	for _, b := range append(bidders, testutil.EngineAddress) {
		bal, _ := f.market.Payment.BalanceOf(context.Background(), b)
		total.Add(total, bal)
	}
	assert.Equal(t, big.NewInt(3*testutil.StartingBalance).String(), total.String())

	for _, b := range bidders {
		if b == winner {
			continue
		}
		assert.Equal(t, "100000", f.market.Balance(b))
	}
}
