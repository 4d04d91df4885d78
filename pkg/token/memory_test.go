package token

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	operator = common.HexToAddress("0x00000000000000000000000000000000000000e0")
)

func TestMemoryPaymentToken_TransferFrom(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		mint      int64
		approve   int64
		amount    int64
		wantErr   error
		wantAlice int64
		wantBob   int64
	}{
		{
			name:      "within-allowance-and-balance",
			mint:      1000,
			approve:   600,
			amount:    500,
			wantAlice: 500,
			wantBob:   500,
		},
		{
			name:      "allowance-too-low",
			mint:      1000,
			approve:   100,
			amount:    500,
			wantErr:   ErrInsufficientAllowance,
			wantAlice: 1000,
		},
		{
			name:      "balance-too-low",
			mint:      100,
			approve:   1000,
			amount:    500,
			wantErr:   ErrInsufficientBalance,
			wantAlice: 100,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := NewMemoryPaymentToken(common.HexToAddress("0xad3"), "AD3")
			require.NoError(t, tok.Mint(alice, big.NewInt(tt.mint)))
			require.NoError(t, tok.Approve(alice, operator, big.NewInt(tt.approve)))

			err := tok.TransferFrom(ctx, operator, alice, bob, big.NewInt(tt.amount))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			balA, _ := tok.BalanceOf(ctx, alice)
			balB, _ := tok.BalanceOf(ctx, bob)
			assert.Equal(t, big.NewInt(tt.wantAlice).String(), balA.String())
			assert.Equal(t, big.NewInt(tt.wantBob).String(), balB.String())
		})
	}
}

func TestMemoryPaymentToken_AllowanceIsSpent(t *testing.T) {
	ctx := context.Background()
	tok := NewMemoryPaymentToken(common.HexToAddress("0xad3"), "AD3")
	require.NoError(t, tok.Mint(alice, big.NewInt(1000)))
	require.NoError(t, tok.Approve(alice, operator, big.NewInt(700)))

	require.NoError(t, tok.TransferFrom(ctx, operator, alice, operator, big.NewInt(300)))

	allowance, err := tok.Allowance(ctx, alice, operator)
	require.NoError(t, err)
	assert.Equal(t, "400", allowance.String())
	assert.Equal(t, "1000", tok.TotalSupply().String())
}

func TestMemoryPaymentToken_BatchTransferAllOrNothing(t *testing.T) {
	ctx := context.Background()
	tok := NewMemoryPaymentToken(common.HexToAddress("0xad3"), "AD3")
	require.NoError(t, tok.Mint(operator, big.NewInt(10)))

	err := tok.BatchTransfer(ctx, operator,
		[]common.Address{alice, bob},
		[]*big.Int{big.NewInt(6), big.NewInt(5)})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	balA, _ := tok.BalanceOf(ctx, alice)
	balOp, _ := tok.BalanceOf(ctx, operator)
	assert.Equal(t, "0", balA.String())
	assert.Equal(t, "10", balOp.String())

	err = tok.BatchTransfer(ctx, operator,
		[]common.Address{alice, bob},
		[]*big.Int{big.NewInt(6), big.NewInt(4)})
	require.NoError(t, err)

	balA, _ = tok.BalanceOf(ctx, alice)
	balB, _ := tok.BalanceOf(ctx, bob)
	balOp, _ = tok.BalanceOf(ctx, operator)
	assert.Equal(t, "6", balA.String())
	assert.Equal(t, "4", balB.String())
	assert.Equal(t, "0", balOp.String())
}

func TestMemoryPaymentToken_RejectsZeroRecipient(t *testing.T) {
	tok := NewMemoryPaymentToken(common.HexToAddress("0xad3"), "AD3")
	require.NoError(t, tok.Mint(alice, big.NewInt(5)))

	err := tok.Transfer(context.Background(), alice, common.Address{}, big.NewInt(1))
	require.ErrorIs(t, err, ErrInvalidRecipient)
}

func TestMemorySlotToken_OperatorNamespaces(t *testing.T) {
	ctx := context.Background()
	slots := NewMemorySlotToken(common.HexToAddress("0x5489"))

	id, err := slots.Mint(alice, "aaaa")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	owner, err := slots.OwnerOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice, owner)

	// Not approved yet.
	err = slots.SetSlotURI(ctx, operator, id, "bbbb")
	require.ErrorIs(t, err, ErrNotApproved)

	slots.SetApprovalForAll(alice, operator, true)
	slots.SetApprovalForAll(alice, bob, true)
	approved, err := slots.IsApprovedForAll(ctx, alice, operator)
	require.NoError(t, err)
	assert.True(t, approved)

	require.NoError(t, slots.SetSlotURI(ctx, operator, id, "bbbb"))
	require.NoError(t, slots.SetSlotURI(ctx, bob, id, "cccc"))

	uri, err := slots.SlotURI(ctx, id, operator)
	require.NoError(t, err)
	assert.Equal(t, "bbbb", uri)

	uri, err = slots.SlotURI(ctx, id, bob)
	require.NoError(t, err)
	assert.Equal(t, "cccc", uri)

	tokenURI, err := slots.TokenURI(id)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", tokenURI)
}

func TestMemorySlotToken_TransferKeepsContent(t *testing.T) {
	ctx := context.Background()
	slots := NewMemorySlotToken(common.HexToAddress("0x5489"))
	id, _ := slots.Mint(alice, "aaaa")
	slots.SetApprovalForAll(alice, operator, true)
	require.NoError(t, slots.SetSlotURI(ctx, operator, id, "bbbb"))

	require.Error(t, slots.TransferToken(bob, alice, id))
	require.NoError(t, slots.TransferToken(alice, bob, id))

	owner, _ := slots.OwnerOf(ctx, id)
	assert.Equal(t, bob, owner)

	uri, _ := slots.SlotURI(ctx, id, operator)
	assert.Equal(t, "bbbb", uri)

	// Operator approval belongs to the previous owner.
	err := slots.SetSlotURI(ctx, operator, id, "dddd")
	require.ErrorIs(t, err, ErrNotApproved)
}

func TestMemorySlotToken_Nonexistent(t *testing.T) {
	slots := NewMemorySlotToken(common.HexToAddress("0x5489"))
	_, err := slots.OwnerOf(context.Background(), 42)
	require.ErrorIs(t, err, ErrNonexistentToken)
}

func TestMemoryRegistry(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry()
	pay := NewMemoryPaymentToken(common.HexToAddress("0xad3"), "AD3")
	slots := NewMemorySlotToken(common.HexToAddress("0x5489"))
	reg.RegisterPaymentToken(pay)
	reg.RegisterSlotToken(slots)

	gotPay, err := reg.PaymentToken(ctx, pay.Address())
	require.NoError(t, err)
	assert.Same(t, pay, gotPay)

	gotSlots, err := reg.SlotToken(ctx, slots.Address())
	require.NoError(t, err)
	assert.Same(t, slots, gotSlots)

	_, err = reg.PaymentToken(ctx, slots.Address())
	require.ErrorIs(t, err, ErrUnknownContract)

	_, ok := reg.MemoryPayment(pay.Address())
	assert.True(t, ok)
	_, ok = reg.MemorySlot(pay.Address())
	assert.False(t, ok)
}
