package ethtoken

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newBatchToken(t *testing.T, chain *fakeChain, tr *Transactor) *BatchPaymentToken {
	t.Helper()
	return NewBatchPaymentToken(NewPaymentToken(erc20Addr, chain, tr), helperAddr)
}

func TestBatchPaymentToken_ApprovesOnceThenDisperses(t *testing.T) {
	chain := newFakeChain()
	tr := newTransactor(t, chain, newKey(t), time.Second)
	chain.fund(tr.From(), 1000, helperAddr, 0)
	pay := newBatchToken(t, chain, tr)
	ctx := context.Background()

	err := pay.BatchTransfer(ctx, tr.From(),
		[]common.Address{ownerAddr, bidderAddr},
		[]*big.Int{big.NewInt(100), big.NewInt(200)})
	require.NoError(t, err)

	assert.Equal(t, "700", chain.balance(tr.From()))
	assert.Equal(t, "100", chain.balance(ownerAddr))
	assert.Equal(t, "200", chain.balance(bidderAddr))
	assert.Equal(t, 2, chain.sentCount())

	chain.mu.Lock()
	allowance := chain.allowanceLocked(tr.From(), helperAddr)
	chain.mu.Unlock()
	assert.Equal(t, new(big.Int).Sub(abi.MaxUint256, big.NewInt(300)).String(), allowance.String())

	err = pay.BatchTransfer(ctx, tr.From(), []common.Address{otherAddr}, []*big.Int{big.NewInt(5)})
	require.NoError(t, err)
	assert.Equal(t, 3, chain.sentCount())
	assert.Equal(t, "5", chain.balance(otherAddr))
}

func TestBatchPaymentToken_RejectedRecipientRevertsWholeBatch(t *testing.T) {
	chain := newFakeChain()
	tr := newTransactor(t, chain, newKey(t), time.Second)
	chain.fund(tr.From(), 1000, helperAddr, 1000)
	chain.rejects[bidderAddr] = true
	pay := newBatchToken(t, chain, tr)

	err := pay.BatchTransfer(context.Background(), tr.From(),
		[]common.Address{ownerAddr, bidderAddr, otherAddr},
		[]*big.Int{big.NewInt(1), big.NewInt(2), big.NewInt(3)})
	require.ErrorIs(t, err, ErrReverted)

	assert.Equal(t, "1000", chain.balance(tr.From()))
	assert.Equal(t, "0", chain.balance(ownerAddr))
	assert.Equal(t, "0", chain.balance(otherAddr))
}

func TestBatchPaymentToken_Prechecks(t *testing.T) {
	chain := newFakeChain()
	tr := newTransactor(t, chain, newKey(t), time.Second)
	chain.fund(tr.From(), 10, helperAddr, 0)
	pay := newBatchToken(t, chain, tr)
	ctx := context.Background()

	err := pay.BatchTransfer(ctx, ownerAddr, []common.Address{bidderAddr}, []*big.Int{big.NewInt(1)})
	require.ErrorIs(t, err, token.ErrNotSigner)

	err = pay.BatchTransfer(ctx, tr.From(), []common.Address{{}}, []*big.Int{big.NewInt(1)})
	require.ErrorIs(t, err, token.ErrInvalidRecipient)

	err = pay.BatchTransfer(ctx, tr.From(), []common.Address{bidderAddr}, []*big.Int{big.NewInt(11)})
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	assert.Equal(t, 0, chain.sentCount())
}

func TestBatchPaymentToken_UnconfirmedApprovalIsAPlainFailure(t *testing.T) {
	chain := newFakeChain()
	tr := newTransactor(t, chain, newKey(t), 20*time.Millisecond)
	chain.fund(tr.From(), 1000, helperAddr, 0)
	chain.pendingPolls = 1 << 30
	pay := newBatchToken(t, chain, tr)

	err := pay.BatchTransfer(context.Background(), tr.From(), []common.Address{bidderAddr}, []*big.Int{big.NewInt(1)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, token.ErrUnconfirmed)
	assert.Equal(t, 1, chain.sentCount(), "the batch must not go out behind an unconfirmed approval")
}

func TestRegistry_BatchHelperWrapsPaymentTokens(t *testing.T) {
	chain := newFakeChain()
	tr := newTransactor(t, chain, newKey(t), time.Second)
	reg, err := NewRegistry(&RegistryConfig{
		Backend:     chain,
		Transactor:  tr,
		Cache:       newMapCache(),
		CacheTTL:    time.Minute,
		BatchHelper: helperAddr,
		Logger:      zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	pay, err := reg.PaymentToken(context.Background(), erc20Addr)
	require.NoError(t, err)
	batcher, ok := pay.(*BatchPaymentToken)
	require.True(t, ok)
	assert.Equal(t, helperAddr, batcher.Helper())

	plain, err := newRegistry(t, chain, tr).PaymentToken(context.Background(), erc20Addr)
	require.NoError(t, err)
	_, ok = plain.(token.BatchTransferer)
	assert.False(t, ok)
}
