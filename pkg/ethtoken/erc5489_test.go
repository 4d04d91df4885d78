package ethtoken

import (
	"context"
	"testing"
	"time"

	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlotToken_Content(t *testing.T) {
	chain := newFakeChain()
	tr := newTransactor(t, chain, newKey(t), time.Second)
	chain.owners[1] = ownerAddr
	chain.approvals[pair{ownerAddr, tr.From()}] = true

	slots := NewSlotToken(erc5489Addr, chain, tr)
	ctx := context.Background()

	owner, err := slots.OwnerOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, ownerAddr, owner)

	approved, err := slots.IsApprovedForAll(ctx, ownerAddr, tr.From())
	require.NoError(t, err)
	assert.True(t, approved)

	require.NoError(t, slots.SetSlotURI(ctx, tr.From(), 1, "bbbb"))

	uri, err := slots.SlotURI(ctx, 1, tr.From())
	require.NoError(t, err)
	assert.Equal(t, "bbbb", uri)

	// Other operators see their own, empty namespace.
	uri, err = slots.SlotURI(ctx, 1, otherAddr)
	require.NoError(t, err)
	assert.Equal(t, "", uri)
}

func TestSlotToken_SetSlotURIChecks(t *testing.T) {
	chain := newFakeChain()
	tr := newTransactor(t, chain, newKey(t), time.Second)
	chain.owners[1] = ownerAddr

	slots := NewSlotToken(erc5489Addr, chain, tr)
	ctx := context.Background()

	err := slots.SetSlotURI(ctx, tr.From(), 1, "bbbb")
	require.ErrorIs(t, err, token.ErrNotApproved)

	err = slots.SetSlotURI(ctx, otherAddr, 1, "bbbb")
	require.ErrorIs(t, err, token.ErrNotSigner)

	err = slots.SetSlotURI(ctx, tr.From(), 2, "bbbb")
	require.Error(t, err)

	assert.Equal(t, 0, chain.sentCount())
}
