package testutil

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/token"
)

// Well-known test accounts.
var (
	EngineAddress  = common.HexToAddress("0x00000000000000000000000000000000000e0e0e")
	SlotOwner      = common.HexToAddress("0x0000000000000000000000000000000000000001")
	BidderA        = common.HexToAddress("0x0000000000000000000000000000000000000002")
	BidderB        = common.HexToAddress("0x0000000000000000000000000000000000000003")
	BidderC        = common.HexToAddress("0x0000000000000000000000000000000000000004")
	RecipientX     = common.HexToAddress("0x0000000000000000000000000000000000000005")
	RecipientY     = common.HexToAddress("0x0000000000000000000000000000000000000006")
	RecipientZ     = common.HexToAddress("0x0000000000000000000000000000000000000007")
	PaymentAddress = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	SlotAddress    = common.HexToAddress("0x0000000000000000000000000000000000005489")
)

// StartingBalance is what every bidder is minted and approves to the engine.
const StartingBalance = 100000

// Market is an in-memory payment token and slot token wired into a registry.
type Market struct {
	Registry *token.MemoryRegistry
	Payment  *token.MemoryPaymentToken
	Slots    *token.MemorySlotToken
	SlotID   uint64
}

// NewMarket mints slot 1 to SlotOwner with the engine approved as operator,
// and funds BidderA, BidderB and BidderC with StartingBalance each, fully
// approved to the engine.
func NewMarket() *Market {
	m := &Market{
		Registry: token.NewMemoryRegistry(),
		Payment:  token.NewMemoryPaymentToken(PaymentAddress, "AD3"),
		Slots:    token.NewMemorySlotToken(SlotAddress),
	}
	m.Registry.RegisterPaymentToken(m.Payment)
	m.Registry.RegisterSlotToken(m.Slots)

	for _, bidder := range []common.Address{BidderA, BidderB, BidderC} {
		_ = m.Payment.Mint(bidder, big.NewInt(StartingBalance))
		_ = m.Payment.Approve(bidder, EngineAddress, big.NewInt(StartingBalance))
	}

	m.SlotID, _ = m.Slots.Mint(SlotOwner, "aaaa")
	m.Slots.SetApprovalForAll(SlotOwner, EngineAddress, true)

	return m
}

// Balance returns an account's payment token balance as a decimal string.
func (m *Market) Balance(addr common.Address) string {
	b, _ := m.Payment.BalanceOf(context.Background(), addr)
	return b.String()
}
