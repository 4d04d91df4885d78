package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CustodyPosition compares what the ledger owes in one payment token with
// what the engine actually holds.
type CustodyPosition struct {
	Token    common.Address `json:"token"`
	Escrowed *big.Int       `json:"escrowed"`
	Held     *big.Int       `json:"held"`
}

// Shortfall returns how much custody is missing, or zero when covered.
func (p CustodyPosition) Shortfall() *big.Int {
	if p.Held == nil || p.Escrowed == nil {
		return new(big.Int)
	}
	if p.Held.Cmp(p.Escrowed) >= 0 {
		return new(big.Int)
	}
	return new(big.Int).Sub(p.Escrowed, p.Held)
}

// Covered reports whether held custody covers the escrow.
func (p CustodyPosition) Covered() bool {
	return p.Shortfall().Sign() == 0
}
