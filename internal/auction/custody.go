package auction

import (
	"bytes"
	"context"
	"sort"

	"github.com/mselser95/slot-auction/pkg/types"
)

// AuditCustody reads the engine's balance of every payment token that backs
// open escrow. Settlement is blocked while it runs, so escrow and balances
// describe the same moment.
func (e *Engine) AuditCustody(ctx context.Context) ([]types.CustodyPosition, error) {
	if inOperation(ctx) {
		return nil, reentrantError(0)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	ctx = enterOperation(ctx)

	totals := e.ledger.EscrowTotals()
	positions := make([]types.CustodyPosition, 0, len(totals))
	for addr, escrowed := range totals {
		pay, err := e.registry.PaymentToken(ctx, addr)
		if err != nil {
			return nil, types.CollaboratorError(0, "resolve payment token", err)
		}

		held, err := pay.BalanceOf(ctx, e.address)
		if err != nil {
			return nil, types.CollaboratorError(0, "read custody balance", err)
		}

		positions = append(positions, types.CustodyPosition{
			Token:    addr,
			Escrowed: escrowed,
			Held:     held,
		})
	}

	sort.Slice(positions, func(i, j int) bool {
		return bytes.Compare(positions[i].Token.Bytes(), positions[j].Token.Bytes()) < 0
	})

	return positions, nil
}
