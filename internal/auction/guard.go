package auction

import (
	"context"

	"github.com/mselser95/slot-auction/pkg/types"
)

type operationKey struct{}

// enterOperation marks ctx as belonging to an engine operation in progress.
func enterOperation(ctx context.Context) context.Context {
	return context.WithValue(ctx, operationKey{}, true)
}

func inOperation(ctx context.Context) bool {
	v, _ := ctx.Value(operationKey{}).(bool)
	return v
}

func reentrantError(slotID uint64) error {
	return types.NewError(types.KindReentrant, slotID, "nested engine call from a collaborator")
}
