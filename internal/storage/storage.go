package storage

import (
	"context"

	"github.com/mselser95/slot-auction/pkg/types"
)

// DefaultListLimit caps ListEvents when the caller passes a non-positive limit.
const DefaultListLimit = 100

// Storage is the settlement event journal.
type Storage interface {
	// StoreEvent appends a committed settlement event.
	StoreEvent(ctx context.Context, ev *types.Event) error

	// ListEvents returns the most recent events for a slot, oldest first.
	ListEvents(ctx context.Context, slotID uint64, limit int) ([]*types.Event, error)

	// Close closes the storage connection.
	Close() error
}

// Sink adapts a Storage to the engine's event sink interface.
type Sink struct {
	Storage Storage
}

// Publish stores ev in the journal.
func (s Sink) Publish(ctx context.Context, ev *types.Event) error {
	return s.Storage.StoreEvent(ctx, ev)
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}
