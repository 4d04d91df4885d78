package storage

import (
	"context"
	"sync"

	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// MemoryStorage keeps the journal in process memory.
type MemoryStorage struct {
	mu     sync.RWMutex
	bySlot map[uint64][]*types.Event
	logger *zap.Logger
}

// NewMemoryStorage creates an empty in-memory journal.
func NewMemoryStorage(logger *zap.Logger) *MemoryStorage {
	logger.Info("memory-storage-initialized")
	return &MemoryStorage{
		bySlot: make(map[uint64][]*types.Event),
		logger: logger,
	}
}

// StoreEvent appends an event.
func (m *MemoryStorage) StoreEvent(_ context.Context, ev *types.Event) error {
	cp := *ev
	m.mu.Lock()
	m.bySlot[ev.SlotID] = append(m.bySlot[ev.SlotID], &cp)
	m.mu.Unlock()

	m.logger.Debug("event-stored",
		zap.String("event-id", ev.ID),
		zap.String("kind", string(ev.Kind)),
		zap.Uint64("slot-id", ev.SlotID))
	return nil
}

// ListEvents returns the most recent events for a slot, oldest first.
func (m *MemoryStorage) ListEvents(_ context.Context, slotID uint64, limit int) ([]*types.Event, error) {
	limit = normalizeLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	events := m.bySlot[slotID]
	if len(events) > limit {
		events = events[len(events)-limit:]
	}

	out := make([]*types.Event, len(events))
	copy(out, events)
	return out, nil
}

// Close is a no-op for memory storage.
func (m *MemoryStorage) Close() error {
	m.logger.Info("closing-memory-storage")
	return nil
}
