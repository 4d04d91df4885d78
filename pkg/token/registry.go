package token

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryRegistry resolves addresses to collaborators registered in-process.
type MemoryRegistry struct {
	mu       sync.RWMutex
	payments map[common.Address]PaymentToken
	slots    map[common.Address]SlotToken
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		payments: make(map[common.Address]PaymentToken),
		slots:    make(map[common.Address]SlotToken),
	}
}

// RegisterPaymentToken makes a payment token resolvable by its address.
func (r *MemoryRegistry) RegisterPaymentToken(t PaymentToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.payments[t.Address()] = t
}

// RegisterSlotToken makes a slot token resolvable by its address.
func (r *MemoryRegistry) RegisterSlotToken(t SlotToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slots[t.Address()] = t
}

// PaymentToken implements Registry.
func (r *MemoryRegistry) PaymentToken(_ context.Context, addr common.Address) (PaymentToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.payments[addr]
	if !ok {
		return nil, fmt.Errorf("%w: payment token %s", ErrUnknownContract, addr.Hex())
	}
	return t, nil
}

// SlotToken implements Registry.
func (r *MemoryRegistry) SlotToken(_ context.Context, addr common.Address) (SlotToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.slots[addr]
	if !ok {
		return nil, fmt.Errorf("%w: slot token %s", ErrUnknownContract, addr.Hex())
	}
	return t, nil
}

// MemoryPayment returns a registered in-memory payment token, for dev tooling.
func (r *MemoryRegistry) MemoryPayment(addr common.Address) (*MemoryPaymentToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.payments[addr].(*MemoryPaymentToken)
	return t, ok
}

// MemorySlot returns a registered in-memory slot token, for dev tooling.
func (r *MemoryRegistry) MemorySlot(addr common.Address) (*MemorySlotToken, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.slots[addr].(*MemorySlotToken)
	return t, ok
}
