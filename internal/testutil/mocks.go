package testutil

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/types"
)

// RecordingSink collects published events in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []*types.Event
	Err    error // returned from Publish when set
}

// NewRecordingSink creates an empty sink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{}
}

// Publish records an event.
func (s *RecordingSink) Publish(_ context.Context, ev *types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.Err
}

// Events returns a copy of every recorded event.
func (s *RecordingSink) Events() []*types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Event, len(s.events))
	copy(out, s.events)
	return out
}

// ByKind returns recorded events of one kind.
func (s *RecordingSink) ByKind(kind types.EventKind) []*types.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*types.Event
	for _, ev := range s.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops recorded events.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

// ScriptedPaymentToken wraps a payment token with injectable failures and
// hooks. It deliberately does not implement token.BatchTransferer, so batch
// payouts through it take the sequential path.
type ScriptedPaymentToken struct {
	token.PaymentToken

	mu              sync.Mutex
	FailTransferFrom error
	FailTransfer     error
	FailTransferTo   map[common.Address]error
	FailBalanceOf    error
	// OnCall runs at the start of every mutating call with the ctx it received.
	OnCall func(ctx context.Context)

	unconfirmed int
	land        bool
	settled     bool
	seq         int
	outcomes    map[string]token.TransferStatus
}

var _ token.Confirmer = (*ScriptedPaymentToken)(nil)

// NewScriptedPaymentToken wraps inner.
func NewScriptedPaymentToken(inner token.PaymentToken) *ScriptedPaymentToken {
	return &ScriptedPaymentToken{
		PaymentToken:   inner,
		FailTransferTo: make(map[common.Address]error),
		outcomes:       make(map[string]token.TransferStatus),
	}
}

// UnconfirmNext makes the next n mutating calls return a
// *token.UnconfirmedError. When land is true the transfer is applied
// underneath; otherwise it is dropped. Outcomes read as pending until Settle.
func (p *ScriptedPaymentToken) UnconfirmNext(n int, land bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unconfirmed = n
	p.land = land
	p.settled = false
}

// Settle lets TransferStatus report the outcome of every unconfirmed transfer.
func (p *ScriptedPaymentToken) Settle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.settled = true
}

// TransferStatus implements token.Confirmer.
func (p *ScriptedPaymentToken) TransferStatus(_ context.Context, ref string) (token.TransferStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.outcomes[ref]
	if !ok {
		return token.TransferPending, fmt.Errorf("unknown transfer %s", ref)
	}
	if !p.settled {
		return token.TransferPending, nil
	}
	return status, nil
}

// unconfirm consumes one scripted unconfirmed call, applying the transfer
// when it is meant to land. It reports false when no call is scripted.
func (p *ScriptedPaymentToken) unconfirm(apply func() error) (bool, error) {
	p.mu.Lock()
	if p.unconfirmed == 0 {
		p.mu.Unlock()
		return false, nil
	}
	p.unconfirmed--
	p.seq++
	ref := fmt.Sprintf("scripted-%d", p.seq)
	land := p.land
	p.mu.Unlock()

	status := token.TransferFailed
	if land && apply() == nil {
		status = token.TransferConfirmed
	}

	p.mu.Lock()
	p.outcomes[ref] = status
	p.mu.Unlock()

	return true, &token.UnconfirmedError{Ref: ref, Err: errors.New("receipt wait timed out")}
}

// FailTransfersTo makes transfers to one recipient fail.
func (p *ScriptedPaymentToken) FailTransfersTo(to common.Address, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.FailTransferTo[to] = err
}

// BalanceOf implements token.PaymentToken.
func (p *ScriptedPaymentToken) BalanceOf(ctx context.Context, owner common.Address) (*big.Int, error) {
	p.mu.Lock()
	fail := p.FailBalanceOf
	p.mu.Unlock()
	if fail != nil {
		return nil, fail
	}
	return p.PaymentToken.BalanceOf(ctx, owner)
}

// TransferFrom implements token.PaymentToken.
func (p *ScriptedPaymentToken) TransferFrom(
	ctx context.Context,
	spender common.Address,
	from common.Address,
	to common.Address,
	amount *big.Int,
) error {
	p.hook(ctx)
	p.mu.Lock()
	fail := p.FailTransferFrom
	p.mu.Unlock()
	if fail != nil {
		return fail
	}
	if ok, err := p.unconfirm(func() error {
		return p.PaymentToken.TransferFrom(ctx, spender, from, to, amount)
	}); ok {
		return err
	}
	return p.PaymentToken.TransferFrom(ctx, spender, from, to, amount)
}

// Transfer implements token.PaymentToken.
func (p *ScriptedPaymentToken) Transfer(ctx context.Context, from common.Address, to common.Address, amount *big.Int) error {
	p.hook(ctx)
	p.mu.Lock()
	fail := p.FailTransfer
	if f, ok := p.FailTransferTo[to]; ok {
		fail = f
	}
	p.mu.Unlock()
	if fail != nil {
		return fail
	}
	if ok, err := p.unconfirm(func() error {
		return p.PaymentToken.Transfer(ctx, from, to, amount)
	}); ok {
		return err
	}
	return p.PaymentToken.Transfer(ctx, from, to, amount)
}

func (p *ScriptedPaymentToken) hook(ctx context.Context) {
	p.mu.Lock()
	fn := p.OnCall
	p.mu.Unlock()
	if fn != nil {
		fn(ctx)
	}
}

// ScriptedSlotToken wraps a slot token with injectable failures.
type ScriptedSlotToken struct {
	token.SlotToken

	mu sync.Mutex
	// FailSetSlotURIOnCall fails the n-th SetSlotURI call (1-based); 0 disables.
	FailSetSlotURIOnCall int
	FailSetSlotURI       error
	FailOwnerOf          error
	setCalls             int
}

// NewScriptedSlotToken wraps inner.
func NewScriptedSlotToken(inner token.SlotToken) *ScriptedSlotToken {
	return &ScriptedSlotToken{SlotToken: inner}
}

// OwnerOf implements token.SlotToken.
func (s *ScriptedSlotToken) OwnerOf(ctx context.Context, slotID uint64) (common.Address, error) {
	s.mu.Lock()
	fail := s.FailOwnerOf
	s.mu.Unlock()
	if fail != nil {
		return common.Address{}, fail
	}
	return s.SlotToken.OwnerOf(ctx, slotID)
}

// SetSlotURI implements token.SlotToken.
func (s *ScriptedSlotToken) SetSlotURI(ctx context.Context, operator common.Address, slotID uint64, uri string) error {
	s.mu.Lock()
	s.setCalls++
	fail := s.FailSetSlotURI
	if s.FailSetSlotURIOnCall != 0 && s.setCalls != s.FailSetSlotURIOnCall {
		fail = nil
	}
	s.mu.Unlock()
	if fail != nil {
		return fail
	}
	return s.SlotToken.SetSlotURI(ctx, operator, slotID, uri)
}
