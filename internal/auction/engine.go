// Package auction implements the bidding protocol and payout engine on top
// of the escrow ledger.
//
// Every public operation is serialized by one engine lock and is
// all-or-nothing. Collaborator calls are ordered so that the failable ones
// come first; when a later step fails, earlier steps are compensated (pulled
// funds returned, slot content restored, ledger restored) before the error is
// returned. Collaborators receive a context marked by the engine; a nested
// engine call carrying that context is rejected with REENTRANT_CALL.
//
// A transfer whose outcome is unknown (token.ErrUnconfirmed) is never
// compensated, since it may still land. The ledger keeps the operation's
// change, the transfer is tracked as pending, and settlement stays halted
// until ReconcilePending settles it.
package auction

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/internal/escrow"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// PayoutPolicy decides who may draw on a winning bid's escrow.
type PayoutPolicy string

// Payout policies.
const (
	// PayoutPolicyOwner restricts payouts to the current owner of the slot token.
	PayoutPolicyOwner PayoutPolicy = "owner"
	// PayoutPolicyOpen lets any caller holding the current bid id draw.
	PayoutPolicyOpen PayoutPolicy = "open"
)

// ParsePayoutPolicy validates a policy name.
func ParsePayoutPolicy(s string) (PayoutPolicy, error) {
	switch PayoutPolicy(s) {
	case PayoutPolicyOwner, PayoutPolicyOpen:
		return PayoutPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown payout policy %q", s)
	}
}

// CustodyGuard halts settlement while custody does not cover escrow.
type CustodyGuard interface {
	IsEnabled() bool
}

// EventSink receives events after the operation that produced them commits.
type EventSink interface {
	Publish(ctx context.Context, ev *types.Event) error
}

// Engine is the auction-and-micropayment settlement engine.
type Engine struct {
	address  common.Address
	registry token.Registry
	ledger   *escrow.Ledger
	sinks    []EventSink
	policy   PayoutPolicy
	guard    CustodyGuard
	logger   *zap.Logger

	mu      sync.RWMutex
	pending []PendingTransfer
}

// Config holds engine configuration.
type Config struct {
	// Address is the engine's custody account and its operator identity on slot tokens.
	Address      common.Address
	Registry     token.Registry
	Ledger       *escrow.Ledger // optional, a fresh ledger is created when nil
	Sinks        []EventSink
	PayoutPolicy PayoutPolicy // defaults to owner
	Guard        CustodyGuard // optional
	Logger       *zap.Logger
}

// New creates an engine.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Address == (common.Address{}) {
		return nil, fmt.Errorf("engine address cannot be zero")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("token registry cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	policy := cfg.PayoutPolicy
	if policy == "" {
		policy = PayoutPolicyOwner
	}
	if _, err := ParsePayoutPolicy(string(policy)); err != nil {
		return nil, err
	}

	ledger := cfg.Ledger
	if ledger == nil {
		ledger = escrow.NewLedger()
	}

	return &Engine{
		address:  cfg.Address,
		registry: cfg.Registry,
		ledger:   ledger,
		sinks:    cfg.Sinks,
		policy:   policy,
		guard:    cfg.Guard,
		logger:   cfg.Logger,
	}, nil
}

// Address returns the engine's custody address.
func (e *Engine) Address() common.Address {
	return e.address
}

// Policy returns the active payout policy.
func (e *Engine) Policy() PayoutPolicy {
	return e.policy
}

// SetGuard installs the custody guard. Call before serving traffic.
func (e *Engine) SetGuard(guard CustodyGuard) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.guard = guard
}

// AddSink registers an additional event sink. Call before serving traffic.
func (e *Engine) AddSink(sink EventSink) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// HighestBid returns the slot's current winning bid. Its RemainingAmount is
// the escrow still claimable.
func (e *Engine) HighestBid(ctx context.Context, slotID uint64) (escrow.HighestBid, bool, error) {
	if inOperation(ctx) {
		return escrow.HighestBid{}, false, reentrantError(slotID)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	bid, ok := e.ledger.Current(slotID)
	return bid, ok, nil
}

// Snapshot returns every slot's highest bid.
func (e *Engine) Snapshot(ctx context.Context) ([]escrow.HighestBid, error) {
	if inOperation(ctx) {
		return nil, reentrantError(0)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.Snapshot(), nil
}

// EscrowTotals returns the remaining escrow per payment token.
func (e *Engine) EscrowTotals(ctx context.Context) (map[common.Address]*big.Int, error) {
	if inOperation(ctx) {
		return nil, reentrantError(0)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.ledger.EscrowTotals(), nil
}

func (e *Engine) checkGuardLocked(slotID uint64) error {
	if len(e.pending) > 0 {
		return types.NewError(types.KindHalted, slotID,
			fmt.Sprintf("%d unconfirmed transfer(s) pending, settlement halted", len(e.pending)))
	}
	if e.guard != nil && !e.guard.IsEnabled() {
		return types.NewError(types.KindHalted, slotID, "custody does not cover escrow, settlement halted")
	}
	return nil
}

// publishLocked fans an event out to every sink. Sink failures never undo a
// committed operation.
func (e *Engine) publishLocked(ctx context.Context, ev *types.Event) {
	EventsPublishedTotal.WithLabelValues(string(ev.Kind)).Inc()

	for _, sink := range e.sinks {
		err := sink.Publish(ctx, ev)
		if err != nil {
			SinkErrorsTotal.Inc()
			e.logger.Error("event-sink-failed",
				zap.String("event-id", ev.ID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err))
		}
	}
}

func validationError(slotID uint64, format string, args ...interface{}) error {
	return types.NewError(types.KindValidation, slotID, fmt.Sprintf(format, args...))
}
