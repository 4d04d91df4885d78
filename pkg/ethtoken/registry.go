package ethtoken

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/pkg/cache"
	"github.com/mselser95/slot-auction/pkg/token"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	kindPayment = "payment"
	kindSlot    = "slot"
)

// Registry resolves caller-supplied contract addresses into chain
// collaborators. An address resolves only if it has contract code; handles
// are cached and concurrent resolutions of one address share a single lookup.
type Registry struct {
	backend    Backend
	transactor *Transactor
	cache      cache.Cache
	ttl        time.Duration
	helper     common.Address
	group      singleflight.Group
	logger     *zap.Logger
}

var _ token.Registry = (*Registry)(nil)

// RegistryConfig holds registry configuration.
type RegistryConfig struct {
	Backend    Backend
	Transactor *Transactor
	Cache      cache.Cache
	CacheTTL   time.Duration
	// BatchHelper, when set, is the Disperse contract payment tokens use
	// for atomic batch transfers.
	BatchHelper common.Address
	Logger      *zap.Logger
}

// NewRegistry creates a registry.
func NewRegistry(cfg *RegistryConfig) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if cfg.Transactor == nil {
		return nil, fmt.Errorf("transactor cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Registry{
		backend:    cfg.Backend,
		transactor: cfg.Transactor,
		cache:      cfg.Cache,
		ttl:        cfg.CacheTTL,
		helper:     cfg.BatchHelper,
		logger:     cfg.Logger,
	}, nil
}

// PaymentToken implements token.Registry.
func (r *Registry) PaymentToken(ctx context.Context, addr common.Address) (token.PaymentToken, error) {
	h, err := r.resolve(ctx, kindPayment, addr, func() interface{} {
		pay := NewPaymentToken(addr, r.backend, r.transactor)
		if r.helper != (common.Address{}) {
			return NewBatchPaymentToken(pay, r.helper)
		}
		return pay
	})
	if err != nil {
		return nil, err
	}
	return h.(token.PaymentToken), nil
}

// SlotToken implements token.Registry.
func (r *Registry) SlotToken(ctx context.Context, addr common.Address) (token.SlotToken, error) {
	h, err := r.resolve(ctx, kindSlot, addr, func() interface{} {
		return NewSlotToken(addr, r.backend, r.transactor)
	})
	if err != nil {
		return nil, err
	}
	return h.(*SlotToken), nil
}

func (r *Registry) resolve(ctx context.Context, kind string, addr common.Address, build func() interface{}) (interface{}, error) {
	key := kind + ":" + addr.Hex()

	if h, ok := r.cache.Get(key); ok {
		return h, nil
	}

	h, err, shared := r.group.Do(key, func() (interface{}, error) {
		code, err := r.backend.CodeAt(ctx, addr, nil)
		if err != nil {
			RegistryResolvesTotal.WithLabelValues(kind, "error").Inc()
			return nil, fmt.Errorf("get code at %s: %w", addr.Hex(), err)
		}
		if len(code) == 0 {
			RegistryResolvesTotal.WithLabelValues(kind, "no-code").Inc()
			return nil, fmt.Errorf("%w: %s token %s has no code", token.ErrUnknownContract, kind, addr.Hex())
		}

		handle := build()
		r.cache.Set(key, handle, r.ttl)
		RegistryResolvesTotal.WithLabelValues(kind, "resolved").Inc()

		r.logger.Debug("token-contract-resolved",
			zap.String("kind", kind),
			zap.String("address", addr.Hex()),
			zap.Int("code-size", len(code)))

		return handle, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		r.logger.Debug("token-contract-resolve-shared", zap.String("key", key))
	}

	return h, nil
}
