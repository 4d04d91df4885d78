package websocket

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BackoffConfig configures exponential backoff with jitter.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       float64 // 0.2 = up to 20% extra
}

// Backoff retries a connect function with growing delays.
type Backoff struct {
	cfg    BackoffConfig
	logger *zap.Logger

	mu      sync.Mutex
	current time.Duration
}

// NewBackoff creates a Backoff. Zero fields get sensible defaults.
func NewBackoff(cfg BackoffConfig, logger *zap.Logger) *Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = 30 * time.Second
		if cfg.MaxDelay < cfg.InitialDelay {
			cfg.MaxDelay = cfg.InitialDelay
		}
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 2
	}
	if cfg.Jitter < 0 {
		cfg.Jitter = 0
	}

	return &Backoff{
		cfg:     cfg,
		logger:  logger,
		current: cfg.InitialDelay,
	}
}

// Retry waits, calls attempt, and repeats with a longer wait until attempt
// succeeds or ctx is done. Success resets the delay.
func (b *Backoff) Retry(ctx context.Context, attempt func(context.Context) error) error {
	for {
		delay := b.next()

		b.logger.Info("feed-reconnect-scheduled", zap.Duration("delay", delay))
		ReconnectAttemptsTotal.Inc()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		err := attempt(ctx)
		if err == nil {
			b.Reset()
			b.logger.Info("feed-reconnected")
			return nil
		}

		ReconnectFailuresTotal.Inc()
		b.logger.Warn("feed-reconnect-failed", zap.Error(err))
	}
}

// Reset returns the delay to InitialDelay.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = b.cfg.InitialDelay
}

// next returns the current delay with jitter and grows it for the next call.
func (b *Backoff) next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.current
	if b.cfg.Jitter > 0 {
		//nolint:gosec // jitter does not need a secure source
		delay = time.Duration(float64(delay) * (1 + rand.Float64()*b.cfg.Jitter))
	}

	grown := time.Duration(float64(b.current) * b.cfg.Multiplier)
	if grown > b.cfg.MaxDelay {
		grown = b.cfg.MaxDelay
	}
	b.current = grown

	return delay
}
