package circuitbreaker

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// CustodyAuditor reports escrow owed against custody held, per payment token.
// auction.Engine implements this interface.
type CustodyAuditor interface {
	AuditCustody(ctx context.Context) ([]types.CustodyPosition, error)
}

// PendingReconciler settles transfers whose outcome was unknown when they
// were submitted. auction.Engine implements this interface.
type PendingReconciler interface {
	ReconcilePending(ctx context.Context) (int, error)
}

// CustodyCircuitBreaker halts settlement when the engine holds less of a
// payment token than the ledger owes in it. Once tripped it stays open until
// custody has covered escrow for RecoveryChecks consecutive checks.
type CustodyCircuitBreaker struct {
	enabled atomic.Bool // Atomic for lock-free reads

	// Configuration
	checkInterval  time.Duration
	auditor        CustodyAuditor
	reconciler     PendingReconciler
	logger         *zap.Logger
	recoveryChecks int

	// Protected by mutex
	mu             sync.RWMutex
	lastCheck      time.Time
	lastPositions  []types.CustodyPosition
	coveredStreak  int
	lastCheckError string
	pending        int
}

// Config holds circuit breaker configuration.
type Config struct {
	CheckInterval time.Duration
	// RecoveryChecks is how many consecutive covered checks re-enable a
	// tripped breaker. Defaults to 1.
	RecoveryChecks int
	Auditor        CustodyAuditor
	// Reconciler, when set, is run before every audit.
	Reconciler PendingReconciler
	Logger     *zap.Logger
}

// Status holds current circuit breaker status for debugging.
type Status struct {
	Enabled       bool                    `json:"enabled"`
	LastCheck     time.Time               `json:"last_check"`
	LastError     string                  `json:"last_error,omitempty"`
	Positions     []types.CustodyPosition `json:"positions"`
	CoveredStreak int                     `json:"covered_streak"`
	Pending       int                     `json:"pending_transfers"`
}

// New creates a new circuit breaker with the given configuration.
func New(cfg *Config) (breaker *CustodyCircuitBreaker, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Auditor == nil {
		return nil, fmt.Errorf("custody auditor cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}
	if cfg.RecoveryChecks < 0 {
		return nil, fmt.Errorf("recovery checks cannot be negative")
	}

	recovery := cfg.RecoveryChecks
	if recovery == 0 {
		recovery = 1
	}

	breaker = &CustodyCircuitBreaker{
		checkInterval:  cfg.CheckInterval,
		auditor:        cfg.Auditor,
		reconciler:     cfg.Reconciler,
		logger:         cfg.Logger,
		recoveryChecks: recovery,
	}

	// Start enabled by default
	breaker.enabled.Store(true)
	CircuitBreakerEnabled.Set(1)

	return breaker, nil
}

// IsEnabled returns true if settlement may proceed.
// This is lock-free and safe to call from hot paths.
func (b *CustodyCircuitBreaker) IsEnabled() (enabled bool) {
	return b.enabled.Load()
}

// CheckCustody settles pending transfers, audits custody once and updates
// the enabled state. A failed audit leaves the state unchanged.
func (b *CustodyCircuitBreaker) CheckCustody(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		CircuitBreakerCheckDuration.Observe(time.Since(start).Seconds())
	}()

	if b.reconciler != nil {
		remaining, rerr := b.reconciler.ReconcilePending(ctx)
		if rerr != nil {
			b.logger.Warn("failed-to-reconcile-pending", zap.Error(rerr))
		}
		b.mu.Lock()
		b.pending = remaining
		b.mu.Unlock()
	}

	positions, err := b.auditor.AuditCustody(ctx)
	if err != nil {
		b.mu.Lock()
		b.lastCheckError = err.Error()
		b.mu.Unlock()

		CircuitBreakerCheckErrors.Inc()
		b.logger.Error("failed-to-audit-custody", zap.Error(err))
		return fmt.Errorf("audit custody: %w", err)
	}

	short := make([]types.CustodyPosition, 0)
	for _, p := range positions {
		shortfall := p.Shortfall()
		f, _ := new(big.Float).SetInt(shortfall).Float64()
		CircuitBreakerShortfall.WithLabelValues(p.Token.Hex()).Set(f)
		if shortfall.Sign() > 0 {
			short = append(short, p)
		}
	}

	b.mu.Lock()
	b.lastCheck = time.Now()
	b.lastPositions = positions
	b.lastCheckError = ""
	if len(short) == 0 {
		b.coveredStreak++
	} else {
		b.coveredStreak = 0
	}
	streak := b.coveredStreak
	b.mu.Unlock()

	currentlyEnabled := b.enabled.Load()

	shouldDisable := currentlyEnabled && len(short) > 0
	shouldEnable := !currentlyEnabled && len(short) == 0 && streak >= b.recoveryChecks

	switch {
	case shouldDisable:
		b.enabled.Store(false)
		CircuitBreakerEnabled.Set(0)
		CircuitBreakerStateChanges.Inc()

		for _, p := range short {
			b.logger.Warn("circuit-breaker-disabled",
				zap.String("token", p.Token.Hex()),
				zap.String("escrowed", p.Escrowed.String()),
				zap.String("held", p.Held.String()),
				zap.String("shortfall", p.Shortfall().String()))
		}
	case shouldEnable:
		b.enabled.Store(true)
		CircuitBreakerEnabled.Set(1)
		CircuitBreakerStateChanges.Inc()

		b.logger.Info("circuit-breaker-enabled",
			zap.Int("tokens", len(positions)),
			zap.Int("covered-streak", streak))
	default:
		b.logger.Debug("custody-checked",
			zap.Bool("enabled", currentlyEnabled),
			zap.Int("tokens", len(positions)),
			zap.Int("short", len(short)))
	}

	return nil
}

// Start begins the background monitoring loop that periodically audits custody.
// This runs until the context is cancelled.
func (b *CustodyCircuitBreaker) Start(ctx context.Context) {
	b.logger.Info("circuit-breaker-started",
		zap.Duration("check_interval", b.checkInterval),
		zap.Int("recovery_checks", b.recoveryChecks))

	if err := b.CheckCustody(ctx); err != nil {
		b.logger.Error("initial-custody-check-failed", zap.Error(err))
	}

	go b.monitorLoop(ctx)
}

func (b *CustodyCircuitBreaker) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("circuit-breaker-stopped")
			return
		case <-ticker.C:
			if err := b.CheckCustody(ctx); err != nil {
				// Keep monitoring
				b.logger.Error("custody-check-error", zap.Error(err))
			}
		}
	}
}

// GetStatus returns current circuit breaker status for debugging and HTTP endpoints.
func (b *CustodyCircuitBreaker) GetStatus() (status Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	positions := make([]types.CustodyPosition, len(b.lastPositions))
	copy(positions, b.lastPositions)

	return Status{
		Enabled:       b.enabled.Load(),
		LastCheck:     b.lastCheck,
		LastError:     b.lastCheckError,
		Positions:     positions,
		CoveredStreak: b.coveredStreak,
		Pending:       b.pending,
	}
}
