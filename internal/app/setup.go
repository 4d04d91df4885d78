package app

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/mselser95/slot-auction/internal/auction"
	"github.com/mselser95/slot-auction/internal/circuitbreaker"
	"github.com/mselser95/slot-auction/internal/storage"
	"github.com/mselser95/slot-auction/pkg/cache"
	"github.com/mselser95/slot-auction/pkg/config"
	"github.com/mselser95/slot-auction/pkg/ethtoken"
	"github.com/mselser95/slot-auction/pkg/healthprobe"
	"github.com/mselser95/slot-auction/pkg/httpserver"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/websocket"
	"go.uber.org/zap"
)

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	engineAddr, engineKey, err := cfg.EngineIdentity()
	if err != nil {
		return nil, fmt.Errorf("engine identity: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	a := &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: setupHealthChecker(),
		ctx:           ctx,
		cancel:        cancel,
	}

	fail := func(step string, err error) (*App, error) {
		a.closeAll()
		cancel()
		return nil, fmt.Errorf("%s: %w", step, err)
	}

	err = a.setupRegistry(ctx, engineKey)
	if err != nil {
		return fail("setup token registry", err)
	}

	a.journal, err = setupStorage(cfg, logger)
	if err != nil {
		return fail("setup storage", err)
	}
	a.closers = append(a.closers, namedCloser{name: "storage", close: a.journal.Close})

	a.hub, err = websocket.NewHub(&websocket.HubConfig{
		BufferSize: cfg.EventFeedBufferSize,
		Logger:     logger,
	})
	if err != nil {
		return fail("setup event feed", err)
	}

	a.engine, err = setupEngine(cfg, logger, engineAddr, a.registry, a.journal, a.hub)
	if err != nil {
		return fail("setup engine", err)
	}

	if cfg.CircuitBreakerEnabled {
		a.breaker, err = circuitbreaker.New(&circuitbreaker.Config{
			CheckInterval:  cfg.CircuitBreakerCheckInterval,
			RecoveryChecks: cfg.CircuitBreakerRecoveryChecks,
			Auditor:        a.engine,
			Reconciler:     a.engine,
			Logger:         logger,
		})
		if err != nil {
			return fail("setup circuit breaker", err)
		}
		a.engine.SetGuard(a.breaker)
	}

	auth, err := a.setupAuthenticator()
	if err != nil {
		return fail("setup authenticator", err)
	}

	a.httpServer, err = httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: a.healthChecker,
		Engine:        a.engine,
		Registry:      a.registry,
		Journal:       a.journal,
		Auth:          auth,
		Feed:          a.hub,
		DevMarket:     a.devMarket,
	})
	if err != nil {
		return fail("setup http server", err)
	}

	a.registerHealthChecks()

	logger.Info("application-configured",
		zap.String("engine-address", engineAddr.Hex()),
		zap.String("token-backend", cfg.TokenBackend),
		zap.String("storage-mode", cfg.StorageMode),
		zap.String("payout-policy", cfg.PayoutPolicy),
		zap.Bool("circuit-breaker", cfg.CircuitBreakerEnabled))

	return a, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func (a *App) setupRegistry(ctx context.Context, engineKey *ecdsa.PrivateKey) error {
	if a.cfg.TokenBackend != config.TokenBackendChain {
		a.devMarket = NewMemoryMarket()
		a.registry = a.devMarket
		a.logger.Info("memory-token-backend",
			zap.String("payment-token", MemoryPaymentToken.Hex()),
			zap.String("slot-token", MemorySlotToken.Hex()))
		return nil
	}

	client, err := ethclient.DialContext(ctx, a.cfg.RPCURL)
	if err != nil {
		return fmt.Errorf("dial rpc: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "rpc-client", close: func() error {
		client.Close()
		return nil
	}})
	a.healthChecker.AddCheck("rpc", func(ctx context.Context) error {
		_, err := client.BlockNumber(ctx)
		return err
	})

	transactor, err := ethtoken.NewTransactor(&ethtoken.TransactorConfig{
		Backend:        client,
		PrivateKey:     engineKey,
		GasLimit:       a.cfg.ChainGasLimit,
		ReceiptTimeout: a.cfg.ChainReceiptTimeout,
		Logger:         a.logger,
	})
	if err != nil {
		return fmt.Errorf("create transactor: %w", err)
	}

	handles, err := setupCache(int64(a.cfg.RegistryCacheSize), a.logger)
	if err != nil {
		return fmt.Errorf("create registry cache: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "registry-cache", close: func() error {
		handles.Close()
		return nil
	}})

	a.registry, err = ethtoken.NewRegistry(&ethtoken.RegistryConfig{
		Backend:     client,
		Transactor:  transactor,
		Cache:       handles,
		CacheTTL:    a.cfg.RegistryCacheTTL,
		BatchHelper: common.HexToAddress(a.cfg.ChainBatchHelper),
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("create registry: %w", err)
	}

	a.logger.Info("chain-token-backend",
		zap.String("rpc-url", a.cfg.RPCURL),
		zap.String("signer", transactor.From().Hex()),
		zap.String("batch-helper", a.cfg.ChainBatchHelper))
	return nil
}

// NewMemoryMarket returns a registry holding the memory backend's payment
// and slot token contracts.
func NewMemoryMarket() *token.MemoryRegistry {
	market := token.NewMemoryRegistry()
	market.RegisterPaymentToken(token.NewMemoryPaymentToken(MemoryPaymentToken, "AD3"))
	market.RegisterSlotToken(token.NewMemorySlotToken(MemorySlotToken))
	return market
}

func setupCache(maxItems int64, logger *zap.Logger) (*cache.RistrettoCache, error) {
	return cache.NewRistrettoCache(&cache.RistrettoConfig{
		MaxCost: maxItems,
		Logger:  logger,
	})
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	switch cfg.StorageMode {
	case config.StorageModePostgres:
		pgStorage, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStorage, nil
	case config.StorageModeConsole:
		return storage.NewConsoleStorage(logger), nil
	default:
		return storage.NewMemoryStorage(logger), nil
	}
}

func setupEngine(
	cfg *config.Config,
	logger *zap.Logger,
	address common.Address,
	registry token.Registry,
	journal storage.Storage,
	hub *websocket.Hub,
) (*auction.Engine, error) {
	policy, err := auction.ParsePayoutPolicy(cfg.PayoutPolicy)
	if err != nil {
		return nil, err
	}

	return auction.New(&auction.Config{
		Address:      address,
		Registry:     registry,
		Sinks:        []auction.EventSink{storage.Sink{Storage: journal}, hub},
		PayoutPolicy: policy,
		Logger:       logger,
	})
}

func (a *App) setupAuthenticator() (*httpserver.Authenticator, error) {
	seen, err := setupCache(100000, a.logger)
	if err != nil {
		return nil, fmt.Errorf("create replay cache: %w", err)
	}
	a.closers = append(a.closers, namedCloser{name: "replay-cache", close: func() error {
		seen.Close()
		return nil
	}})

	return httpserver.NewAuthenticator(a.cfg.AuthMaxSkew, seen)
}

func (a *App) registerHealthChecks() {
	if pinger, ok := a.journal.(interface{ Ping(context.Context) error }); ok {
		a.healthChecker.AddCheck("storage", pinger.Ping)
	}

	a.healthChecker.AddCheck("pending-transfers", func(ctx context.Context) error {
		pending, err := a.engine.Pending(ctx)
		if err != nil {
			return err
		}
		if len(pending) > 0 {
			return fmt.Errorf("%d unconfirmed transfer(s), oldest %s since %s",
				len(pending), pending[0].Ref, pending[0].Since.Format(time.RFC3339))
		}
		return nil
	})

	if a.breaker != nil {
		a.healthChecker.AddCheck("custody", func(context.Context) error {
			status := a.breaker.GetStatus()
			if !status.Enabled {
				return fmt.Errorf("settlement halted since %s", status.LastCheck.Format(time.RFC3339))
			}
			return nil
		})
	}
}

func (a *App) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		err := a.closers[i].close()
		if err != nil {
			a.logger.Error("close-failed", zap.String("component", a.closers[i].name), zap.Error(err))
		}
	}
	a.closers = nil
}
