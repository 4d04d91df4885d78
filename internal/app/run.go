package app

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("log-level", a.cfg.LogLevel),
		zap.String("engine-address", a.engine.Address().Hex()))

	a.Start()

	a.logger.Info("application-ready", zap.String("http-addr", ":"+a.cfg.HTTPPort))

	return a.waitForShutdown()
}

// Start launches the background components and marks the app ready.
func (a *App) Start() {
	a.wg.Add(1)
	go a.runHTTPServer()

	if a.breaker != nil {
		// Start runs an immediate custody check before the ticker.
		// Each check reconciles pending transfers first.
		a.breaker.Start(a.ctx)
	} else {
		a.wg.Add(1)
		go a.reconcileLoop()
	}

	a.healthChecker.SetReady(true)
}

// Stop asks a running app to shut down.
func (a *App) Stop() {
	a.cancel()
}

// reconcileLoop settles unconfirmed transfers when no breaker does it.
func (a *App) reconcileLoop() {
	defer a.wg.Done()

	interval := a.cfg.CircuitBreakerCheckInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			remaining, err := a.engine.ReconcilePending(a.ctx)
			if err != nil {
				a.logger.Warn("reconcile-pending-failed", zap.Int("remaining", remaining), zap.Error(err))
			}
		}
	}
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
		a.cancel()
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
