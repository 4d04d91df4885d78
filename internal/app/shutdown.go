package app

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown() error {
	a.logger.Info("application-shutting-down")

	a.healthChecker.SetReady(false)

	// Cancel context to stop the breaker loop
	a.cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Stop accepting requests first so no settlement runs against closed sinks
	err := a.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		a.logger.Error("http-server-shutdown-error", zap.Error(err))
	}

	// Hijacked feed connections are not covered by server shutdown
	err = a.hub.Close()
	if err != nil {
		a.logger.Error("event-feed-close-error", zap.Error(err))
	}

	// Storage, caches and the rpc client
	a.closeAll()

	a.wg.Wait()

	a.logger.Info("application-shutdown-complete")

	return nil
}
