// Package app wires the settlement engine to its collaborators, journal,
// event feed and HTTP API, and runs them until shutdown.
package app

import (
	"context"
	"net/http"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mselser95/slot-auction/internal/auction"
	"github.com/mselser95/slot-auction/internal/circuitbreaker"
	"github.com/mselser95/slot-auction/internal/storage"
	"github.com/mselser95/slot-auction/pkg/config"
	"github.com/mselser95/slot-auction/pkg/healthprobe"
	"github.com/mselser95/slot-auction/pkg/httpserver"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/mselser95/slot-auction/pkg/websocket"
	"go.uber.org/zap"
)

// Contracts registered by the memory token backend.
var (
	MemoryPaymentToken = common.HexToAddress("0x00000000000000000000000000000000000000ad")
	MemorySlotToken    = common.HexToAddress("0x0000000000000000000000000000000000005489")
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	engine        *auction.Engine
	breaker       *circuitbreaker.CustodyCircuitBreaker
	hub           *websocket.Hub
	journal       storage.Storage
	registry      token.Registry
	devMarket     *token.MemoryRegistry
	closers       []namedCloser
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

type namedCloser struct {
	name  string
	close func() error
}

// Engine returns the settlement engine.
func (a *App) Engine() *auction.Engine {
	return a.engine
}

// Handler returns the HTTP API handler.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler()
}

// DevMarket returns the memory token backend, or nil on the chain backend.
func (a *App) DevMarket() *token.MemoryRegistry {
	return a.devMarket
}
