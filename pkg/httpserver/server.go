package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mselser95/slot-auction/internal/storage"
	"github.com/mselser95/slot-auction/pkg/healthprobe"
	"github.com/mselser95/slot-auction/pkg/token"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server provides the settlement API plus metrics and health endpoints.
type Server struct {
	server        *http.Server
	router        chi.Router
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
}

// Config holds server configuration.
type Config struct {
	Port          string
	Logger        *zap.Logger
	HealthChecker *healthprobe.HealthChecker
	Engine        Settlement
	Registry      token.Registry
	Journal       storage.Storage
	Auth          *Authenticator
	Feed          http.Handler          // optional event feed, mounted at /api/events/ws
	DevMarket     *token.MemoryRegistry // optional, enables /api/dev
}

// New creates a new HTTP server.
func New(cfg *Config) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.HealthChecker == nil {
		return nil, fmt.Errorf("health checker cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("token registry cannot be nil")
	}
	if cfg.Journal == nil {
		return nil, fmt.Errorf("event journal cannot be nil")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator cannot be nil")
	}

	h := &handlers{
		engine:   cfg.Engine,
		registry: cfg.Registry,
		journal:  cfg.Journal,
		auth:     cfg.Auth,
		logger:   cfg.Logger,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// Routes
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/health", cfg.HealthChecker.Health())
	r.Get("/ready", cfg.HealthChecker.Ready())

	// The feed holds its connection open, so it stays outside the timeout group.
	if cfg.Feed != nil {
		r.Get("/api/events/ws", cfg.Feed.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Use(instrument)

		r.Route("/api/slots/{slotID}", func(r chi.Router) {
			r.Get("/highest-bid", h.highestBid)
			r.Get("/events", h.events)
			r.Get("/content", h.content)
			r.Post("/bids", h.bid)
			r.Post("/payouts", h.payout)
			r.Post("/batch-payouts", h.batchPayout)
		})
		r.Get("/api/tokens/{token}/balances/{account}", h.balance)

		if cfg.DevMarket != nil {
			dev := &devHandlers{handlers: h, market: cfg.DevMarket}
			r.Route("/api/dev", func(r chi.Router) {
				r.Post("/mint", dev.mint)
				r.Post("/approve", dev.approve)
				r.Post("/slots", dev.mintSlot)
				r.Post("/operators", dev.setOperator)
			})
		}
	})

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Server{
		server:        server,
		router:        r,
		logger:        cfg.Logger,
		healthChecker: cfg.HealthChecker,
	}, nil
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
// This is a blocking call that returns when the server stops or encounters an error.
func (s *Server) Start() error {
	s.logger.Info("http-server-starting", zap.String("addr", s.server.Addr))

	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http-server-shutting-down")

	err := s.server.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("http-server-shutdown-complete")
	return nil
}

// instrument records request counts and latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		RequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		RequestDurationSeconds.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}
