// Package websocket streams settlement events to clients over WebSocket.
package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

const maxClientMessageBytes = 512

// HubConfig holds event feed hub configuration.
type HubConfig struct {
	BufferSize   int           // per-client queue, a full queue disconnects the client
	PingInterval time.Duration // default 30s
	WriteTimeout time.Duration // default 10s
	Logger       *zap.Logger
}

// Hub fans settlement events out to connected WebSocket clients.
// It satisfies the engine's event sink interface.
type Hub struct {
	upgrader     websocket.Upgrader
	bufferSize   int
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn        *websocket.Conn
	send        chan []byte
	done        chan struct{}
	closeOnce   sync.Once
	slotID      uint64
	filterSlot  bool
	connectedAt time.Time
}

// NewHub creates an event feed hub.
func NewHub(cfg *HubConfig) (*Hub, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("buffer size must be positive, got %d", cfg.BufferSize)
	}

	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		bufferSize:   cfg.BufferSize,
		pingInterval: pingInterval,
		writeTimeout: writeTimeout,
		logger:       cfg.Logger,
		clients:      make(map[*client]struct{}),
	}, nil
}

// ServeHTTP upgrades the request and streams events until the client leaves.
// An optional ?slot=N query restricts the stream to one slot.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c := &client{
		send:        make(chan []byte, h.bufferSize),
		done:        make(chan struct{}),
		connectedAt: time.Now(),
	}

	if raw := r.URL.Query().Get("slot"); raw != "" {
		slotID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid slot %q", raw), http.StatusBadRequest)
			return
		}
		c.slotID = slotID
		c.filterSlot = true
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("feed-upgrade-failed", zap.Error(err))
		return
	}
	c.conn = conn

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	FeedClients.Set(float64(count))
	h.logger.Info("feed-client-connected",
		zap.String("remote-addr", r.RemoteAddr),
		zap.Bool("slot-filter", c.filterSlot),
		zap.Uint64("slot-id", c.slotID),
		zap.Int("clients", count))

	go h.writeLoop(c)
	h.readLoop(c)
}

// Publish queues ev for every interested client. Clients whose queue is full
// are disconnected rather than blocking settlement.
func (h *Hub) Publish(_ context.Context, ev *types.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if c.filterSlot && c.slotID != ev.SlotID {
			continue
		}
		select {
		case c.send <- payload:
			FeedMessagesSentTotal.WithLabelValues(string(ev.Kind)).Inc()
		default:
			FeedMessagesDroppedTotal.WithLabelValues("slow_client").Inc()
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("feed-client-too-slow", zap.String("remote-addr", c.conn.RemoteAddr().String()))
		h.remove(c, websocket.ClosePolicyViolation, "client too slow")
	}

	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c, websocket.CloseGoingAway, "shutting down")
	}

	h.logger.Info("feed-hub-closed", zap.Int("disconnected", len(clients)))
	return nil
}

// readLoop discards client messages and notices disconnects.
func (h *Hub) readLoop(c *client) {
	pongWait := 2 * h.pingInterval

	c.conn.SetReadLimit(maxClientMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, _, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("feed-client-read-error", zap.Error(err))
			}
			h.remove(c, websocket.CloseNormalClosure, "")
			return
		}
	}
}

// writeLoop is the only writer of data frames on c.conn.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			err := c.conn.WriteMessage(websocket.TextMessage, payload)
			if err != nil {
				h.logger.Debug("feed-client-write-error", zap.Error(err))
				h.remove(c, websocket.CloseNormalClosure, "")
				return
			}
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout))
			if err != nil {
				h.remove(c, websocket.CloseNormalClosure, "")
				return
			}
		}
	}
}

func (h *Hub) remove(c *client, code int, reason string) {
	h.mu.Lock()
	_, present := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	c.closeOnce.Do(func() {
		close(c.done)
		if reason != "" {
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason),
				time.Now().Add(time.Second))
		}
		_ = c.conn.Close()
	})

	if present {
		FeedClients.Set(float64(count))
		FeedConnectionDuration.Observe(time.Since(c.connectedAt).Seconds())
		h.logger.Info("feed-client-disconnected", zap.Int("clients", count))
	}
}
