package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/slot-auction/pkg/types"
	"go.uber.org/zap"
)

// SubscriberConfig holds event feed subscriber configuration.
type SubscriberConfig struct {
	URL          string // ws://host:port/api/events/ws
	SlotID       uint64
	FilterSlot   bool
	DialTimeout  time.Duration
	PingInterval time.Duration
	BufferSize   int
	Backoff      BackoffConfig
	Logger       *zap.Logger
}

// Subscriber follows a remote event feed and reconnects when it drops.
type Subscriber struct {
	url          string
	dialTimeout  time.Duration
	pingInterval time.Duration
	backoff      *Backoff
	logger       *zap.Logger
	events       chan *types.Event

	mu   sync.Mutex
	conn *websocket.Conn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSubscriber creates a subscriber. Call Start to connect.
func NewSubscriber(cfg *SubscriberConfig) (*Subscriber, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse feed url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("feed url must use ws or wss, got %q", u.Scheme)
	}
	if cfg.FilterSlot {
		q := u.Query()
		q.Set("slot", strconv.FormatUint(cfg.SlotID, 10))
		u.RawQuery = q.Encode()
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	pingInterval := cfg.PingInterval
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}

	return &Subscriber{
		url:          u.String(),
		dialTimeout:  dialTimeout,
		pingInterval: pingInterval,
		backoff:      NewBackoff(cfg.Backoff, cfg.Logger),
		logger:       cfg.Logger,
		events:       make(chan *types.Event, bufferSize),
	}, nil
}

// Start dials the feed and begins streaming into Events.
func (s *Subscriber) Start(ctx context.Context) error {
	s.logger.Info("feed-subscriber-starting", zap.String("url", s.url))

	err := s.connect(ctx)
	if err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)

	return nil
}

// Events returns the received events. It is closed after Close or when the
// context passed to Start is done.
func (s *Subscriber) Events() <-chan *types.Event {
	return s.events
}

// Close stops the subscriber and waits for its goroutines.
func (s *Subscriber) Close() error {
	if s.cancel != nil {
		s.cancel()
	}

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("feed-subscriber-closed")
	return nil
}

func (s *Subscriber) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.dialTimeout}

	conn, resp, err := dialer.DialContext(ctx, s.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Info("feed-subscriber-connected")
	return nil
}

func (s *Subscriber) run(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.events)

	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.readUntilError(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("feed-connection-lost", zap.Error(err))

		err = s.backoff.Retry(ctx, s.connect)
		if err != nil {
			return
		}
	}
}

// readUntilError pumps one connection until it fails.
func (s *Subscriber) readUntilError(ctx context.Context, conn *websocket.Conn) error {
	pingDone := make(chan struct{})
	defer close(pingDone)
	go s.pingLoop(conn, pingDone)

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			return err
		}

		var ev types.Event
		err = json.Unmarshal(message, &ev)
		if err != nil {
			s.logger.Debug("feed-unparseable-message", zap.Error(err), zap.Int("bytes", len(message)))
			continue
		}

		SubscriberEventsReceivedTotal.WithLabelValues(string(ev.Kind)).Inc()

		select {
		case s.events <- &ev:
		case <-ctx.Done():
			return errors.New("subscriber stopped")
		}
	}
}

func (s *Subscriber) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second))
			if err != nil {
				s.logger.Debug("feed-ping-failed", zap.Error(err))
			}
		}
	}
}
