package session

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/feed"
	"github.com/dgnsrekt/oddsfeed-client/internal/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // 512KB
)

// Handler consumes decoded feed messages. recovery.FeedRecovery satisfies it.
type Handler interface {
	HandleSystemMessage(ctx context.Context, msg feed.Message)
	HandleUserMessage(ctx context.Context, msg feed.Message, interest feed.MessageInterest)
	ConnectionShutdown()
}

// Config describes how sessions reach the feed.
type Config struct {
	URL               string
	AccessToken       string
	NodeID            int
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
}

// Session is one websocket connection carrying a single message interest.
// It reconnects until its context ends.
type Session struct {
	cfg      Config
	interest feed.MessageInterest
	handler  Handler
	decoder  *Decoder
	dialer   *websocket.Dialer
	logger   *zap.Logger

	mu        sync.Mutex
	connected bool
}

// New creates a session for interest. The system_alive interest delivers to
// the handler's system path, every other interest to the user path.
func New(cfg Config, interest feed.MessageInterest, handler Handler, decoder *Decoder, logger *zap.Logger) *Session {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = cfg.ReconnectDelay
	}
	return &Session{
		cfg:      cfg,
		interest: interest,
		handler:  handler,
		decoder:  decoder,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  1024,
		},
		logger: logger.With(zap.String("interest", interest.Name())),
	}
}

func (s *Session) Interest() feed.MessageInterest { return s.interest }

// IsConnected reports whether the session currently has a live connection.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Run connects and reads until ctx is cancelled, reconnecting with an
// exponential delay after every failure.
func (s *Session) Run(ctx context.Context) {
	delay := s.cfg.ReconnectDelay

	for {
		wasConnected, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.logger.Info("session stopped")
			return
		}

		if wasConnected {
			// Anything may have been missed; every producer must recover.
			s.handler.ConnectionShutdown()
			delay = s.cfg.ReconnectDelay
		}
		s.logger.Warn("session disconnected, reconnecting",
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.cfg.MaxReconnectDelay {
			delay = s.cfg.MaxReconnectDelay
		}
	}
}

func (s *Session) endpoint() (string, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parsing feed url: %w", err)
	}
	q := u.Query()
	q.Set("interest", s.interest.Name())
	q.Set("node_id", strconv.Itoa(s.cfg.NodeID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// runOnce dials and reads until the connection fails. It reports whether a
// connection was established.
func (s *Session) runOnce(ctx context.Context) (bool, error) {
	endpoint, err := s.endpoint()
	if err != nil {
		return false, err
	}

	header := http.Header{}
	header.Set("x-access-token", s.cfg.AccessToken)

	conn, resp, err := s.dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dialing feed: %w", err)
	}

	connID := uuid.New().String()
	s.setConnected(true)
	defer s.setConnected(false)

	logger := s.logger.With(zap.String("connID", connID))
	logger.Info("session connected")

	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(ctx, conn, done, logger)

	return true, s.readPump(ctx, conn, logger)
}

func (s *Session) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// keepAlive pings the peer and closes the connection when ctx ends.
func (s *Session) keepAlive(ctx context.Context, conn *websocket.Conn, done <-chan struct{}, logger *zap.Logger) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logger.Debug("websocket ping failed", zap.Error(err))
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Session) readPump(ctx context.Context, conn *websocket.Conn, logger *zap.Logger) error {
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("websocket read error", zap.Error(err))
			}
			return err
		}
		// Any traffic proves the peer is alive.
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		s.dispatch(ctx, messageType, data, logger)
	}
}

func (s *Session) dispatch(ctx context.Context, messageType int, data []byte, logger *zap.Logger) {
	msg, err := s.decoder.Decode(messageType, data)
	if err != nil {
		metrics.IncDecodeError(s.interest.Name())
		logger.Debug("failed to decode feed message", zap.Error(err))
		return
	}
	metrics.IncSessionMessage(s.interest.Name(), msg.Kind().String())

	if s.interest == feed.SystemAlive {
		s.handler.HandleSystemMessage(ctx, msg)
		return
	}
	s.handler.HandleUserMessage(ctx, msg, s.interest)
}
