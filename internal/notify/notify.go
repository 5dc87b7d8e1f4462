package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/oddsfeed-client/internal/recovery"
)

// Notifier is the interface for sending producer status notifications.
type Notifier interface {
	SendStatusChange(ctx context.Context, e recovery.StatusChanged) error
}

// Client implements the ntfy notification client.
type Client struct {
	httpClient *http.Client
	config     *Config
	logger     *zap.Logger
}

// NewClient creates a new ntfy client.
func NewClient(cfg *Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		config: cfg,
		logger: logger,
	}
}

// SendStatusChange sends a status change notification.
func (c *Client) SendStatusChange(ctx context.Context, e recovery.StatusChanged) error {
	if !c.config.Enabled {
		return nil
	}

	tags := c.config.Tags + ",x"
	priority := "high"
	switch e.New {
	case recovery.Completed:
		tags = c.config.Tags + ",white_check_mark"
		priority = c.config.Priority
	case recovery.FatalError:
		tags = c.config.Tags + ",rotating_light"
		priority = "urgent"
	}

	return c.send(ctx, FormatStatusTitle(e), FormatStatusMessage(e), tags, priority)
}

func (c *Client) send(ctx context.Context, title, message, tags, priority string) error {
	url := fmt.Sprintf("%s/%s", strings.TrimSuffix(c.config.Server, "/"), c.config.Topic)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Title", title)
	req.Header.Set("Priority", priority)
	req.Header.Set("Tags", tags)

	if c.config.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("failed to send notification", zap.Error(err))
		return fmt.Errorf("sending notification: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Drain response body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("notification failed",
			zap.Int("status", resp.StatusCode),
			zap.String("url", url),
		)
		return fmt.Errorf("notification failed with status: %d", resp.StatusCode)
	}

	c.logger.Debug("notification sent", zap.String("title", title))
	return nil
}

// NoopNotifier is a no-op implementation for when notifications are disabled.
type NoopNotifier struct{}

// SendStatusChange is a no-op.
func (n *NoopNotifier) SendStatusChange(_ context.Context, _ recovery.StatusChanged) error {
	return nil
}

// New creates the appropriate notifier based on config.
func New(cfg *Config, logger *zap.Logger) Notifier {
	if !cfg.Enabled {
		return &NoopNotifier{}
	}
	return NewClient(cfg, logger)
}

// Listener turns recovery status changes into notifications: one when a
// producer fails and one when it is back after a failure.
type Listener struct {
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	failed map[int]bool
}

// NewListener creates a listener to subscribe on the recovery dispatcher.
func NewListener(n Notifier, logger *zap.Logger) *Listener {
	return &Listener{
		notifier: n,
		timeout:  10 * time.Second,
		logger:   logger,
		failed:   make(map[int]bool),
	}
}

func (l *Listener) OnStatusChanged(e recovery.StatusChanged) {
	if !l.shouldNotify(e) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	if err := l.notifier.SendStatusChange(ctx, e); err != nil {
		l.logger.Warn("status notification not delivered",
			zap.Int("producer", e.ProducerID),
			zap.Stringer("status", e.New),
			zap.Error(err),
		)
	}
}

func (l *Listener) OnEventRecoveryCompleted(recovery.EventRecoveryCompleted) {}

func (l *Listener) shouldNotify(e recovery.StatusChanged) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e.New {
	case recovery.Error, recovery.FatalError:
		// Repeated failures of a producer that is already down stay quiet.
		if l.failed[e.ProducerID] && e.New == recovery.Error {
			return false
		}
		l.failed[e.ProducerID] = true
		return true
	case recovery.Completed:
		if l.failed[e.ProducerID] {
			delete(l.failed, e.ProducerID)
			return true
		}
	}
	return false
}
