package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/oddsfeed-client/internal/producer"
)

const accessTokenHeader = "x-access-token"

// HTTPClient issues recovery requests to the bookmaker API. Every request gets
// a client-side id that the feed echoes back on snapshot_complete.
type HTTPClient struct {
	httpClient  *http.Client
	baseURL     string
	accessToken string
	limiter     *rate.Limiter
	retryCount  int
	retryDelay  time.Duration
	logger      *zap.Logger

	lastRequestID atomic.Int64
}

// NewClient creates a client allowing ratePerMinute recovery requests per
// minute; zero or less disables the limit.
func NewClient(baseURL, accessToken string, ratePerMinute int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:    10,
		MaxConnsPerHost: 4,
		IdleConnTimeout: 90 * time.Second,
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(ratePerMinute)), ratePerMinute)
	}

	c := &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:     strings.TrimRight(baseURL, "/"),
		accessToken: accessToken,
		limiter:     limiter,
		retryCount:  retryCount,
		retryDelay:  retryDelay,
		logger:      logger,
	}
	// Ids stay unique across restarts of the client.
	c.lastRequestID.Store(time.Now().Unix())
	return c
}

func (c *HTTPClient) nextRequestID() int64 {
	return c.lastRequestID.Add(1)
}

// RequestFullRecovery asks the producer to replay its full current state.
func (c *HTTPClient) RequestFullRecovery(ctx context.Context, p *producer.Producer, nodeID int) (int64, error) {
	requestID := c.nextRequestID()
	path := fmt.Sprintf("/v1/%s/recovery/initiate_request", producerPath(p))
	return requestID, c.initiate(ctx, p, path, requestID, nodeID, nil)
}

// RequestRecoveryAfter asks the producer to replay everything since after.
func (c *HTTPClient) RequestRecoveryAfter(ctx context.Context, p *producer.Producer, after time.Time, nodeID int) (int64, error) {
	requestID := c.nextRequestID()
	path := fmt.Sprintf("/v1/%s/recovery/initiate_request", producerPath(p))
	extra := url.Values{"after": {strconv.FormatInt(after.UnixMilli(), 10)}}
	return requestID, c.initiate(ctx, p, path, requestID, nodeID, extra)
}

// RequestEventRecovery asks the producer to replay the odds of a single event.
// The request is registered on the producer before it is sent, so its
// snapshot_complete is recognized even if it arrives before the response.
func (c *HTTPClient) RequestEventRecovery(ctx context.Context, p *producer.Producer, eventID string, nodeID int) (int64, error) {
	requestID := c.nextRequestID()
	path := fmt.Sprintf("/v1/%s/odds/events/%s/initiate_request", producerPath(p), url.PathEscape(eventID))

	p.AddEventRecovery(requestID, eventID)
	if err := c.initiate(ctx, p, path, requestID, nodeID, nil); err != nil {
		p.TakeEventRecovery(requestID)
		return 0, err
	}
	return requestID, nil
}

func producerPath(p *producer.Producer) string {
	return url.PathEscape(strings.ToLower(p.Name()))
}

func (c *HTTPClient) initiate(ctx context.Context, p *producer.Producer, path string, requestID int64, nodeID int, extra url.Values) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	params := url.Values{}
	for k, v := range extra {
		params[k] = v
	}
	params.Set("request_id", strconv.FormatInt(requestID, 10))
	params.Set("node_id", strconv.Itoa(nodeID))
	endpoint := c.baseURL + path + "?" + params.Encode()

	c.logger.Debug("requesting", zap.String("url", endpoint), zap.Int64("request_id", requestID))

	code, err := c.post(ctx, endpoint)
	p.RecordRecoveryRequest(time.Now(), code, requestID)
	if err != nil {
		return fmt.Errorf("producer %s request %d: %w", p, requestID, err)
	}
	return nil
}

// post sends the request, retrying transport errors, 429 and 5xx with an
// exponential delay. It returns the last status code seen, 0 if none.
func (c *HTTPClient) post(ctx context.Context, endpoint string) (int, error) {
	var (
		lastErr  error
		lastCode int
	)
	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return lastCode, ctx.Err()
			case <-time.After(delay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
		if err != nil {
			return 0, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set(accessTokenHeader, c.accessToken)
		req.Header.Set("Accept", "application/xml, application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		lastCode = resp.StatusCode

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return lastCode, ErrNotFound
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return lastCode, ErrAuthFailed
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode < 200 || resp.StatusCode > 299:
			return lastCode, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}

		if readErr != nil {
			c.logger.Debug("reading acknowledgement body", zap.Error(readErr))
		}
		return lastCode, nil
	}

	return lastCode, fmt.Errorf("max retries exceeded: %w", lastErr)
}
