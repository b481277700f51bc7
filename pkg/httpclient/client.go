// Package httpclient is the retrying HTTP transport used for every call
// to the remote agent service. Rate-limited and transiently failing
// requests are retried with a strategy picked per status code; 429 and
// 503 responses honor the service's rate-limit headers when a parser is
// installed. Backoff waits respect the request context.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// RetryStrategy selects how a failed request is retried.
type RetryStrategy int

const (
	// NoRetry surfaces the response immediately.
	NoRetry RetryStrategy = iota
	// ConservativeRetry performs at most two quick retries.
	ConservativeRetry
	// SmartRetry backs off exponentially, deferring to the service's
	// rate-limit headers when present.
	SmartRetry
)

// conservativeRetryLimit caps ConservativeRetry regardless of the
// client's overall retry budget.
const conservativeRetryLimit = 2

// RateLimitInfo is what a header parser extracts from a throttled
// response.
type RateLimitInfo struct {
	RetryAfter            time.Duration
	ResetTime             int64
	RequestsRemaining     int
	InputTokensRemaining  int
	OutputTokensRemaining int
	TokensRemaining       int
}

// RateLimitHeaderParser reads rate-limit headers from a response.
type RateLimitHeaderParser func(http.Header) RateLimitInfo

// RetryStrategyFunc maps a status code to a retry strategy.
type RetryStrategyFunc func(int) RetryStrategy

// Client wraps an http.Client with status-aware retries.
type Client struct {
	client       *http.Client
	maxRetries   int
	baseDelay    time.Duration
	headerParser RateLimitHeaderParser
	strategyFunc RetryStrategyFunc
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

func WithMaxRetries(max int) Option {
	return func(c *Client) {
		c.maxRetries = max
	}
}

func WithBaseDelay(delay time.Duration) Option {
	return func(c *Client) {
		c.baseDelay = delay
	}
}

func WithHeaderParser(parser RateLimitHeaderParser) Option {
	return func(c *Client) {
		c.headerParser = parser
	}
}

func WithRetryStrategy(strategyFunc RetryStrategyFunc) Option {
	return func(c *Client) {
		c.strategyFunc = strategyFunc
	}
}

func New(opts ...Option) *Client {
	client := &Client{
		client:       &http.Client{Timeout: 60 * time.Second},
		maxRetries:   5,
		baseDelay:    2 * time.Second,
		strategyFunc: DefaultRetryStrategy,
	}

	for _, opt := range opts {
		opt(client)
	}

	return client
}

// DefaultRetryStrategy retries throttling and availability failures
// smartly, other server-side failures conservatively, and nothing else.
func DefaultRetryStrategy(statusCode int) RetryStrategy {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusServiceUnavailable:
		return SmartRetry
	case http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusGatewayTimeout:
		return ConservativeRetry
	default:
		return NoRetry
	}
}

// Do sends the request, retrying per the configured strategy. Non-2xx
// responses come back with a non-nil error; after the retry budget is
// spent the error is a *RetryableError. Bodied requests are only retried
// when GetBody is set, so the body can be reissued.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		if attempt > 0 && req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("failed to recreate request body for retry: %w", err)
			}
			req.Body = body
		}

		resp, err := c.client.Do(req)
		if err != nil {
			// Transport errors surface immediately; the transport
			// already honors the request context and its own timeout.
			return nil, err
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return resp, nil
		}

		err = fmt.Errorf("HTTP %d", resp.StatusCode)
		strategy := c.strategyFunc(resp.StatusCode)
		if strategy == NoRetry || !replayable(req) {
			return resp, err
		}

		var info RateLimitInfo
		if c.headerParser != nil {
			info = c.headerParser(resp.Header)
		}

		if attempt >= c.maxRetries {
			return resp, &RetryableError{
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("max HTTP retries (%d) exceeded", c.maxRetries),
				RetryAfter: c.calculateDelay(strategy, attempt, info),
				Attempts:   attempt + 1,
				Err:        err,
			}
		}

		delay := c.calculateDelay(strategy, attempt, info)
		if delay <= 0 {
			// The strategy gave up before the overall budget did.
			return resp, err
		}

		slog.Warn("Retrying request",
			"status", resp.StatusCode,
			"delay", delay,
			"attempt", attempt+1)

		discard(resp)
		if waitErr := c.wait(req.Context(), delay); waitErr != nil {
			return nil, fmt.Errorf("request aborted during retry backoff: %w", waitErr)
		}
	}
}

// replayable reports whether the request can be reissued. Bodiless
// requests always can; bodied requests need GetBody.
func replayable(req *http.Request) bool {
	return req.Body == nil || req.GetBody != nil
}

// calculateDelay computes how long to wait before the next attempt. Zero
// means stop retrying.
func (c *Client) calculateDelay(strategy RetryStrategy, attempt int, info RateLimitInfo) time.Duration {
	switch strategy {
	case SmartRetry:
		// Prefer what the service tells us.
		if info.RetryAfter > 0 {
			return info.RetryAfter
		}
		if info.ResetTime > 0 {
			if until := time.Until(time.Unix(info.ResetTime, 0)); until > 0 {
				return until
			}
		}
		backoff := c.baseDelay << attempt
		return backoff + backoff/10

	case ConservativeRetry:
		if attempt >= conservativeRetryLimit {
			return 0
		}
		return time.Duration(2+attempt) * time.Second

	default:
		return 0
	}
}

// wait blocks for the backoff delay or until the request context ends.
func (c *Client) wait(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// discard drains and closes a response that is about to be superseded by
// a retry so the underlying connection can be reused.
func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
