// Package httpclient provides the JSON HTTP transport used to talk to the contact service
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/engagement-analysis/advert-sync/internal/logger"
)

const (
	// DefaultTimeout is the default timeout for HTTP requests
	DefaultTimeout = 30 * time.Second

	// DefaultMaxRetryElapsed bounds the time spent retrying rate-limited requests
	DefaultMaxRetryElapsed = 5 * time.Minute

	// MaxResponseSize is the maximum allowed response size (100MB)
	MaxResponseSize = 100 * 1024 * 1024

	// UserAgent is the user agent string for HTTP requests
	UserAgent = "advert-sync/1.0"
)

// Client is an interface for HTTP operations
type Client interface {
	// Get performs an HTTP GET request and returns the response body
	Get(ctx context.Context, url string) ([]byte, error)

	// PostJSON encodes payload as JSON, POSTs it and returns the response body
	PostJSON(ctx context.Context, url string, payload any) ([]byte, error)
}

// Option configures a DefaultClient
type Option func(*DefaultClient)

// WithHeader sets a header on every request
func WithHeader(key, value string) Option {
	return func(c *DefaultClient) {
		c.headers.Set(key, value)
	}
}

// WithMaxRetryElapsed bounds the total time rate-limited requests are retried.
// Zero disables retries.
func WithMaxRetryElapsed(d time.Duration) Option {
	return func(c *DefaultClient) {
		c.maxRetryElapsed = d
	}
}

// WithInitialInterval sets the first backoff interval after a rate-limited response
func WithInitialInterval(d time.Duration) Option {
	return func(c *DefaultClient) {
		c.initialInterval = d
	}
}

// DefaultClient is the default HTTP client implementation
type DefaultClient struct {
	client          *http.Client
	headers         http.Header
	maxRetryElapsed time.Duration
	initialInterval time.Duration
}

// NewDefaultClient creates a new default HTTP client with the specified timeout
// If timeout is 0, uses DefaultTimeout
func NewDefaultClient(timeout time.Duration, opts ...Option) *DefaultClient {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	c := &DefaultClient{
		client: &http.Client{
			Timeout: timeout,
		},
		headers:         http.Header{},
		maxRetryElapsed: DefaultMaxRetryElapsed,
		initialInterval: backoff.DefaultInitialInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get performs an HTTP GET request
func (c *DefaultClient) Get(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url, nil)
}

// PostJSON performs an HTTP POST request with a JSON body
func (c *DefaultClient) PostJSON(ctx context.Context, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, url, body)
}

// do sends the request, retrying only on 429 Too Many Requests
func (c *DefaultClient) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var lastRateLimit error

	operation := func() ([]byte, error) {
		resp, err := c.send(ctx, method, url, body)
		if err == nil {
			return resp, nil
		}

		var httpErr *HTTPError
		if !errors.As(err, &httpErr) || httpErr.StatusCode != http.StatusTooManyRequests || c.maxRetryElapsed <= 0 {
			return nil, backoff.Permanent(err)
		}

		lastRateLimit = err
		if httpErr.RetryAfter > 0 {
			return nil, backoff.RetryAfter(httpErr.RetryAfter)
		}
		return nil, err
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.initialInterval

	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(exp),
		backoff.WithMaxElapsedTime(c.maxRetryElapsed),
		backoff.WithNotify(func(_ error, next time.Duration) {
			logger.Warnf("Rate limited on %s %s, retrying in %s", method, url, next)
		}),
	)
	if err != nil {
		var retryAfter *backoff.RetryAfterError
		if errors.As(err, &retryAfter) && lastRateLimit != nil {
			return nil, lastRateLimit
		}
		return nil, err
	}
	return resp, nil
}

func (c *DefaultClient) send(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for key, values := range c.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		httpErr := &HTTPError{
			StatusCode: resp.StatusCode,
			URL:        url,
			Message:    resp.Status,
		}
		if len(msg) > 0 {
			httpErr.Message = fmt.Sprintf("%s: %s", resp.Status, bytes.TrimSpace(msg))
		}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			httpErr.RetryAfter = secs
		}
		return nil, httpErr
	}

	if resp.ContentLength > MaxResponseSize {
		return nil, fmt.Errorf("response size %d bytes exceeds maximum allowed size of %d bytes (%.2f MB)",
			resp.ContentLength, MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	// +1 to detect if limit exceeded
	limitedReader := io.LimitReader(resp.Body, MaxResponseSize+1)
	data, err := io.ReadAll(limitedReader)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if int64(len(data)) > MaxResponseSize {
		return nil, fmt.Errorf("response size exceeds maximum allowed size of %d bytes (%.2f MB)",
			MaxResponseSize, float64(MaxResponseSize)/(1024*1024))
	}

	return data, nil
}
