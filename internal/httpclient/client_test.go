package httpclient_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/engagement-analysis/advert-sync/internal/httpclient"
)

// newTestServer creates a new test server with keep-alives disabled.
// This prevents flaky tests when running in parallel, as closing a server
// with keep-alives enabled can affect other tests sharing the HTTP transport.
func newTestServer(handler http.Handler) *httptest.Server {
	server := httptest.NewServer(handler)
	server.Config.SetKeepAlivesEnabled(false)
	return server
}

func TestDefaultClient_Get(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, httpclient.UserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"results": []}`))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(5*time.Second, httpclient.WithHeader("Authorization", "Token secret"))
	body, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"results": []}`, string(body))
}

func TestDefaultClient_PostJSON(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.JSONEq(t, `{"label": "weekly advert"}`, string(body))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"key": "weekly_advert"}`))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(0)
	body, err := client.PostJSON(context.Background(), server.URL, map[string]string{"label": "weekly advert"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key": "weekly_advert"}`, string(body))
}

func TestDefaultClient_ErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		statusCode int
	}{
		{name: "bad request", statusCode: http.StatusBadRequest},
		{name: "not found", statusCode: http.StatusNotFound},
		{name: "server error", statusCode: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var calls atomic.Int32
			server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tt.statusCode)
			}))
			defer server.Close()

			client := httpclient.NewDefaultClient(5 * time.Second)
			_, err := client.Get(context.Background(), server.URL)
			require.Error(t, err)

			var httpErr *httpclient.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.statusCode, httpErr.StatusCode)
			assert.Equal(t, server.URL, httpErr.URL)
			assert.Contains(t, httpErr.Message, "nope")
			assert.Equal(t, int32(1), calls.Load(), "only rate limited requests are retried")
		})
	}
}

func TestDefaultClient_RetriesRateLimited(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(5*time.Second,
		httpclient.WithInitialInterval(time.Millisecond),
		httpclient.WithMaxRetryElapsed(5*time.Second),
	)
	body, err := client.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDefaultClient_RateLimitGivesUp(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(5*time.Second, httpclient.WithMaxRetryElapsed(time.Second))
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)

	var httpErr *httpclient.HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
	assert.Equal(t, 3600, httpErr.RetryAfter)
}

func TestDefaultClient_RetryDisabled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := httpclient.NewDefaultClient(5*time.Second, httpclient.WithMaxRetryElapsed(0))
	_, err := client.Get(context.Background(), server.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDefaultClient_ContextCancelled(t *testing.T) {
	t.Parallel()

	server := newTestServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`ok`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := httpclient.NewDefaultClient(5 * time.Second)
	_, err := client.Get(ctx, server.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHTTPError(t *testing.T) {
	t.Parallel()

	err := httpclient.NewHTTPError(http.StatusForbidden, "https://example.org/api", "403 Forbidden")
	assert.Equal(t, "HTTP 403 for URL https://example.org/api: 403 Forbidden", err.Error())
}
