package papersources

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-radar-service/internal/domain"
)

func fastClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 100
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 10
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	return NewHTTPClient(cfg)
}

func TestNewHTTPClient(t *testing.T) {
	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		require.NotNil(t, client)
		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "PaperRadar/1.0", client.config.UserAgent)
		assert.Equal(t, 0, client.config.MaxRetries)
		assert.Equal(t, time.Minute, client.config.Cooldown)
		assert.Equal(t, float64(1), client.config.RateLimit)
		assert.Equal(t, "source", client.config.Source)
	})

	t.Run("keeps custom config", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{
			Source:       "arxiv",
			Timeout:      5 * time.Second,
			MaxRetries:   2,
			UserAgent:    "TestAgent/1.0",
			APIKey:       "k",
			APIKeyHeader: "x-api-key",
		})

		assert.Equal(t, 5*time.Second, client.client.Timeout)
		assert.Equal(t, 2, client.config.MaxRetries)
		assert.Equal(t, "TestAgent/1.0", client.config.UserAgent)
		assert.Equal(t, "arxiv", client.config.Source)
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("sets user agent and api key", func(t *testing.T) {
		var ua, key string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua = r.Header.Get("User-Agent")
			key = r.Header.Get("x-api-key")
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{UserAgent: "TestAgent/2.0", APIKey: "secret", APIKeyHeader: "x-api-key"})
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		assert.Equal(t, "TestAgent/2.0", ua)
		assert.Equal(t, "secret", key)
	})

	t.Run("429 is not retried and starts cooldown", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Retry-After", "120")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{Source: "huggingface", MaxRetries: 3})

		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := client.Do(req)

		var rateErr *domain.RateLimitError
		require.True(t, errors.As(err, &rateErr))
		assert.Equal(t, "huggingface", rateErr.Source)
		assert.Equal(t, 120*time.Second, rateErr.RetryAfter)
		assert.True(t, errors.Is(err, domain.ErrRateLimited))
		assert.Equal(t, int32(1), calls.Load())

		req, _ = http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err = client.Do(req)
		require.True(t, errors.As(err, &rateErr))
		assert.Equal(t, int32(1), calls.Load(), "cooldown must short-circuit without a request")
		assert.Greater(t, client.CooldownRemaining(), time.Duration(0))
	})

	t.Run("429 without retry-after uses configured cooldown", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{Cooldown: 5 * time.Second})
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := client.Do(req)

		var rateErr *domain.RateLimitError
		require.True(t, errors.As(err, &rateErr))
		assert.Equal(t, 5*time.Second, rateErr.RetryAfter)
	})

	t.Run("retries 5xx up to max retries", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 2})
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("5xx after retries returns external API error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{Source: "arxiv", MaxRetries: 1})
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		_, err := client.Do(req)

		var apiErr *domain.ExternalAPIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
		assert.Equal(t, "arxiv", apiErr.Source)
	})

	t.Run("4xx is returned to caller", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 3})
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, nil)
		resp, err := client.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("resends body on retry", func(t *testing.T) {
		var calls atomic.Int32
		var lastBody string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			lastBody = string(b)
			if calls.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 1})
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodPost, server.URL, strings.NewReader("payload"))
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, "payload", lastBody)
	})

	t.Run("context cancellation stops the request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
		defer server.Close()

		client := fastClient(HTTPClientConfig{MaxRetries: 3})
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
		_, err := client.Do(req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestHTTPClient_RetryAfter(t *testing.T) {
	client := NewHTTPClient(HTTPClientConfig{})

	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{"missing", "", 7 * time.Second},
		{"seconds", "30", 30 * time.Second},
		{"zero seconds", "0", 7 * time.Second},
		{"garbage", "soon", 7 * time.Second},
		{"past date", "Mon, 01 Jan 2001 00:00:00 GMT", 7 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &http.Response{Header: http.Header{}}
			if tt.header != "" {
				resp.Header.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, client.retryAfter(resp, 7*time.Second))
		})
	}

	t.Run("future date", func(t *testing.T) {
		resp := &http.Response{Header: http.Header{}}
		resp.Header.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		got := client.retryAfter(resp, time.Second)
		assert.Greater(t, got, 58*time.Minute)
	})
}
