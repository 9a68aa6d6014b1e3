package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/helixir/paper-radar-service/internal/domain"
)

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source names the upstream in rate limit errors.
	Source string

	// Timeout is the request timeout for HTTP operations.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxRetries is the number of retries on network errors and 5xx responses.
	// Throttled responses are never retried.
	MaxRetries int

	// RetryDelay is the delay between retries.
	RetryDelay time.Duration

	// Cooldown is applied after a 429 without a usable Retry-After header.
	Cooldown time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "x-api-key", "Authorization").
	APIKeyHeader string
}

// HTTPClient wraps http.Client with rate limiting, bounded retries and
// throttle cooldowns. It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client for a discovery source.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Source == "" {
		cfg.Source = "source"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 1
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = time.Minute
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "PaperRadar/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

// Do executes an HTTP request with rate limiting.
//
// A 429 response starts a cooldown and returns a *domain.RateLimitError; calls
// made during the cooldown fail the same way without touching the network, so
// a scan degrades to partial results instead of sleeping on the upstream.
// Network errors and 5xx responses are retried up to MaxRetries times.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(req.Context()); err != nil {
			var cooldown *CooldownError
			if errors.As(err, &cooldown) {
				return nil, domain.NewRateLimitError(c.config.Source, cooldown.Remaining)
			}
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			if attempt < c.config.MaxRetries {
				if err := c.prepareRetry(req, c.config.RetryDelay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			delay := c.retryAfter(resp, c.config.Cooldown)
			drain(resp)
			c.rateLimiter.Penalize(delay)
			return nil, domain.NewRateLimitError(c.config.Source, delay)
		}

		if resp.StatusCode >= 500 && resp.StatusCode < 600 {
			lastErr = domain.NewExternalAPIError(c.config.Source, resp.StatusCode, http.StatusText(resp.StatusCode), nil)
			delay := c.retryAfter(resp, c.config.RetryDelay)
			drain(resp)
			if attempt < c.config.MaxRetries {
				if err := c.prepareRetry(req, delay); err != nil {
					return nil, err
				}
				continue
			}
			return nil, lastErr
		}

		return resp, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("unexpected error: no response received")
}

// CooldownRemaining reports how long the source is still backing off.
func (c *HTTPClient) CooldownRemaining() time.Duration {
	return c.rateLimiter.CooldownRemaining()
}

// retryAfter reads the Retry-After header as seconds or an HTTP date.
func (c *HTTPClient) retryAfter(resp *http.Response, fallback time.Duration) time.Duration {
	header := resp.Header.Get("Retry-After")
	if header == "" {
		return fallback
	}

	if seconds, err := strconv.ParseInt(header, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return fallback
	}

	if t, err := http.ParseTime(header); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return fallback
}

func (c *HTTPClient) prepareRetry(req *http.Request, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-req.Context().Done():
		return req.Context().Err()
	case <-timer.C:
	}

	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("cannot retry request: %w", err)
	}
	req.Body = body
	return nil
}

func drain(resp *http.Response) {
	if resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	resp.Body.Close()
}

// readErrorBody reads a bounded error body for inclusion in API errors.
func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	return string(body)
}

// CheckStatus converts a non-200 response into a *domain.ExternalAPIError.
func CheckStatus(source string, resp *http.Response) error {
	if resp.StatusCode == http.StatusOK {
		return nil
	}
	return domain.NewExternalAPIError(source, resp.StatusCode, readErrorBody(resp), nil)
}
