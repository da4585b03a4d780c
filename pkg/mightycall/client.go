package mightycall

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
)

const maxResponseBytes = 16 << 20

// Observer receives provider traffic measurements. pkg/metrics implements it.
type Observer interface {
	ObserveRequest(operation string, status int, elapsed time.Duration)
	TokenRefreshed(ok bool)
}

type nopObserver struct{}

func (nopObserver) ObserveRequest(string, int, time.Duration) {}
func (nopObserver) TokenRefreshed(bool)                       {}

// StatusError is a non-2xx provider response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Body)
}

// IsStatus reports whether err carries the given provider status code
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

// tokenSource is satisfied by *TokenManager
type tokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate(stale string)
}

// ClientConfig tunes the provider HTTP client
type ClientConfig struct {
	BaseURL        string
	APIKey         string
	RequestTimeout time.Duration
	RPS            float64
	Retry          RetryPolicy
}

// Client performs authenticated GET requests against the provider
type Client struct {
	baseURL  string
	http     *http.Client
	tokens   tokenSource
	limiter  *rate.Limiter
	retry    RetryPolicy
	timeout  time.Duration
	observer Observer
	logger   logger.Logger
}

// NewClient creates a provider client. httpClient may be nil.
func NewClient(cfg ClientConfig, httpClient *http.Client, tokens tokenSource, observer Observer, log logger.Logger) *Client {
	if log == nil {
		log = logger.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}

	limit := rate.Inf
	burst := 1
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
		burst = int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
	}

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     withAPIKey(httpClient, cfg.APIKey),
		tokens:   tokens,
		limiter:  rate.NewLimiter(limit, burst),
		retry:    cfg.Retry,
		timeout:  cfg.RequestTimeout,
		observer: observer,
		logger:   log.With("component", "mightycall_client"),
	}
}

// Get fetches path (relative to the base URL) with extra query parameters and
// returns the response body. Transient failures are retried per the policy;
// a 401 triggers exactly one token refresh and one repeat of the request.
func (c *Client) Get(ctx context.Context, operation, path string, query url.Values) ([]byte, error) {
	target, err := c.buildURL(path, query)
	if err != nil {
		return nil, err
	}

	refreshed := false
	var body []byte
	err = c.retry.Do(ctx, func(ctx context.Context) error {
		for {
			token, err := c.tokens.Token(ctx)
			if err != nil {
				return err
			}

			b, err := c.do(ctx, operation, target, token)
			if IsStatus(err, http.StatusUnauthorized) {
				if refreshed {
					return domain.NewAuthError(err)
				}
				refreshed = true
				c.logger.Warn("Provider rejected token, refreshing", "operation", operation)
				c.tokens.Invalidate(token)
				continue
			}
			if err != nil {
				return err
			}
			body = b
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) buildURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("failed to parse provider url: %w", err)
	}
	q := u.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) do(ctx context.Context, operation, target, token string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.observer.ObserveRequest(operation, 0, time.Since(start))
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, domain.NewTransientError(fmt.Errorf("failed to call %s: %w", operation, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.observer.ObserveRequest(operation, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, domain.NewTransientError(fmt.Errorf("failed to read %s response: %w", operation, err))
	}

	return body, classifyStatus(resp, body)
}

func classifyStatus(resp *http.Response, body []byte) error {
	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return nil
	}

	se := &StatusError{StatusCode: code, Body: truncate(string(body), 256)}
	switch {
	case code == http.StatusUnauthorized, code == http.StatusNotFound:
		return se
	case code == http.StatusTooManyRequests:
		return domain.NewRateLimitedError(parseRetryAfter(resp.Header.Get("Retry-After")), se)
	case code >= 500:
		return domain.NewTransientError(se)
	default:
		return domain.NewUpstreamError(se)
	}
}

// parseRetryAfter accepts delta-seconds or an HTTP date
func parseRetryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// apiKeyTransport adds the x-api-key header to every request
type apiKeyTransport struct {
	apiKey string
	base   http.RoundTripper
}

func (t *apiKeyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	r.Header.Set("x-api-key", t.apiKey)
	return t.base.RoundTrip(r)
}

func withAPIKey(hc *http.Client, apiKey string) *http.Client {
	base := http.DefaultTransport
	var timeout time.Duration
	if hc != nil {
		if hc.Transport != nil {
			base = hc.Transport
		}
		timeout = hc.Timeout
	}
	if _, ok := base.(*apiKeyTransport); ok {
		return hc
	}
	return &http.Client{
		Transport: &apiKeyTransport{apiKey: apiKey, base: base},
		Timeout:   timeout,
	}
}
