package mightycall

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"

	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
)

const (
	tokenPath          = "/auth/token"
	tokenExpirySkew    = 30 * time.Second
	tokenRefreshBudget = 30 * time.Second
)

// TokenManager caches the provider bearer token and refreshes it at most once
// at a time no matter how many callers ask concurrently.
type TokenManager struct {
	creds      clientcredentials.Config
	httpClient *http.Client
	retry      RetryPolicy
	observer   Observer
	logger     logger.Logger

	mu     sync.RWMutex
	token  string
	expiry time.Time

	group singleflight.Group
	now   func() time.Time
}

// NewTokenManager builds a token manager for baseURL. apiKey doubles as the
// client id and is also sent as the x-api-key header on the token request.
func NewTokenManager(baseURL, apiKey, clientSecret string, httpClient *http.Client, retry RetryPolicy, observer Observer, log logger.Logger) *TokenManager {
	if log == nil {
		log = logger.Default()
	}
	if observer == nil {
		observer = nopObserver{}
	}
	return &TokenManager{
		creds: clientcredentials.Config{
			ClientID:     apiKey,
			ClientSecret: clientSecret,
			TokenURL:     baseURL + tokenPath,
			AuthStyle:    oauth2.AuthStyleInParams,
		},
		httpClient: withAPIKey(httpClient, apiKey),
		retry:      retry,
		observer:   observer,
		logger:     log.With("component", "mightycall_token"),
		now:        time.Now,
	}
}

// Token returns a valid bearer token, refreshing it when missing or expired.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	if tok, ok := m.cached(); ok {
		return tok, nil
	}

	ch := m.group.DoChan("token", func() (any, error) {
		// another caller may have refreshed while we waited on the group
		if tok, ok := m.cached(); ok {
			return tok, nil
		}
		return m.refresh(ctx)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token only if it is still stale. Concurrent
// callers that saw the same rejected token trigger a single refresh.
func (m *TokenManager) Invalidate(stale string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == stale {
		m.token = ""
		m.expiry = time.Time{}
	}
}

func (m *TokenManager) cached() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == "" {
		return "", false
	}
	if !m.expiry.IsZero() && !m.now().Add(tokenExpirySkew).Before(m.expiry) {
		return "", false
	}
	return m.token, true
}

// refresh runs detached from the caller that started it so one cancelled
// request cannot fail the refresh for everyone else waiting on it.
func (m *TokenManager) refresh(parent context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), tokenRefreshBudget)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, m.httpClient)

	var tok *oauth2.Token
	err := m.retry.Do(ctx, func(ctx context.Context) error {
		t, err := m.creds.Token(ctx)
		if err != nil {
			return classifyTokenError(err)
		}
		tok = t
		return nil
	})
	if err != nil {
		m.observer.TokenRefreshed(false)
		m.logger.Error("Failed to acquire provider token", "error", err)
		if domain.IsAuth(err) {
			return "", err
		}
		return "", domain.NewAuthError(fmt.Errorf("failed to acquire token: %w", err))
	}

	m.mu.Lock()
	m.token = tok.AccessToken
	m.expiry = tok.Expiry
	m.mu.Unlock()

	m.observer.TokenRefreshed(true)
	m.logger.Info("Provider token acquired", "expires_at", tok.Expiry)
	return tok.AccessToken, nil
}

func classifyTokenError(err error) error {
	var rErr *oauth2.RetrieveError
	if errors.As(err, &rErr) && rErr.Response != nil {
		code := rErr.Response.StatusCode
		switch {
		case code == http.StatusTooManyRequests:
			return domain.NewRateLimitedError(parseRetryAfter(rErr.Response.Header.Get("Retry-After")), err)
		case code >= 500:
			return domain.NewTransientError(err)
		default:
			return domain.NewAuthError(err)
		}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return domain.NewTransientError(err)
}
