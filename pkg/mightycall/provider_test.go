package mightycall

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jordanlanch/callops/pkg/logger"
)

const (
	testAPIKey = "key-123"
	testSecret = "secret-456"
)

// fakeProvider emulates the provider's token endpoint and resource paths
type fakeProvider struct {
	t      *testing.T
	server *httptest.Server

	tokenCalls  atomic.Int32
	tokenStatus atomic.Int32
	tokenDelay  time.Duration

	mu      sync.Mutex
	routes  map[string]http.HandlerFunc
	hits    map[string]int
	queries map[string][]url.Values
	bearers []string
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{
		t:       t,
		routes:  make(map[string]http.HandlerFunc),
		hits:    make(map[string]int),
		queries: make(map[string][]url.Values),
	}
	fp.server = httptest.NewServer(http.HandlerFunc(fp.serve))
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-api-key") != testAPIKey {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	if r.URL.Path == "/auth/token" {
		fp.serveToken(w, r)
		return
	}

	fp.mu.Lock()
	fp.hits[r.URL.Path]++
	fp.queries[r.URL.Path] = append(fp.queries[r.URL.Path], r.URL.Query())
	fp.bearers = append(fp.bearers, r.Header.Get("Authorization"))
	h, ok := fp.routes[r.URL.Path]
	fp.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func (fp *fakeProvider) serveToken(w http.ResponseWriter, r *http.Request) {
	n := fp.tokenCalls.Add(1)
	if fp.tokenDelay > 0 {
		time.Sleep(fp.tokenDelay)
	}
	if status := fp.tokenStatus.Load(); status != 0 {
		w.WriteHeader(int(status))
		return
	}

	if err := r.ParseForm(); err != nil ||
		r.PostForm.Get("grant_type") != "client_credentials" ||
		r.PostForm.Get("client_id") != testAPIKey ||
		r.PostForm.Get("client_secret") != testSecret {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": fmt.Sprintf("tok-%d", n),
		"token_type":   "bearer",
		"expires_in":   3600,
	})
}

func (fp *fakeProvider) handle(path string, h http.HandlerFunc) {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	fp.routes[path] = h
}

func (fp *fakeProvider) handleJSON(path string, body any) {
	fp.handle(path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, body)
	})
}

func (fp *fakeProvider) hitCount(path string) int {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return fp.hits[path]
}

func (fp *fakeProvider) queryLog(path string) []url.Values {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]url.Values(nil), fp.queries[path]...)
}

func (fp *fakeProvider) config() Config {
	return Config{
		BaseURL:      fp.server.URL,
		APIKey:       testAPIKey,
		ClientSecret: testSecret,
		HTTPTimeout:  2 * time.Second,
		PageSize:     2,
		MaxPages:     5,
		Retry:        fastPolicy(3),
	}
}

func (fp *fakeProvider) tokens() *TokenManager {
	return NewTokenManager(fp.server.URL, testAPIKey, testSecret, fp.server.Client(), fastPolicy(3), nil, logger.Discard())
}

func (fp *fakeProvider) client(tokens *TokenManager) *Client {
	return NewClient(ClientConfig{
		BaseURL:        fp.server.URL,
		APIKey:         testAPIKey,
		RequestTimeout: 2 * time.Second,
		Retry:          fastPolicy(3),
	}, fp.server.Client(), tokens, nil, logger.Discard())
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (fp *fakeProvider) bearerLog() []string {
	fp.mu.Lock()
	defer fp.mu.Unlock()
	return append([]string(nil), fp.bearers...)
}
