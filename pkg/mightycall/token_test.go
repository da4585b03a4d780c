package mightycall

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/callops/pkg/domain"
)

func TestTokenManager_CachesToken(t *testing.T) {
	fp := newFakeProvider(t)
	tm := fp.tokens()

	first, err := tm.Token(context.Background())
	require.NoError(t, err)
	second, err := tm.Token(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "tok-1", first)
	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), fp.tokenCalls.Load())
}

func TestTokenManager_SingleFlight(t *testing.T) {
	fp := newFakeProvider(t)
	fp.tokenDelay = 50 * time.Millisecond
	tm := fp.tokens()

	const workers = 20
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = tm.Token(context.Background())
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "tok-1", tokens[i])
	}
	assert.Equal(t, int32(1), fp.tokenCalls.Load())
}

func TestTokenManager_InvalidateComparesToken(t *testing.T) {
	fp := newFakeProvider(t)
	tm := fp.tokens()
	ctx := context.Background()

	tok, err := tm.Token(ctx)
	require.NoError(t, err)

	tm.Invalidate("some-older-token")
	again, err := tm.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, tok, again, "a stale value must not evict the current token")

	// many callers rejecting the same token cause a single refresh
	for i := 0; i < 5; i++ {
		tm.Invalidate(tok)
	}
	fresh, err := tm.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", fresh)
	assert.Equal(t, int32(2), fp.tokenCalls.Load())
}

func TestTokenManager_Errors(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		wantCalls int32
	}{
		{"rejected credentials are not retried", http.StatusUnauthorized, 1},
		{"bad request is not retried", http.StatusBadRequest, 1},
		{"server errors are retried then fail", http.StatusServiceUnavailable, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProvider(t)
			fp.tokenStatus.Store(int32(tt.status))

			_, err := fp.tokens().Token(context.Background())
			require.Error(t, err)
			assert.True(t, domain.IsAuth(err))
			assert.Equal(t, tt.wantCalls, fp.tokenCalls.Load())
		})
	}
}

func TestTokenManager_ExpiredTokenRefreshes(t *testing.T) {
	fp := newFakeProvider(t)
	tm := fp.tokens()

	_, err := tm.Token(context.Background())
	require.NoError(t, err)

	tm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	tok, err := tm.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}
