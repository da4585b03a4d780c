package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/callops/pkg/domain"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MIGHTYCALL_BASE_URL", "")
	t.Setenv("SYNC_CONCURRENCY", "")

	cfg := Load()

	assert.Equal(t, "https://api.mightycall.com/v4", cfg.MightyCall.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.MightyCall.HTTPTimeout)
	assert.Equal(t, 5, cfg.Sync.Concurrency)
	assert.Equal(t, 31, cfg.Sync.ChunkDays)
	assert.Equal(t, 31*24*time.Hour, cfg.Sync.ChunkSize())
	assert.Equal(t, 48*time.Hour, cfg.Sync.Lookback())
	assert.True(t, cfg.Sync.FilterByAssignedNumbers)
	assert.Equal(t, 1, cfg.Metrics.RatePrecision)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("MIGHTYCALL_BASE_URL", "https://example.test/api/")
	t.Setenv("MIGHTYCALL_HTTP_TIMEOUT", "5s")
	t.Setenv("SYNC_CONCURRENCY", "12")
	t.Setenv("SYNC_FILTER_BY_ASSIGNED_NUMBERS", "false")
	t.Setenv("MIGHTYCALL_RPS", "2.5")
	t.Setenv("SYNC_CHUNK_DAYS", "not-a-number")

	cfg := Load()

	assert.Equal(t, "https://example.test/api", cfg.MightyCall.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.MightyCall.HTTPTimeout)
	assert.Equal(t, 12, cfg.Sync.Concurrency)
	assert.False(t, cfg.Sync.FilterByAssignedNumbers)
	assert.Equal(t, 2.5, cfg.MightyCall.RPS)
	assert.Equal(t, 31, cfg.Sync.ChunkDays, "invalid values fall back to the default")
}

func TestValidate(t *testing.T) {
	t.Run("missing credentials is a config error", func(t *testing.T) {
		t.Setenv("MIGHTYCALL_API_KEY", "")
		t.Setenv("MIGHTYCALL_CLIENT_SECRET", "")

		err := Load().Validate()
		require.Error(t, err)
		assert.True(t, domain.IsConfig(err))
	})

	t.Run("complete configuration passes", func(t *testing.T) {
		t.Setenv("MIGHTYCALL_API_KEY", "key")
		t.Setenv("MIGHTYCALL_CLIENT_SECRET", "secret")
		t.Setenv("LOG_LEVEL", "debug")

		assert.NoError(t, Load().Validate())
	})

	t.Run("unknown driver is rejected", func(t *testing.T) {
		t.Setenv("MIGHTYCALL_API_KEY", "key")
		t.Setenv("MIGHTYCALL_CLIENT_SECRET", "secret")
		t.Setenv("DATABASE_DRIVER", "mysql")

		assert.Error(t, Load().Validate())
	})
}
