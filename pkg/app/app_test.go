package app

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/callops/config"
	"github.com/jordanlanch/callops/pkg/analytics"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/testdata"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.DatabaseDriver = "sqlite3"
	cfg.DatabaseURL = fmt.Sprintf("file:app_%d?mode=memory&cache=shared&_fk=1", time.Now().UnixNano())
	cfg.RedisURL = ""
	cfg.SentryDSN = ""
	cfg.Sync.ArchiveRaw = false
	return cfg
}

func TestNew_SyncsGeneratedAccount(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	rng := models.DateRange{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
	}
	provider := testdata.NewProvider(testdata.NewGenerator(7), testdata.Account{
		Business:    []string{"+12125550100"},
		Range:       rng,
		CallsPerDay: 3,
	})

	a, err := New(ctx, cfg, logger.Discard(), Options{Migrate: true, Provider: provider})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.Nil(t, a.Provider, "an injected provider replaces the MightyCall client")
	assert.Nil(t, a.Cache)
	assert.False(t, a.SentryEnabled())
	require.NoError(t, a.Ping(ctx))

	org, err := a.Store.CreateOrganization(ctx, "Acme")
	require.NoError(t, err)
	_, err = a.Store.AssignPhoneNumber(ctx, org.ID, "+12125550100")
	require.NoError(t, err)

	results, err := a.Runner.RunAll(ctx, rng)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SyncStatusSucceeded, results[0].Status())
	assert.Equal(t, len(provider.Calls), results[0].Calls.Synced)

	rate, err := a.Stats.AnswerRate(ctx, analytics.ForOrg(org.ID), rng)
	require.NoError(t, err)
	assert.Equal(t, len(provider.Calls), rate.Total)

	families, err := a.Registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.RedisURL = "redis://" + mr.Addr()

	a, err := New(context.Background(), cfg, logger.Discard(), Options{Migrate: true, Provider: &testdata.Provider{}})
	require.NoError(t, err)
	t.Cleanup(a.Close)

	require.NotNil(t, a.Cache)
	assert.NoError(t, a.Cache.Ping(context.Background()))
}

func TestNew_BadDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.DatabaseDriver = "mysql"

	_, err := New(context.Background(), cfg, logger.Discard(), Options{})
	assert.Error(t, err)
}
