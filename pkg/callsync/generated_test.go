package callsync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/callops/pkg/analytics"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/testdata"
)

func TestSyncOrganization_GeneratedAccount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	orgID := createTestOrg(t, s, orgNumber, otherNumber)

	rng := models.DateRange{From: dayStart, To: dayStart.AddDate(0, 0, 40)}
	provider := testdata.NewProvider(testdata.NewGenerator(2024), testdata.Account{
		Business:    []string{orgNumber, otherNumber},
		Range:       rng,
		CallsPerDay: 6,
		SMSPerDay:   2,
	})

	o := New(provider, s, nil, Options{ChunkSize: DefaultChunkSize, FilterByAssignedNumbers: true}, logger.Discard())
	result, err := o.SyncOrganization(ctx, orgID, rng)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSucceeded, result.Status())

	assert.Equal(t, len(provider.Calls), result.Calls.Inserted)
	assert.Equal(t, len(provider.Recordings), result.Recordings.Inserted)
	assert.Equal(t, len(provider.Messages), result.SMS.Inserted)
	assert.Equal(t, 3*len(provider.Reports), result.Reports.Inserted)

	calls, err := s.CallsInRange(ctx, orgID, models.DateRange{})
	require.NoError(t, err)
	require.Len(t, calls, len(provider.Calls))

	answered := 0
	for _, raw := range provider.Calls {
		if st := raw["callStatus"]; st == "Connected" || st == "Transferred" {
			answered++
		}
	}
	rate, err := analytics.NewService(s, 1, logger.Discard()).AnswerRate(ctx, analytics.ForOrg(orgID), rng)
	require.NoError(t, err)
	assert.Equal(t, len(provider.Calls), rate.Total)
	assert.Equal(t, answered, rate.Answered)
	assert.InDelta(t, analytics.Rate(answered, len(provider.Calls), 1), rate.Rate, 0.0001)

	// a second pass only updates
	again, err := o.SyncOrganization(ctx, orgID, rng)
	require.NoError(t, err)
	assert.Zero(t, again.Calls.Inserted)
	assert.Equal(t, len(provider.Calls), again.Calls.Updated)
	assert.Zero(t, again.Recordings.Inserted)
}

func TestSyncOrganization_GeneratedAccountSplitsWork(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	orgID := createTestOrg(t, s, orgNumber)

	rng := models.DateRange{From: dayStart, To: dayStart.AddDate(0, 0, 10)}
	provider := testdata.NewProvider(testdata.NewGenerator(11), testdata.Account{
		Business:    []string{orgNumber},
		Range:       rng,
		CallsPerDay: 4,
	})

	// chunking must neither drop nor double-count records at the edges
	o := New(provider, s, nil, Options{ChunkSize: 36 * time.Hour, FilterByAssignedNumbers: true}, logger.Discard())
	result, err := o.SyncOrganization(ctx, orgID, rng)
	require.NoError(t, err)
	assert.Equal(t, len(provider.Calls), result.Calls.Synced)
	assert.Equal(t, len(provider.Calls), result.Calls.Inserted)
}
