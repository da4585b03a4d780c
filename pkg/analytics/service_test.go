package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/callops/pkg/database/dbtest"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/store"
)

const (
	acmeNumber   = "+16465550199"
	globexNumber = "+13055550142"
	caller       = "+12125550100"
)

var day = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC) // a Monday

func at(d time.Duration) *time.Time {
	t := day.Add(d)
	return &t
}

type fixture struct {
	svc    *Service
	store  *store.Store
	acme   string
	globex string
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.New(dbtest.Open(t), logger.Discard())

	acme, err := s.CreateOrganization(ctx, "Acme")
	require.NoError(t, err)
	_, err = s.AssignPhoneNumber(ctx, acme.ID, acmeNumber)
	require.NoError(t, err)

	globex, err := s.CreateOrganization(ctx, "Globex")
	require.NoError(t, err)
	_, err = s.AssignPhoneNumber(ctx, globex.ID, globexNumber)
	require.NoError(t, err)

	return &fixture{
		svc:    NewService(s, 1, logger.Discard()),
		store:  s,
		acme:   acme.ID,
		globex: globex.ID,
	}
}

func (f *fixture) calls(t *testing.T, orgID string, calls ...models.Call) {
	t.Helper()
	_, err := f.store.UpsertCalls(context.Background(), orgID, calls)
	require.NoError(t, err)
}

func call(id, to, queue string, status models.CallStatus, started *time.Time) models.Call {
	return models.Call{ExternalCallID: id, FromNumber: caller, ToNumber: to, QueueName: queue, Status: status, StartedAt: started}
}

func TestRate(t *testing.T) {
	tests := []struct {
		name      string
		answered  int
		total     int
		precision int
		want      float64
	}{
		{"no calls", 0, 0, 1, 0},
		{"seven of ten", 7, 10, 1, 70},
		{"half", 1, 2, 1, 50},
		{"rounded to one decimal", 2, 3, 1, 66.7},
		{"rounded to two decimals", 2, 3, 2, 66.67},
		{"whole percent", 2, 3, 0, 67},
		{"clamped above", 12, 10, 1, 100},
		{"negative total", 3, -1, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rate(tt.answered, tt.total, tt.precision)
			assert.Equal(t, tt.want, got)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 100.0)
		})
	}
}

func TestAnswerRate_OrgScope(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.calls(t, f.acme,
		call("a1", acmeNumber, "sales", models.CallStatusCompleted, at(9*time.Hour)),
		call("a2", acmeNumber, "sales", models.CallStatusMissed, at(10*time.Hour)),
		call("a3", acmeNumber, "support", models.CallStatusTransferred, at(11*time.Hour)),
		call("a4", acmeNumber, "support", models.CallStatusVoicemail, at(12*time.Hour)),
		// not on an assigned number
		call("a5", "+17185550000", "", models.CallStatusCompleted, at(13*time.Hour)),
	)
	f.calls(t, f.globex, call("g1", globexNumber, "", models.CallStatusMissed, at(9*time.Hour)))

	rate, err := f.svc.AnswerRate(ctx, ForOrg(f.acme), models.DateRange{From: day, To: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, &AnswerRate{Total: 4, Answered: 2, Missed: 2, Rate: 50}, rate)

	global, err := f.svc.AnswerRate(ctx, Global(), models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 6, global.Total)
	assert.Equal(t, 3, global.Answered)
	assert.Equal(t, 50.0, global.Rate)
}

func TestGlobalScope_CountsSharedCallsOnce(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	// Globex called Acme; each organization stores its own copy
	shared := models.Call{
		ExternalCallID: "ext-1",
		FromNumber:     globexNumber,
		ToNumber:       acmeNumber,
		QueueName:      "sales",
		Status:         models.CallStatusCompleted,
		StartedAt:      at(9 * time.Hour),
	}
	f.calls(t, f.acme, shared)
	f.calls(t, f.globex, shared)
	f.calls(t, f.globex, call("g1", globexNumber, "sales", models.CallStatusMissed, at(10*time.Hour)))

	rate, err := f.svc.AnswerRate(ctx, Global(), models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, &AnswerRate{Total: 2, Answered: 1, Missed: 1, Rate: 50}, rate)

	points, err := f.svc.Series(ctx, Global(), models.DateRange{From: day, To: day.Add(24 * time.Hour)}, BucketDay, time.UTC)
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, 2, points[0].Total)

	queues, err := f.svc.QueueSummary(ctx, Global(), models.DateRange{})
	require.NoError(t, err)
	require.Len(t, queues, 1)
	assert.Equal(t, QueueStat{Name: "sales", Total: 2, Answered: 1, Missed: 1, Rate: 50}, queues[0])

	acme, err := f.svc.AnswerRate(ctx, ForOrg(f.acme), models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, 1, acme.Total, "organization scope still sees its copy")
}

func TestAnswerRate_NoCalls(t *testing.T) {
	f := setupFixture(t)

	rate, err := f.svc.AnswerRate(context.Background(), ForOrg(f.acme), models.DateRange{})
	require.NoError(t, err)
	assert.Equal(t, &AnswerRate{}, rate)
}

func TestAnswerRate_EmptyScopeRejected(t *testing.T) {
	f := setupFixture(t)
	f.calls(t, f.acme, call("a1", acmeNumber, "", models.CallStatusCompleted, at(0)))

	for _, scope := range []Scope{{}, ForOrg("")} {
		_, err := f.svc.AnswerRate(context.Background(), scope, models.DateRange{})
		require.Error(t, err)
		assert.True(t, domain.IsValidation(err))
	}
}

func TestSeries_ContiguousBuckets(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.calls(t, f.acme,
		call("a1", acmeNumber, "", models.CallStatusCompleted, at(1*time.Hour)),
		call("a2", acmeNumber, "", models.CallStatusMissed, at(1*time.Hour+30*time.Minute)),
		call("a3", acmeNumber, "", models.CallStatusCompleted, at(3*time.Hour)),
	)

	points, err := f.svc.Series(ctx, ForOrg(f.acme), models.DateRange{From: day, To: day.Add(4 * time.Hour)}, BucketHour, time.UTC)
	require.NoError(t, err)
	require.Len(t, points, 4)

	assert.Equal(t, "2024-03-04T00:00", points[0].Label)
	assert.Equal(t, 0, points[0].Total, "empty buckets are still emitted")
	assert.Equal(t, SeriesPoint{Label: "2024-03-04T01:00", Start: day.Add(time.Hour), Total: 2, Answered: 1, Missed: 1, Rate: 50}, points[1])
	assert.Equal(t, 0, points[2].Total)
	assert.Equal(t, 1, points[3].Answered)
	assert.Equal(t, 100.0, points[3].Rate)

	for i := 1; i < len(points); i++ {
		assert.Equal(t, points[i-1].Start.Add(time.Hour), points[i].Start)
	}
}

func TestSeries_Location(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 03:00 UTC on the 4th is still the 3rd in New York
	f.calls(t, f.acme, call("a1", acmeNumber, "", models.CallStatusCompleted, at(3*time.Hour)))

	rng := models.DateRange{From: day.Add(-24 * time.Hour), To: day.Add(24 * time.Hour)}
	points, err := f.svc.Series(ctx, ForOrg(f.acme), rng, BucketDay, ny)
	require.NoError(t, err)

	byLabel := map[string]int{}
	for _, p := range points {
		byLabel[p.Label] = p.Total
	}
	assert.Equal(t, 1, byLabel["2024-03-03"])
	assert.Equal(t, 0, byLabel["2024-03-04"])
}

func TestSeries_Validation(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	rng := models.DateRange{From: day, To: day.Add(time.Hour)}

	_, err := f.svc.Series(ctx, ForOrg(f.acme), rng, Bucket("fortnight"), nil)
	assert.True(t, domain.IsValidation(err))

	_, err = f.svc.Series(ctx, ForOrg(f.acme), models.DateRange{}, BucketDay, nil)
	assert.True(t, domain.IsValidation(err))

	_, err = f.svc.Series(ctx, ForOrg(f.acme), models.DateRange{From: day, To: day.AddDate(2, 0, 0)}, BucketHour, nil)
	assert.True(t, domain.IsValidation(err), "too many buckets")
}

func TestQueueSummary(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	f.calls(t, f.acme,
		call("a1", acmeNumber, "sales", models.CallStatusCompleted, at(time.Hour)),
		call("a2", acmeNumber, "sales", models.CallStatusMissed, at(time.Hour)),
		call("a3", acmeNumber, "sales", models.CallStatusCompleted, at(time.Hour)),
		call("a4", acmeNumber, "support", models.CallStatusVoicemail, at(time.Hour)),
		call("a5", acmeNumber, "", models.CallStatusUnknown, nil),
	)

	stats, err := f.svc.QueueSummary(ctx, ForOrg(f.acme), models.DateRange{})
	require.NoError(t, err)
	require.Len(t, stats, 3)
	assert.Equal(t, QueueStat{Name: "sales", Total: 3, Answered: 2, Missed: 1, Rate: 66.7}, stats[0])
	assert.Equal(t, QueueStat{Name: "support", Total: 1, Missed: 1}, stats[1])
	assert.Equal(t, QueueStat{Name: unassignedQueue, Total: 1}, stats[2])

	ranged, err := f.svc.QueueSummary(ctx, ForOrg(f.acme), models.DateRange{From: day, To: day.Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Len(t, ranged, 2, "calls without a start time fall outside any range")
}
