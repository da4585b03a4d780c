package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jordanlanch/callops/pkg/cache"
	"github.com/jordanlanch/callops/pkg/callsync"
	"github.com/jordanlanch/callops/pkg/database/dbtest"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/metrics"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/store"
)

var (
	now    = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	window = models.DateRange{From: now.Add(-24 * time.Hour), To: now}
)

// mockSyncer records calls and delegates to optional funcs
type mockSyncer struct {
	SyncOrganizationFunc func(ctx context.Context, orgID string, rng models.DateRange) (*callsync.SyncResult, error)
	SyncPhoneNumbersFunc func(ctx context.Context) (callsync.Counts, error)

	mu     sync.Mutex
	ranges map[string]models.DateRange
}

func (m *mockSyncer) SyncOrganization(ctx context.Context, orgID string, rng models.DateRange) (*callsync.SyncResult, error) {
	m.mu.Lock()
	if m.ranges == nil {
		m.ranges = make(map[string]models.DateRange)
	}
	m.ranges[orgID] = rng
	m.mu.Unlock()

	if m.SyncOrganizationFunc != nil {
		return m.SyncOrganizationFunc(ctx, orgID, rng)
	}
	return &callsync.SyncResult{OrgID: orgID, From: rng.From, To: rng.To, Calls: callsync.Counts{Synced: 1}}, nil
}

func (m *mockSyncer) SyncPhoneNumbers(ctx context.Context) (callsync.Counts, error) {
	if m.SyncPhoneNumbersFunc != nil {
		return m.SyncPhoneNumbersFunc(ctx)
	}
	return callsync.Counts{}, nil
}

func (m *mockSyncer) rangeFor(orgID string) (models.DateRange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rng, ok := m.ranges[orgID]
	return rng, ok
}

// mockReporter collects reported errors
type mockReporter struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (r *mockReporter) Report(err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

type fixture struct {
	store    *store.Store
	cache    *cache.Client
	redis    *miniredis.Miniredis
	metrics  *metrics.Metrics
	reporter *mockReporter
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := &cache.Client{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { client.Close() })

	return &fixture{
		store:    store.New(dbtest.Open(t), logger.Discard()),
		cache:    client,
		redis:    mr,
		metrics:  metrics.New(prometheus.NewRegistry()),
		reporter: &mockReporter{},
	}
}

func (f *fixture) runner(s Syncer, cfg RunnerConfig) *Runner {
	r := NewRunner(s, f.store, f.cache, f.metrics, f.reporter, cfg, logger.Discard())
	r.now = func() time.Time { return now }
	return r
}

func (f *fixture) org(t *testing.T, name string) string {
	t.Helper()
	org, err := f.store.CreateOrganization(context.Background(), name)
	require.NoError(t, err)
	return org.ID
}

func byOrg(results []*callsync.SyncResult) map[string]*callsync.SyncResult {
	out := make(map[string]*callsync.SyncResult, len(results))
	for _, r := range results {
		out[r.OrgID] = r
	}
	return out
}

func TestRunAll_IsolatesFailures(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	good := f.org(t, "Good")
	denied := f.org(t, "Denied")
	broken := f.org(t, "Broken")

	syncer := &mockSyncer{
		SyncOrganizationFunc: func(_ context.Context, orgID string, rng models.DateRange) (*callsync.SyncResult, error) {
			switch orgID {
			case denied:
				err := domain.NewAuthError(errors.New("invalid_client"))
				return &callsync.SyncResult{OrgID: orgID, Error: err.Error()}, err
			case broken:
				panic("nil map")
			}
			return &callsync.SyncResult{OrgID: orgID, Calls: callsync.Counts{Synced: 3}}, nil
		},
	}

	results, err := f.runner(syncer, RunnerConfig{Concurrency: 2}).RunAll(ctx, window)
	require.NoError(t, err)
	require.Len(t, results, 3)

	got := byOrg(results)
	assert.Equal(t, models.SyncStatusSucceeded, got[good].Status())
	assert.Equal(t, 3, got[good].Calls.Synced)
	assert.Equal(t, models.SyncStatusFailed, got[denied].Status())
	assert.Equal(t, models.SyncStatusFailed, got[broken].Status())
	assert.Contains(t, got[broken].Error, "panicked")

	assert.Len(t, f.reporter.errs, 2)

	runs, err := f.store.ListSyncRuns(ctx, good, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SyncStatusSucceeded, runs[0].Status)
	assert.NotNil(t, runs[0].FinishedAt)
	assert.Contains(t, string(runs[0].Result), `"synced":3`)

	runs, err = f.store.ListSyncRuns(ctx, denied, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SyncStatusFailed, runs[0].Status)
	assert.Contains(t, runs[0].Error, "AUTH_ERROR")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SyncRunsTotal.WithLabelValues(models.SyncStatusSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SyncRunsTotal.WithLabelValues(models.SyncStatusFailed)))
}

func TestRunAll_BoundedConcurrency(t *testing.T) {
	f := setupFixture(t)
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		f.org(t, name)
	}

	var inFlight, peak atomic.Int32
	syncer := &mockSyncer{
		SyncOrganizationFunc: func(_ context.Context, orgID string, _ models.DateRange) (*callsync.SyncResult, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return &callsync.SyncResult{OrgID: orgID}, nil
		},
	}

	results, err := f.runner(syncer, RunnerConfig{Concurrency: 2}).RunAll(context.Background(), window)
	require.NoError(t, err)
	assert.Len(t, results, 6)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRunAll_SkipsInactiveOrganizations(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	active := f.org(t, "Active")
	inactive := f.org(t, "Inactive")
	require.NoError(t, f.store.SetOrganizationActive(ctx, inactive, false))

	syncer := &mockSyncer{}
	results, err := f.runner(syncer, RunnerConfig{}).RunAll(ctx, window)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, active, results[0].OrgID)

	_, called := syncer.rangeFor(inactive)
	assert.False(t, called)
}

func TestRunAll_CatalogFailureDoesNotStopSync(t *testing.T) {
	f := setupFixture(t)
	orgID := f.org(t, "Acme")

	syncer := &mockSyncer{
		SyncPhoneNumbersFunc: func(context.Context) (callsync.Counts, error) {
			return callsync.Counts{}, domain.NewEndpointNotFoundError("phone_numbers", nil)
		},
	}

	results, err := f.runner(syncer, RunnerConfig{}).RunAll(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, orgID, results[0].OrgID)
}

func TestRunOrganization_LockHeld(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	orgID := f.org(t, "Acme")

	ok, err := f.cache.AcquireLock(ctx, lockKey(orgID), "other-worker", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	syncer := &mockSyncer{}
	result, err := f.runner(syncer, RunnerConfig{}).RunOrganization(ctx, orgID, window)
	require.ErrorIs(t, err, ErrSyncInProgress)
	assert.True(t, result.Skipped)
	assert.Equal(t, models.SyncStatusSkipped, result.Status())

	_, called := syncer.rangeFor(orgID)
	assert.False(t, called)

	runs, err := f.store.ListSyncRuns(ctx, orgID, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.SyncStatusSkipped, runs[0].Status)

	val, err := f.cache.Get(ctx, lockKey(orgID))
	require.NoError(t, err)
	assert.Equal(t, "other-worker", val, "the holder keeps its lock")
}

func TestRunOrganization_ReleasesLockAndMarksSuccess(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	orgID := f.org(t, "Acme")
	r := f.runner(&mockSyncer{}, RunnerConfig{})

	_, err := r.RunOrganization(ctx, orgID, window)
	require.NoError(t, err)
	assert.False(t, f.redis.Exists(lockKey(orgID)))

	last, ok := r.LastSuccess(ctx, orgID)
	require.True(t, ok)
	assert.Equal(t, window.To, last)

	// an older window never moves the marker back
	older := models.DateRange{From: window.From.Add(-48 * time.Hour), To: window.From}
	_, err = r.RunOrganization(ctx, orgID, older)
	require.NoError(t, err)
	last, _ = r.LastSuccess(ctx, orgID)
	assert.Equal(t, window.To, last)
}

func TestRunOrganization_RenewsLockWhileSyncing(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	orgID := f.org(t, "Acme")
	key := lockKey(orgID)

	syncer := &mockSyncer{
		SyncOrganizationFunc: func(_ context.Context, orgID string, rng models.DateRange) (*callsync.SyncResult, error) {
			// most of the ttl elapses mid-run
			f.redis.FastForward(50 * time.Second)

			assert.Eventually(t, func() bool {
				return f.redis.TTL(key) > 30*time.Second
			}, 2*time.Second, 5*time.Millisecond, "the lock is extended")

			f.redis.FastForward(50 * time.Second)
			assert.True(t, f.redis.Exists(key), "a renewed lock survives past its first ttl")
			return &callsync.SyncResult{OrgID: orgID, From: rng.From, To: rng.To}, nil
		},
	}
	r := f.runner(syncer, RunnerConfig{LockTTL: time.Minute, LockRenewInterval: 10 * time.Millisecond})

	_, err := r.RunOrganization(ctx, orgID, window)
	require.NoError(t, err)
	assert.False(t, f.redis.Exists(key), "released after the run")
}

func TestRunOrganization_FailureKeepsMarker(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	orgID := f.org(t, "Acme")

	syncer := &mockSyncer{
		SyncOrganizationFunc: func(_ context.Context, orgID string, _ models.DateRange) (*callsync.SyncResult, error) {
			err := domain.NewAuthError(nil)
			return &callsync.SyncResult{OrgID: orgID, Error: err.Error()}, err
		},
	}
	r := f.runner(syncer, RunnerConfig{})

	_, err := r.RunOrganization(ctx, orgID, window)
	require.Error(t, err)
	_, ok := r.LastSuccess(ctx, orgID)
	assert.False(t, ok)
	assert.False(t, f.redis.Exists(lockKey(orgID)), "lock is released on failure too")
}

func TestRunOrganization_WithoutLocker(t *testing.T) {
	f := setupFixture(t)
	orgID := f.org(t, "Acme")

	r := NewRunner(&mockSyncer{}, f.store, nil, nil, nil, RunnerConfig{}, logger.Discard())
	result, err := r.RunOrganization(context.Background(), orgID, window)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusSucceeded, result.Status())

	_, ok := r.LastSuccess(context.Background(), orgID)
	assert.False(t, ok)
}

func TestRunScheduled_Window(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	fresh := f.org(t, "Fresh")
	behind := f.org(t, "Behind")
	ancient := f.org(t, "Ancient")

	fiveDaysAgo := now.Add(-5 * 24 * time.Hour)
	require.NoError(t, f.cache.Set(ctx, lastSyncKey(behind), fiveDaysAgo.Format(time.RFC3339), 0))
	require.NoError(t, f.cache.Set(ctx, lastSyncKey(ancient), now.AddDate(-1, 0, 0).Format(time.RFC3339), 0))

	syncer := &mockSyncer{}
	_, err := f.runner(syncer, RunnerConfig{}).RunScheduled(ctx, 48*time.Hour)
	require.NoError(t, err)

	rng, ok := syncer.rangeFor(fresh)
	require.True(t, ok)
	assert.Equal(t, models.DateRange{From: now.Add(-48 * time.Hour), To: now}, rng)

	rng, _ = syncer.rangeFor(behind)
	assert.Equal(t, fiveDaysAgo, rng.From, "caught up from the last success")

	rng, _ = syncer.rangeFor(ancient)
	assert.Equal(t, now.Add(-maxCatchUp), rng.From, "catch-up is bounded")
}

func TestSentryReporter(t *testing.T) {
	var (
		mu     sync.Mutex
		events []*sentry.Event
	)
	client, err := sentry.NewClient(sentry.ClientOptions{
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, event)
			return nil
		},
	})
	require.NoError(t, err)

	reporter := NewSentryReporter(sentry.NewHub(client, sentry.NewScope()))
	reporter.Report(errors.New("sync panicked"), map[string]string{"org_id": "org-1"})
	reporter.Report(nil, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 1)
	assert.Equal(t, "org-1", events[0].Tags["org_id"])
}
