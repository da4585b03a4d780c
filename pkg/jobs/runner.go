package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanlanch/callops/pkg/cache"
	"github.com/jordanlanch/callops/pkg/callsync"
	"github.com/jordanlanch/callops/pkg/domain"
	"github.com/jordanlanch/callops/pkg/logger"
	"github.com/jordanlanch/callops/pkg/metrics"
	"github.com/jordanlanch/callops/pkg/models"
)

// ErrSyncInProgress is returned when another worker holds the organization's lock
var ErrSyncInProgress = errors.New("sync already in progress")

const (
	// DefaultConcurrency bounds parallel organization syncs
	DefaultConcurrency = 5
	// DefaultLockTTL is how long a lock survives a worker that stopped renewing it
	DefaultLockTTL = 30 * time.Minute
	// maxCatchUp bounds how far back a scheduled run reaches after downtime
	maxCatchUp = 30 * 24 * time.Hour
)

// Syncer runs the per-organization sync
type Syncer interface {
	SyncOrganization(ctx context.Context, orgID string, rng models.DateRange) (*callsync.SyncResult, error)
	SyncPhoneNumbers(ctx context.Context) (callsync.Counts, error)
}

// RunStore lists organizations and keeps the sync run log
type RunStore interface {
	ListActiveOrganizations(ctx context.Context) ([]models.Organization, error)
	RecordSyncRun(ctx context.Context, run *models.SyncRun) error
}

// Locker provides the cross-process organization lock and the last-success marker
type Locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
	ExtendLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	Get(ctx context.Context, key string) (string, error)
}

// RunnerConfig tunes the runner
type RunnerConfig struct {
	Concurrency int
	LockTTL     time.Duration

	// LockRenewInterval is how often a held lock is extended. Defaults to a third of LockTTL.
	LockRenewInterval time.Duration
}

// Runner syncs many organizations through a bounded worker pool. Each
// organization is isolated: its failure, panic included, never touches the others.
type Runner struct {
	syncer   Syncer
	store    RunStore
	locker   Locker
	metrics  *metrics.Metrics
	reporter Reporter
	cfg      RunnerConfig
	logger   logger.Logger
	now      func() time.Time
}

// NewRunner creates a runner. locker, m and reporter may be nil.
func NewRunner(syncer Syncer, store RunStore, locker Locker, m *metrics.Metrics, reporter Reporter, cfg RunnerConfig, log logger.Logger) *Runner {
	if log == nil {
		log = logger.Default()
	}
	if reporter == nil {
		reporter = nopReporter{}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.LockRenewInterval <= 0 || cfg.LockRenewInterval >= cfg.LockTTL {
		cfg.LockRenewInterval = cfg.LockTTL / 3
	}
	return &Runner{
		syncer:   syncer,
		store:    store,
		locker:   locker,
		metrics:  m,
		reporter: reporter,
		cfg:      cfg,
		logger:   log.With("component", "sync_runner"),
		now:      time.Now,
	}
}

func lockKey(orgID string) string     { return "sync:org:" + orgID }
func lastSyncKey(orgID string) string { return "sync:last:" + orgID }

// RunAll syncs every active organization over rng. The error is non-nil only
// when the organization list itself could not be loaded.
func (r *Runner) RunAll(ctx context.Context, rng models.DateRange) ([]*callsync.SyncResult, error) {
	return r.runAll(ctx, func(context.Context, string) models.DateRange { return rng })
}

// RunScheduled syncs every active organization over the trailing lookback
// window. An organization whose last successful sync is older than the
// window is caught up from that point.
func (r *Runner) RunScheduled(ctx context.Context, lookback time.Duration) ([]*callsync.SyncResult, error) {
	now := r.now().UTC().Truncate(time.Second)
	base := models.DateRange{From: now.Add(-lookback), To: now}

	return r.runAll(ctx, func(ctx context.Context, orgID string) models.DateRange {
		rng := base
		if last, ok := r.LastSuccess(ctx, orgID); ok && last.Before(rng.From) {
			rng.From = last
			if floor := now.Add(-maxCatchUp); rng.From.Before(floor) {
				rng.From = floor
			}
		}
		return rng
	})
}

func (r *Runner) runAll(ctx context.Context, window func(context.Context, string) models.DateRange) ([]*callsync.SyncResult, error) {
	if counts, err := r.syncer.SyncPhoneNumbers(ctx); err != nil {
		r.logger.Warn("Phone number catalog refresh failed", "error", err, "synced", counts.Synced)
	}

	orgs, err := r.store.ListActiveOrganizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	r.logger.Info("Starting sync for organizations", "count", len(orgs), "concurrency", r.cfg.Concurrency)

	results := make([]*callsync.SyncResult, len(orgs))
	semaphore := make(chan struct{}, r.cfg.Concurrency)
	var wg sync.WaitGroup

	for i, org := range orgs {
		if ctx.Err() != nil {
			results[i] = &callsync.SyncResult{OrgID: org.ID, Error: ctx.Err().Error()}
			continue
		}

		semaphore <- struct{}{}
		wg.Add(1)
		go func(i int, orgID string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			results[i], _ = r.RunOrganization(ctx, orgID, window(ctx, orgID))
		}(i, org.ID)
	}
	wg.Wait()

	var failed, skipped int
	for _, res := range results {
		switch res.Status() {
		case models.SyncStatusFailed:
			failed++
		case models.SyncStatusSkipped:
			skipped++
		}
	}
	r.logger.Info("Sync for organizations finished", "count", len(orgs), "failed", failed, "skipped", skipped)
	return results, nil
}

// RunOrganization syncs one organization under its lock and writes the run
// log. It returns ErrSyncInProgress when another worker holds the lock.
func (r *Runner) RunOrganization(ctx context.Context, orgID string, rng models.DateRange) (*callsync.SyncResult, error) {
	log := r.logger.With("org_id", orgID)
	started := r.now()

	run := &models.SyncRun{
		ID:        uuid.NewString(),
		OrgID:     orgID,
		Status:    models.SyncStatusRunning,
		DateFrom:  rng.From,
		DateTo:    rng.To,
		StartedAt: started,
	}

	release, err := r.lock(ctx, orgID)
	if err != nil {
		result := &callsync.SyncResult{OrgID: orgID, From: rng.From, To: rng.To, Error: err.Error()}
		if errors.Is(err, ErrSyncInProgress) {
			result.Skipped = true
			log.Info("Skipping organization, sync already in progress")
			run.Status = models.SyncStatusSkipped
			r.finish(ctx, run, result, err)
			r.metrics.RecordSyncRun(models.SyncStatusSkipped, 0)
		}
		return result, err
	}
	defer release()

	if err := r.store.RecordSyncRun(ctx, run); err != nil {
		log.Warn("Failed to record sync run start", "error", err)
	}

	result, syncErr := r.sync(ctx, orgID, rng)
	if result == nil {
		result = &callsync.SyncResult{OrgID: orgID, From: rng.From, To: rng.To}
	}
	if syncErr != nil && result.Error == "" {
		result.Error = syncErr.Error()
	}

	run.Status = result.Status()
	r.finish(ctx, run, result, syncErr)

	elapsed := r.now().Sub(started)
	r.metrics.RecordSyncRun(run.Status, elapsed)
	for kind, c := range result.Kinds() {
		r.metrics.RecordSyncRecords(kind, c.Synced, c.Skipped, c.Failed)
	}

	switch run.Status {
	case models.SyncStatusFailed:
		log.Error("Organization sync failed", "error", result.Error, "duration", elapsed.String())
		if !domain.IsValidation(syncErr) {
			r.reporter.Report(syncErr, map[string]string{"org_id": orgID, "component": "sync_runner"})
		}
	default:
		r.markSuccess(ctx, orgID, rng.To)
		log.Info("Organization sync completed", "status", run.Status, "duration", elapsed.String())
	}
	return result, syncErr
}

// sync runs the organization and turns a panic into an error
func (r *Runner) sync(ctx context.Context, orgID string, rng models.DateRange) (result *callsync.SyncResult, err error) {
	defer r.metrics.SyncStarted()()
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Organization sync panicked", "org_id", orgID, "panic", p)
			result, err = nil, fmt.Errorf("sync panicked: %v", p)
		}
	}()
	return r.syncer.SyncOrganization(ctx, orgID, rng)
}

// LastSuccess returns the end of the last sync window that did not fail
func (r *Runner) LastSuccess(ctx context.Context, orgID string) (time.Time, bool) {
	if r.locker == nil {
		return time.Time{}, false
	}
	val, err := r.locker.Get(ctx, lastSyncKey(orgID))
	if err != nil {
		if !errors.Is(err, cache.ErrMiss) {
			r.logger.Warn("Failed to read last sync marker", "org_id", orgID, "error", err)
		}
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (r *Runner) markSuccess(ctx context.Context, orgID string, to time.Time) {
	if r.locker == nil {
		return
	}
	if last, ok := r.LastSuccess(ctx, orgID); ok && !to.After(last) {
		return
	}
	if err := r.locker.Set(ctx, lastSyncKey(orgID), to.UTC().Format(time.RFC3339), 0); err != nil {
		r.logger.Warn("Failed to write last sync marker", "org_id", orgID, "error", err)
	}
}

// lock takes the organization lock. Without a locker every run proceeds.
func (r *Runner) lock(ctx context.Context, orgID string) (func(), error) {
	if r.locker == nil {
		return func() {}, nil
	}

	key := lockKey(orgID)
	token := uuid.NewString()
	ok, err := r.locker.AcquireLock(ctx, key, token, r.cfg.LockTTL)
	if err != nil {
		// Redis being down must not stop syncing
		r.logger.Warn("Lock unavailable, syncing without it", "org_id", orgID, "error", err)
		return func() {}, nil
	}
	if !ok {
		return nil, ErrSyncInProgress
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.renewLock(ctx, orgID, key, token, stop, done)

	return func() {
		close(stop)
		<-done

		// Release even when the run's context was cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if released, err := r.locker.ReleaseLock(releaseCtx, key, token); err != nil || !released {
			r.logger.Warn("Organization lock was not released cleanly", "org_id", orgID, "error", err)
		}
	}, nil
}

// renewLock extends the lock every LockRenewInterval until stop is closed
func (r *Runner) renewLock(ctx context.Context, orgID, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.LockRenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			extendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			held, err := r.locker.ExtendLock(extendCtx, key, token, r.cfg.LockTTL)
			cancel()
			switch {
			case err != nil:
				r.logger.Warn("Failed to extend organization lock", "org_id", orgID, "error", err)
			case !held:
				r.logger.Warn("Organization lock lost while syncing", "org_id", orgID)
				return
			}
		}
	}
}

func (r *Runner) finish(ctx context.Context, run *models.SyncRun, result *callsync.SyncResult, err error) {
	finished := r.now()
	run.FinishedAt = &finished
	if err != nil {
		run.Error = err.Error()
	}
	if payload, mErr := json.Marshal(result); mErr == nil {
		run.Result = payload
	}

	// The run log is written even when the sync itself was cancelled
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if wErr := r.store.RecordSyncRun(writeCtx, run); wErr != nil {
		r.logger.Warn("Failed to record sync run", "org_id", run.OrgID, "error", wErr)
	}
}
