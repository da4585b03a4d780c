package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jordanlanch/callops/pkg/logger"
)

// DefaultSchedule runs a sync every 15 minutes
const DefaultSchedule = "*/15 * * * *"

// DefaultLookback is the window re-synced by each scheduled run
const DefaultLookback = 48 * time.Hour

// CronManager manages scheduled syncs
type CronManager struct {
	cron     *cron.Cron
	runner   *Runner
	schedule string
	lookback time.Duration
	timeout  time.Duration
	running  atomic.Bool
	logger   logger.Logger
}

// NewCronManager creates a new cron manager
func NewCronManager(runner *Runner, schedule string, lookback time.Duration, log logger.Logger) *CronManager {
	if log == nil {
		log = logger.Default()
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	return &CronManager{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		runner:   runner,
		schedule: schedule,
		lookback: lookback,
		timeout:  time.Hour,
		logger:   log.With("component", "cron"),
	}
}

// SetupJobs configures all scheduled jobs
func (cm *CronManager) SetupJobs() error {
	if _, err := cm.cron.AddFunc(cm.schedule, cm.RunOnce); err != nil {
		return err
	}
	cm.logger.Info("Cron jobs configured", "schedule", cm.schedule, "lookback", cm.lookback.String())
	return nil
}

// RunOnce runs one scheduled sync. A tick that fires while the previous run
// is still going is dropped.
func (cm *CronManager) RunOnce() {
	if !cm.running.CompareAndSwap(false, true) {
		cm.logger.Warn("Previous scheduled sync still running, skipping tick")
		return
	}
	defer cm.running.Store(false)

	ctx, cancel := context.WithTimeout(context.Background(), cm.timeout)
	defer cancel()

	start := time.Now()
	results, err := cm.runner.RunScheduled(ctx, cm.lookback)
	if err != nil {
		cm.logger.Error("Scheduled sync failed", "error", err)
		return
	}
	cm.logger.Info("Scheduled sync completed", "organizations", len(results), "duration", time.Since(start).String())
}

// Start starts the cron scheduler
func (cm *CronManager) Start() {
	cm.logger.Info("Starting cron scheduler")
	cm.cron.Start()
}

// Stop stops the scheduler and waits for a running job to finish
func (cm *CronManager) Stop() context.Context {
	cm.logger.Info("Stopping cron scheduler")
	return cm.cron.Stop()
}
