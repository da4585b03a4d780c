package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/jordanlanch/callops/config"
	"github.com/jordanlanch/callops/pkg/app"
	"github.com/jordanlanch/callops/pkg/callsync"
	"github.com/jordanlanch/callops/pkg/jobs"
	"github.com/jordanlanch/callops/pkg/models"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup always runs
func run() int {
	orgID := flag.String("org", "", "Organization ID to sync")
	all := flag.Bool("all", false, "Sync every active organization")
	from := flag.String("from", "", "Start of the window (YYYY-MM-DD or RFC3339). Default: 24h before -to")
	to := flag.String("to", "", "End of the window (YYYY-MM-DD or RFC3339, date is inclusive). Default: now")
	tz := flag.String("tz", "UTC", "Time zone for date-only bounds")
	flag.Parse()

	if (*orgID == "") == !*all {
		fmt.Fprintln(os.Stderr, "exactly one of -org or -all is required")
		flag.Usage()
		return 2
	}

	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -tz: %v\n", err)
		return 2
	}
	rng, err := models.ParseDateRange(*from, *to, loc, time.Now(), 24*time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid window: %v\n", err)
		return 2
	}

	cfg := config.Load()
	log := app.NewLogger(cfg)
	if err := app.ResolveSecrets(context.Background(), cfg, log); err != nil {
		log.Error("Failed to resolve secrets", "error", err)
		return 1
	}
	if err := cfg.Validate(); err != nil {
		log.Error("Invalid configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log, app.Options{})
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		return 1
	}
	defer a.Close()
	if a.SentryEnabled() {
		defer sentry.Flush(2 * time.Second)
	}

	var results []*callsync.SyncResult
	if *all {
		results, err = a.Runner.RunAll(ctx, rng)
		if err != nil {
			log.Error("Sync failed", "error", err)
			return 1
		}
	} else {
		res, err := a.Runner.RunOrganization(ctx, *orgID, rng)
		if err != nil && !errors.Is(err, jobs.ErrSyncInProgress) {
			log.Warn("Organization sync returned an error", "org_id", *orgID, "error", err)
		}
		results = append(results, res)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		log.Error("Failed to write results", "error", err)
	}

	if totalFailure(results) {
		return 1
	}
	return 0
}

// totalFailure reports whether no organization synced at all
func totalFailure(results []*callsync.SyncResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r != nil && r.Status() != models.SyncStatusFailed {
			return false
		}
	}
	return true
}
