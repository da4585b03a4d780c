package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/jordanlanch/callops/config"
	"github.com/jordanlanch/callops/pkg/app"
	"github.com/jordanlanch/callops/pkg/models"
	"github.com/jordanlanch/callops/pkg/testdata"
)

func main() {
	os.Exit(run())
}

func run() int {
	orgCount := flag.Int("orgs", 3, "Number of organizations to create")
	numbersPerOrg := flag.Int("numbers", 2, "Phone numbers assigned to each organization")
	days := flag.Int("days", 30, "Days of history to generate, ending today")
	callsPerDay := flag.Int("calls-per-day", 40, "Generated calls per day across all organizations")
	smsPerDay := flag.Int("sms-per-day", 10, "Generated messages per day across all organizations")
	seed := flag.Int64("seed", 42, "Random seed")
	flag.Parse()

	// Provider credentials are not needed: data comes from the generator
	cfg := config.Load()
	log := app.NewLogger(cfg)

	ctx := context.Background()
	gen := testdata.NewGenerator(*seed)

	to := time.Now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	rng := models.DateRange{From: to.AddDate(0, 0, -*days), To: to}

	type seedOrg struct {
		name    string
		numbers []string
	}
	orgs := make([]seedOrg, *orgCount)
	var business []string
	for i := range orgs {
		orgs[i].name = gen.CompanyName()
		for j := 0; j < *numbersPerOrg; j++ {
			n := gen.PhoneNumber()
			orgs[i].numbers = append(orgs[i].numbers, n)
			business = append(business, n)
		}
	}

	provider := testdata.NewProvider(gen, testdata.Account{
		Business:    business,
		Range:       rng,
		CallsPerDay: *callsPerDay,
		SMSPerDay:   *smsPerDay,
	})

	a, err := app.New(ctx, cfg, log, app.Options{Migrate: true, Provider: provider})
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		return 1
	}
	defer a.Close()

	for _, so := range orgs {
		org, err := a.Store.CreateOrganization(ctx, so.name)
		if err != nil {
			log.Error("Failed to create organization", "name", so.name, "error", err)
			return 1
		}
		for _, n := range so.numbers {
			if _, err := a.Store.AssignPhoneNumber(ctx, org.ID, n); err != nil {
				log.Error("Failed to assign phone number", "org_id", org.ID, "number", n, "error", err)
				return 1
			}
		}
		log.Info("Organization created", "org_id", org.ID, "name", so.name, "numbers", so.numbers)
	}

	results, err := a.Runner.RunAll(ctx, rng)
	if err != nil {
		log.Error("Seed sync failed", "error", err)
		return 1
	}
	for _, r := range results {
		log.Info("Organization seeded",
			"org_id", r.OrgID,
			"status", r.Status(),
			"calls", r.Calls.Synced,
			"recordings", r.Recordings.Synced,
			"sms", r.SMS.Synced,
			"report_metrics", r.Reports.Synced)
	}
	log.Info("Seed completed",
		"organizations", len(results),
		"calls_generated", len(provider.Calls),
		"from", rng.From.Format("2006-01-02"),
		"to", rng.To.Format("2006-01-02"))
	return 0
}
