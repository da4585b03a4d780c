package main

import (
	"context"
	"flag"
	"os"

	"github.com/jordanlanch/callops/config"
	"github.com/jordanlanch/callops/pkg/app"
	"github.com/jordanlanch/callops/pkg/database"
)

func main() {
	os.Exit(run())
}

func run() int {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg := config.Load()
	log := app.NewLogger(cfg)
	if err := app.ResolveSecrets(context.Background(), cfg, log); err != nil {
		log.Error("Failed to resolve secrets", "error", err)
		return 1
	}

	sslCfg := &database.SSLConfig{
		Mode:         cfg.DBSSLMode,
		CertPath:     cfg.DBSSLCertPath,
		KeyPath:      cfg.DBSSLKeyPath,
		RootCertPath: cfg.DBSSLRootCertPath,
	}
	db, err := database.Open(cfg.DatabaseDriver, cfg.DatabaseURL, database.DefaultPoolConfig(), sslCfg, log)
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		return 1
	}
	defer db.Close()

	if err := db.Migrate(*direction); err != nil {
		log.Error("Migration failed", "direction", *direction, "error", err)
		return 1
	}
	log.Info("Migrations applied", "direction", *direction)
	return 0
}
