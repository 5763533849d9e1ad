// Command migrate creates (or updates) the Postgres schema the ledger
// core runs against.
//
// Usage:
//
//	go run ./cmd/migrate
//
// Unlike the teacher's goose-driven migration runner, this module has no
// versioned migration history to step through: every store's Migrate
// method issues idempotent CREATE TABLE IF NOT EXISTS DDL, so "up" is the
// only operation and it is always safe to re-run.
package main

import (
	"context"
	"database/sql"
	"log"

	_ "github.com/lib/pq"

	"github.com/slawa19/geoledger/internal/config"
	"github.com/slawa19/geoledger/internal/logging"
	"github.com/slawa19/geoledger/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if cfg.DatabaseURL == "" {
		logger.Info("GEOLEDGER_DATABASE_URL not set, nothing to migrate (in-memory store mode)")
		return
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	store := postgres.New(db)
	if err := store.Migrate(context.Background()); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	logger.Info("schema migration complete")
}
