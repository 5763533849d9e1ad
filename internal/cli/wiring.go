package cli

import (
	"context"
	"database/sql"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/slawa19/geoledger/internal/api"
	"github.com/slawa19/geoledger/internal/clearing"
	"github.com/slawa19/geoledger/internal/collaborators/events"
	"github.com/slawa19/geoledger/internal/config"
	"github.com/slawa19/geoledger/internal/integrity"
	"github.com/slawa19/geoledger/internal/invariants"
	"github.com/slawa19/geoledger/internal/lock"
	"github.com/slawa19/geoledger/internal/payment"
	"github.com/slawa19/geoledger/internal/store"
	"github.com/slawa19/geoledger/internal/store/memory"
	"github.com/slawa19/geoledger/internal/store/postgres"
)

// deployment bundles the wired store + engines one command invocation
// needs, plus a close function releasing whatever resources were opened.
type deployment struct {
	store    store.Store
	payments *payment.Engine
	clearing *clearing.Engine
	facade   *api.Facade
	close    func()
}

// wireDeployment builds the store (Postgres when GEOLEDGER_DATABASE_URL
// is set, in-memory otherwise — the same fallback internal/store/store.go
// documents) and every engine layered on top, using the tunables
// resolved by internal/config.
func wireDeployment(ctx context.Context, c *config.Config) (*deployment, error) {
	var s store.Store
	closeFn := func() {}

	if c.DatabaseURL != "" {
		db, err := sql.Open("postgres", c.DatabaseURL)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(c.DBMaxOpenConns)
		db.SetMaxIdleConns(c.DBMaxIdleConns)
		db.SetConnMaxLifetime(c.DBConnMaxLifetime)
		db.SetConnMaxIdleTime(c.DBConnMaxIdleTime)
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		pgStore := postgres.New(db)
		if err := pgStore.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		s = pgStore
		closeFn = func() { db.Close() }
	} else {
		s = memory.New()
	}

	checker := invariants.New(s)
	integritySvc := integrity.New(s, checker)
	paymentEngine := payment.New(s, checker, integritySvc, payment.Config{
		PrepareLockTTL:    c.PrepareLockTTL,
		CommitMaxAttempts: c.CommitMaxAttempts,
		CommitRetryBase:   c.CommitRetryBase,
	})

	var lockProv lock.Provider = lock.NoopProvider{}
	if c.RedisURL != "" {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			closeFn()
			return nil, err
		}
		redisClient := redis.NewClient(opts)
		lockProv = lock.NewRedisProvider(redisClient, c.LockTTL, c.LockWaitTimeout)
		prior := closeFn
		closeFn = func() { prior(); redisClient.Close() }
	}
	clearingEngine := clearing.New(s, checker, integritySvc, lockProv)
	clearingEngine.MaxDepth = c.ClearingMaxDepth
	clearingEngine.BatchLimit = c.ClearingBatchLimit
	clearingEngine.DFSMaxDepth = c.ClearingDFSMaxDepth

	var publisher events.Publisher = events.NewMemoryPublisher()
	if c.DatabaseURL != "" {
		db, err := sql.Open("postgres", c.DatabaseURL)
		if err != nil {
			closeFn()
			return nil, err
		}
		publisher = events.NewPostgresPublisher(db)
		prior := closeFn
		closeFn = func() { prior(); db.Close() }
	}

	facade := api.New(s, paymentEngine, clearingEngine, integritySvc, nil, publisher, api.Config{
		MultipathEnabled:     c.MultipathEnabled,
		FullMultipathEnabled: c.FullMultipathEnabled,
		ClearingEnabled:      c.ClearingEnabled,
	})

	return &deployment{store: s, payments: paymentEngine, clearing: clearingEngine, facade: facade, close: closeFn}, nil
}
