package cmd

import (
	"context"
	"database/sql"

	"instrument-verification-service/cmd/verifier/config"
	"instrument-verification-service/internal/cache"
	"instrument-verification-service/internal/store"
	"instrument-verification-service/internal/verifier"
	"instrument-verification-service/pkg/errors"
	"instrument-verification-service/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// app holds the dependencies shared by the commands
type app struct {
	cfg          *config.AppConfig
	log          logger.Logger
	db           *sql.DB
	records      *store.Repo
	rdb          *redis.Client
	cache        *cache.RecordCache
	orchestrator *verifier.Orchestrator
}

// newApp opens the store and, when redis.address is set, the cache. The
// orchestrator is built only when withService is true.
func newApp(ctx context.Context, cfg *config.AppConfig, withService bool) (*app, error) {
	a := &app{cfg: cfg, log: logger.WithComponent("app")}

	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, errors.StorageError(errors.CodeStorageFailure, "open", err).
			WithContext("path", cfg.Store.Path).
			WithSuggestion("Check store.path and that its directory is writable")
	}
	a.db = db
	a.records = store.New(db)

	if cfg.Redis.Address != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Address)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.rdb = rdb
		a.cache = cache.NewRecordCache(rdb, cfg.Redis.CacheTTL)
		a.log.WithField("address", cfg.Redis.Address).Debug("Redis cache enabled")
	}

	if withService {
		if err := a.buildOrchestrator(); err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

func (a *app) buildOrchestrator() error {
	if err := a.cfg.RequireService(); err != nil {
		return err
	}

	service := verifier.NewHTTPService(a.cfg.Service.BaseURL)
	service.APIKey = a.cfg.Service.APIKey
	service.HTTPClient.Timeout = a.cfg.RegistryTimeout()

	opts := []verifier.Option{verifier.WithLogger(logger.WithComponent("verifier"))}
	if a.rdb != nil {
		opts = append(opts,
			verifier.WithCache(a.cache),
			verifier.WithLocker(cache.NewLocker(a.rdb, a.cfg.Verification.LockTTL)),
		)
	}

	orch, err := verifier.NewOrchestrator(a.records, service, &a.cfg.Verification, opts...)
	if err != nil {
		return err
	}
	a.orchestrator = orch
	return nil
}

// invalidate drops the cached record list of a customer after a local write
func (a *app) invalidate(ctx context.Context, customerID int64) {
	if err := a.cache.InvalidateCustomer(ctx, customerID); err != nil {
		a.log.WithError(err).WithField("customer_id", customerID).Warn("Cache invalidation failed")
	}
}

// Close releases the database and redis connections
func (a *app) Close() {
	if a.rdb != nil {
		a.rdb.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
