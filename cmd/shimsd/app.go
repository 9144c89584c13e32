package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goliatone/go-command"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	shims "github.com/goliatone/go-shims"
	"github.com/goliatone/go-shims/adapters/gocommand"
	"github.com/goliatone/go-shims/adapters/gojob"
	"github.com/goliatone/go-shims/adapters/gologger"
	shimsprometheus "github.com/goliatone/go-shims/adapters/prometheus"
	"github.com/goliatone/go-shims/api"
	"github.com/goliatone/go-shims/auth"
	"github.com/goliatone/go-shims/core"
	shimmigrations "github.com/goliatone/go-shims/migrations"
	"github.com/goliatone/go-shims/ratelimit"
	"github.com/goliatone/go-shims/security"
	redisstore "github.com/goliatone/go-shims/store/redis"
	sqlstore "github.com/goliatone/go-shims/store/sql"
	"github.com/goliatone/go-shims/transport"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// extensions holds shim packs compiled into this binary next to the built-in
// providers. Packs register from init functions in files added to this package.
var extensions = shims.NewExtensionHooks()

type jobQueue interface {
	queue.Enqueuer
	queue.Dequeuer
}

// app owns everything the daemon starts and must close.
type app struct {
	router  http.Handler
	service *shims.Service
	worker  *worker.Worker
	queue   jobQueue
	subs    gocommand.Subscriptions
	closers []func() error
}

func (a *app) Close() error {
	a.subs.Unsubscribe()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func buildApp(ctx context.Context, cfg DaemonConfig, provider core.LoggerProvider, registerer prometheus.Registerer, gatherer prometheus.Gatherer) (*app, error) {
	provider, logger := gologger.Resolve("shimsd", provider, nil)
	a := &app{}
	fail := func(err error) (*app, error) {
		_ = a.Close()
		return nil, err
	}

	client, sqlDB, err := openPersistence(ctx, cfg.Database)
	if err != nil {
		return fail(err)
	}
	a.closers = append(a.closers, client.Close)

	var tokenOpts []sqlstore.TokenStoreOption
	if cfg.Secrets.AppKey != "" {
		var secretOpts []security.Option
		if cfg.Secrets.KeyID != "" {
			secretOpts = append(secretOpts, security.WithKeyID(cfg.Secrets.KeyID))
		}
		if cfg.Secrets.Version > 0 {
			secretOpts = append(secretOpts, security.WithVersion(cfg.Secrets.Version))
		}
		secrets, err := security.NewAppKeySecretProviderFromString(cfg.Secrets.AppKey, secretOpts...)
		if err != nil {
			return fail(err)
		}
		tokenOpts = append(tokenOpts, sqlstore.WithSecretProvider(secrets))
	}
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client, tokenOpts...)
	if err != nil {
		return fail(err)
	}

	var tokens core.AuthorizationTokenStore = factory.AuthorizationTokenStore()
	if ttl := cfg.TokenCacheTTL(); ttl > 0 {
		cacheConfig := repositorycache.DefaultConfig()
		cacheConfig.TTL = ttl
		cacheService, err := repositorycache.NewCacheService(cacheConfig)
		if err != nil {
			return fail(err)
		}
		if tokens, err = sqlstore.NewCachedTokenStore(tokens, cacheService); err != nil {
			return fail(err)
		}
	}

	ledger, err := openReplayLedger(ctx, cfg, a)
	if err != nil {
		return fail(err)
	}

	recorder := shimsprometheus.NewRecorder(registerer)
	if a.queue, err = openJobQueue(ctx, cfg, sqlDB); err != nil {
		return fail(err)
	}
	scheduler, err := gojob.NewRefreshScheduler(gojob.NewEnqueuerAdapter(a.queue))
	if err != nil {
		return fail(err)
	}

	providerTransport, err := ratelimit.NewTransport(
		transport.NewRESTAdapterFromConfig(&http.Client{}, cfg.Shims.HTTP),
		ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
		logger,
	)
	if err != nil {
		return fail(err)
	}
	builtins, err := shims.BuiltinShims(cfg.Shims, shims.ShimRuntime{
		Transport: providerTransport,
		Logger:    logger,
	})
	if err != nil {
		return fail(err)
	}
	registry, err := extensions.BuildRegistry(builtins...)
	if err != nil {
		return fail(err)
	}

	opts := []core.Option{
		shims.WithLoggerProvider(provider),
		shims.WithMetricsRecorder(recorder),
		shims.WithShimRegistry(registry),
		shims.WithAuthorizationInfoStore(factory.AuthorizationInfoStore()),
		shims.WithAuthorizationTokenStore(tokens),
		shims.WithDataStore(factory.DataStore()),
		shims.WithRefreshScheduler(scheduler),
	}
	if ledger != nil {
		opts = append(opts, shims.WithReplayLedger(ledger))
	}
	a.service, err = shims.NewService(cfg.Shims, opts...)
	if err != nil {
		return fail(err)
	}
	facade, err := shims.NewFacade(a.service)
	if err != nil {
		return fail(err)
	}

	commands := gocommand.NewRegistryAdapter(command.NewRegistry())
	if a.subs, err = gocommand.RegisterFacade(commands, facade); err != nil {
		return fail(err)
	}
	if err := commands.Initialize(); err != nil {
		return fail(err)
	}

	if cfg.Worker.Enabled {
		a.worker, err = gojob.NewRefreshWorker(
			a.queue,
			facade.Commands().RefreshToken,
			worker.WithConcurrency(cfg.Worker.Concurrency),
			worker.WithIdleDelay(cfg.Worker.PollInterval()),
			worker.WithRetryPolicy(refreshRetryPolicy(cfg.Worker)),
			worker.WithHooks(gojob.NewMetricsHook(recorder)),
			worker.WithLogger(gologger.ToJobLogger(provider.GetLogger("shimsd.worker"))),
		)
		if err != nil {
			return fail(err)
		}
	}

	credentials, err := auth.NewCredentialService(auth.Config{
		SigningKey: cfg.Auth.SigningKey,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
	})
	if err != nil {
		return fail(err)
	}
	handler, err := api.New(api.Config{
		Facade:   facade,
		Verifier: credentials,
		Logger:   logger,
		Timeout:  cfg.Shims.HTTP.RequestTimeout() + 5*time.Second,
	})
	if err != nil {
		return fail(err)
	}

	router := chi.NewRouter()
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	handler.Register(router)
	a.router = router
	return a, nil
}

func openPersistence(ctx context.Context, cfg DatabaseConfig) (*persistence.Client, *sql.DB, error) {
	dialectName, err := shimmigrations.DialectForDriver(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	var dialect schema.Dialect = sqlitedialect.New()
	if dialectName == shimmigrations.DialectPostgres {
		dialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("shimsd: open database: %w", err)
	}
	if dialectName == shimmigrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(cfg, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, nil, fmt.Errorf("shimsd: persistence: %w", err)
	}

	err = shimmigrations.Apply(ctx, dialectName,
		func(fsys fs.FS) { client.RegisterSQLMigrations(fsys) },
		client.Migrate,
	)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return client, sqlDB, nil
}

// openJobQueue keeps refresh jobs in the store database unless the memory
// queue is configured.
func openJobQueue(ctx context.Context, cfg DaemonConfig, db *sql.DB) (jobQueue, error) {
	if cfg.Worker.Queue == queueMemory {
		return gojob.NewMemoryQueue(), nil
	}
	dialect, err := shimmigrations.DialectForDriver(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}
	return gojob.OpenSQLQueue(ctx, db, dialect)
}

func refreshRetryPolicy(cfg WorkerConfig) gojob.RetryPolicy {
	policy := gojob.DefaultRetryPolicy()
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	if cfg.RetryBackoffSeconds > 0 {
		policy.Backoff = worker.BackoffConfig{
			Strategy:    worker.BackoffExponential,
			Interval:    time.Duration(cfg.RetryBackoffSeconds) * time.Second,
			MaxInterval: time.Hour,
		}
		policy.MaxDelay = time.Hour
	}
	return policy
}

// openReplayLedger returns nil when redis is not configured so the service
// keeps its in-process ledger.
func openReplayLedger(ctx context.Context, cfg DaemonConfig, a *app) (core.ReplayLedger, error) {
	client, err := redisstore.NewClient(ctx, redisstore.Config{
		URL:      cfg.Redis.URL,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil || client == nil {
		return nil, err
	}
	a.closers = append(a.closers, client.Close)
	return redisstore.NewReplayLedger(client, redisstore.WithDefaultTTL(cfg.Shims.Replay.TTL()))
}
