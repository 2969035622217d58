package main

import (
	"context"
	"fmt"
	"io/fs"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-webhooks/adapters/gocommand"
	"github.com/goliatone/go-webhooks/adapters/gologger"
	"github.com/goliatone/go-webhooks/core"
	"github.com/goliatone/go-webhooks/inbound"
	"github.com/goliatone/go-webhooks/locks"
	"github.com/goliatone/go-webhooks/metrics"
	webhookmigrations "github.com/goliatone/go-webhooks/migrations"
	sqlstore "github.com/goliatone/go-webhooks/store/sql"
	"github.com/goliatone/go-webhooks/transport"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
)

type app struct {
	daemon   daemonConfig
	logger   core.Logger
	client   *persistence.Client
	stores   *sqlstore.RepositoryFactory
	registry *prometheus.Registry
	redis    *goredis.Client
	service  *core.Service
	api      core.WebhookService
	receiver *inbound.Receiver
	subs     gocommand.Subscriptions
}

func loadDaemon(opts *rootOptions) (daemonConfig, error) {
	if _, err := loadEnvFiles(opts.envFiles); err != nil {
		return daemonConfig{}, err
	}
	daemon, err := loadDaemonConfig(nil)
	if err != nil {
		return daemonConfig{}, err
	}
	if opts.configFile != "" {
		daemon.ConfigFile = opts.configFile
	}
	return daemon, nil
}

func openDatabase(ctx context.Context, daemon daemonConfig, migrate bool) (*persistence.Client, error) {
	client, err := sqlstore.Open(sqlstore.ClientConfig{
		Driver: daemon.DBDriver,
		DSN:    daemon.DBDSN,
		Debug:  daemon.DBDebug,
	})
	if err != nil {
		return nil, err
	}
	if !migrate {
		return client, nil
	}
	if err := runMigrations(ctx, client, daemon.DBDriver); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func runMigrations(ctx context.Context, client *persistence.Client, driver string) error {
	dialect := sqlstore.MigrationDialect(driver)
	_, err := webhookmigrations.Register(ctx, func(_ context.Context, target string, _ string, fsys fs.FS) error {
		if target != dialect {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, webhookmigrations.WithValidationTargets(dialect))
	if err != nil {
		return err
	}
	if err := client.Migrate(ctx); err != nil {
		return fmt.Errorf("webhookd: migrate %s: %w", dialect, err)
	}
	return nil
}

// buildApp wires storage, transport, locking, metrics and the command bus
// around a core service. Callers must Close the returned app.
func buildApp(ctx context.Context, opts *rootOptions) (*app, error) {
	daemon, err := loadDaemon(opts)
	if err != nil {
		return nil, err
	}
	provider := newLoggerProvider(opts.logLevel)

	client, err := openDatabase(ctx, daemon, daemon.AutoMigrate)
	if err != nil {
		return nil, err
	}
	a := &app{daemon: daemon, client: client, registry: prometheus.NewRegistry()}

	a.stores, err = sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		a.Close()
		return nil, err
	}
	deliverer, err := transport.NewDefaultRegistry().Build(daemon.Transport, nil)
	if err != nil {
		a.Close()
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithLoggerProvider(provider),
		core.WithConfigProvider(daemon.configProvider()),
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(a.stores),
		core.WithMetricsRecorder(metrics.NewPrometheusRecorder(a.registry)),
		core.WithDeliverer(deliverer),
	}
	if daemon.WorkerOwner != "" {
		serviceOpts = append(serviceOpts, core.WithWorkerOwner(daemon.WorkerOwner))
	}
	if daemon.RedisURL != "" {
		guard, guardErr := a.tickGuard(ctx, daemon, provider.GetLogger(loggerName+".locks"))
		if guardErr != nil {
			a.Close()
			return nil, guardErr
		}
		serviceOpts = append(serviceOpts, core.WithTickGuard(guard))
	}

	a.service, err = core.NewService(core.Config{}, serviceOpts...)
	if err != nil {
		a.Close()
		return nil, err
	}
	_, a.logger = gologger.ResolveForService(a.service.Config(), provider, nil)

	if err := a.wireReads(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireBus(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.wireReceiver(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// tickGuard loads config ahead of the service so the redis TTL matches the
// claim lease.
func (a *app) tickGuard(ctx context.Context, daemon daemonConfig, logger core.Logger) (core.TickGuard, error) {
	cfg, err := daemon.configProvider().Load(ctx, core.DefaultConfig())
	if err != nil {
		return nil, err
	}
	client, err := locks.NewRedisClient(daemon.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	guardOpts := []locks.Option{
		locks.WithLeaseFrom(cfg),
		locks.WithLogger(logger),
	}
	if daemon.WorkerOwner != "" {
		guardOpts = append(guardOpts, locks.WithOwner(daemon.WorkerOwner))
	}
	return locks.NewRedisTickGuard(client, guardOpts...)
}

// wireReads serves single dispatch lookups from a cache holding terminal
// records.
func (a *app) wireReads() error {
	a.api = a.service
	if a.daemon.CacheTTL <= 0 {
		return nil
	}
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = a.daemon.CacheTTL
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		return fmt.Errorf("webhookd: dispatch cache: %w", err)
	}
	reader, err := sqlstore.NewCachedDispatchReader(a.stores.DispatchStore(), cacheService)
	if err != nil {
		return err
	}
	a.api = cachedReads{WebhookService: a.service, reader: reader}
	return nil
}

func (a *app) wireBus() error {
	subs, err := gocommand.RegisterDispatchHandlers(gocommand.NewRegistryAdapter(nil), a.api)
	if err != nil {
		return err
	}
	a.subs = subs
	return nil
}

// wireReceiver accepts every inbound event; follow-up dispatches go through
// the command bus. Domain collaborators are registered by embedding hosts.
func (a *app) wireReceiver() error {
	cfg := a.service.Config()
	primary, prompt, err := inbound.VerifiersFromConfig(cfg, a.service.Signer())
	if err != nil {
		return err
	}
	receiver := inbound.NewReceiver(primary, a.stores.InboundLedger())
	receiver.PromptVerifier = prompt
	receiver.Logger = a.logger
	handlers := &inbound.Handlers{
		Events: gocommand.BusEnqueuer{},
		Logger: a.logger,
	}
	if err := handlers.Register(receiver); err != nil {
		return err
	}
	a.receiver = receiver
	return nil
}

func (a *app) Close() {
	if a == nil {
		return
	}
	a.subs.Unsubscribe()
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.client != nil {
		_ = a.client.Close()
	}
}

type cachedReads struct {
	core.WebhookService
	reader core.DispatchReader
}

func (c cachedReads) Get(ctx context.Context, id string) (core.DispatchRecord, error) {
	return c.reader.Get(ctx, id)
}
