package core

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Service struct {
	config            Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	signer            *Signer
	store             DispatchStore
	deliverer         Deliverer
	dispatcher        *Dispatcher
	worker            *RetryWorker
}

type ServiceDependencies struct {
	Logger            Logger
	LoggerProvider    LoggerProvider
	MetricsRecorder   MetricsRecorder
	ErrorMapper       ErrorMapper
	PersistenceClient any
	RepositoryFactory any
	ConfigProvider    ConfigProvider
	OptionsResolver   OptionsResolver
	Signer            *Signer
	DispatchStore     DispatchStore
	Deliverer         Deliverer
	Dispatcher        *Dispatcher
	Worker            *RetryWorker
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("webhooks", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("webhooks"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if builder.dispatchStore == nil && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			stores, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if stores != nil {
				builder.dispatchStore = stores.DispatchStore()
			}
		} else if stores, ok := builder.repositoryFactory.(StoreProvider); ok {
			builder.dispatchStore = stores.DispatchStore()
		}
	}
	if builder.dispatchStore == nil {
		return nil, mapBuildError(builder.errorMapper, ConfigurationError("core: dispatch store is required", map[string]any{
			"component": "service",
		}))
	}

	signer := NewSigner(finalConfig.OutgoingSecret, finalConfig.IncomingSecret)

	dispatcherOpts := []DispatcherOption{
		WithDispatcherLogger(logger),
		WithDispatcherJobEnqueuer(builder.jobEnqueuer),
	}
	if builder.now != nil {
		dispatcherOpts = append(dispatcherOpts, WithDispatcherClock(builder.now))
	}
	dispatcher, err := NewDispatcher(builder.dispatchStore, signer, finalConfig.DefaultTargetURL, dispatcherOpts...)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	var worker *RetryWorker
	if builder.deliverer != nil {
		backoff := builder.backoff
		if backoff == nil {
			backoff = ExponentialBackoff{Base: finalConfig.BackoffBase(), Max: finalConfig.BackoffMax()}
		}
		workerOpts := []WorkerOption{
			WithWorkerLogger(logger),
			WithWorkerMetrics(builder.metricsRecorder),
			WithWorkerBackoff(backoff),
			WithWorkerTickGuard(builder.tickGuard),
			WithWorkerAttemptHook(builder.attemptHook),
			WithRetryWorkerOwner(builder.workerOwner),
		}
		if builder.now != nil {
			workerOpts = append(workerOpts, WithWorkerClock(builder.now))
		}
		worker, err = NewRetryWorker(builder.dispatchStore, builder.deliverer, signer, finalConfig.WorkerConfig(), workerOpts...)
		if err != nil {
			return nil, mapBuildError(builder.errorMapper, err)
		}
	}

	return &Service{
		config:            finalConfig,
		logger:            logger,
		loggerProvider:    provider,
		metricsRecorder:   builder.metricsRecorder,
		errorMapper:       builder.errorMapper,
		persistenceClient: builder.persistenceClient,
		repositoryFactory: builder.repositoryFactory,
		configProvider:    builder.configProvider,
		optionsResolver:   builder.optionsResolver,
		signer:            signer,
		store:             builder.dispatchStore,
		deliverer:         builder.deliverer,
		dispatcher:        dispatcher,
		worker:            worker,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Signer() *Signer {
	if s == nil {
		return nil
	}
	return s.signer
}

func (s *Service) Worker() *RetryWorker {
	if s == nil {
		return nil
	}
	return s.worker
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:            s.logger,
		LoggerProvider:    s.loggerProvider,
		MetricsRecorder:   s.metricsRecorder,
		ErrorMapper:       s.errorMapper,
		PersistenceClient: s.persistenceClient,
		RepositoryFactory: s.repositoryFactory,
		ConfigProvider:    s.configProvider,
		OptionsResolver:   s.optionsResolver,
		Signer:            s.signer,
		DispatchStore:     s.store,
		Deliverer:         s.deliverer,
		Dispatcher:        s.dispatcher,
		Worker:            s.worker,
	}
}

func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (record DispatchRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"event_type": strings.TrimSpace(req.EventType)}
	defer func() {
		if record.ID != "" {
			fields["dispatch_id"] = record.ID
		}
		s.observeOperation(ctx, startedAt, "enqueue", err, fields)
	}()

	if s == nil || s.dispatcher == nil {
		err = ConfigurationError("core: service is not configured", nil)
		return DispatchRecord{}, err
	}
	record, err = s.dispatcher.Enqueue(ctx, req)
	if err != nil {
		err = s.mapError(err)
		return DispatchRecord{}, err
	}
	return record, nil
}

func (s *Service) Get(ctx context.Context, id string) (DispatchRecord, error) {
	if s == nil || s.store == nil {
		return DispatchRecord{}, ConfigurationError("core: service is not configured", nil)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return DispatchRecord{}, ValidationError("id", "dispatch id is required")
	}
	record, err := s.store.Get(ctx, id)
	if err != nil {
		return DispatchRecord{}, s.mapError(err)
	}
	return record, nil
}

func (s *Service) List(ctx context.Context, filter DispatchFilter) (DispatchPage, error) {
	if s == nil || s.store == nil {
		return DispatchPage{}, ConfigurationError("core: service is not configured", nil)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return DispatchPage{}, ValidationError("status", "unknown dispatch status "+string(filter.Status))
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return DispatchPage{}, ValidationError("limit", "limit and offset must not be negative")
	}
	if filter.Limit == 0 || filter.Limit > maxBatchSize {
		filter.Limit = maxBatchSize
	}
	page, err := s.store.List(ctx, filter)
	if err != nil {
		return DispatchPage{}, s.mapError(err)
	}
	return page, nil
}

func (s *Service) Replay(ctx context.Context, id string) (record DispatchRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"replay_of": strings.TrimSpace(id)}
	defer func() {
		if record.ID != "" {
			fields["dispatch_id"] = record.ID
			fields["event_type"] = record.EventType
		}
		s.observeOperation(ctx, startedAt, "replay", err, fields)
	}()

	if s == nil || s.dispatcher == nil {
		err = ConfigurationError("core: service is not configured", nil)
		return DispatchRecord{}, err
	}
	record, err = s.dispatcher.Replay(ctx, id)
	if err != nil {
		err = s.mapError(err)
		return DispatchRecord{}, err
	}
	return record, nil
}

func (s *Service) Tick(ctx context.Context) (stats TickStats, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{}
	defer func() {
		if stats.Skipped {
			return
		}
		fields["claimed"] = stats.Claimed
		fields["sent"] = stats.Sent
		fields["retried"] = stats.Retried
		fields["dead"] = stats.Dead
		s.observeOperation(ctx, startedAt, "tick", err, fields)
	}()

	worker, err := s.requireWorker()
	if err != nil {
		return TickStats{}, err
	}
	stats, err = worker.Tick(ctx)
	if err != nil {
		err = s.mapError(err)
	}
	return stats, err
}

func (s *Service) DeliverByID(ctx context.Context, id string) (record DispatchRecord, err error) {
	startedAt := time.Now().UTC()
	fields := map[string]any{"dispatch_id": strings.TrimSpace(id)}
	defer func() {
		if record.Status != "" {
			fields["dispatch_status"] = string(record.Status)
		}
		s.observeOperation(ctx, startedAt, "deliver", err, fields)
	}()

	worker, err := s.requireWorker()
	if err != nil {
		return DispatchRecord{}, err
	}
	record, err = worker.DeliverByID(ctx, id)
	if err != nil {
		err = s.mapError(err)
		return DispatchRecord{}, err
	}
	return record, nil
}

// Run blocks, ticking the retry worker until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	worker, err := s.requireWorker()
	if err != nil {
		return err
	}
	s.logInfo(ctx, "dispatch worker started", map[string]any{
		"owner":            worker.Owner(),
		"tick_interval_ms": s.config.WorkerTickIntervalMs,
		"batch_size":       s.config.BatchSize,
	})
	err = worker.Run(ctx)
	s.logInfo(ctx, "dispatch worker stopped", map[string]any{"owner": worker.Owner()})
	return err
}

func (s *Service) requireWorker() (*RetryWorker, error) {
	if s == nil || s.worker == nil {
		return nil, ConfigurationError("core: retry worker requires a deliverer", map[string]any{"component": "retry_worker"})
	}
	return s.worker, nil
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	if mapped := s.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

