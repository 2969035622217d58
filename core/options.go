package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"gopkg.in/yaml.v3"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorMapper       ErrorMapper
	persistenceClient any
	repositoryFactory any
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	dispatchStore     DispatchStore
	deliverer         Deliverer
	tickGuard         TickGuard
	attemptHook       AttemptHook
	jobEnqueuer       JobEnqueuer
	backoff           BackoffPolicy
	workerOwner       string
	now               func() time.Time
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *serviceBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *serviceBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithDispatchStore(store DispatchStore) Option {
	return func(b *serviceBuilder) {
		b.dispatchStore = store
	}
}

func WithDeliverer(deliverer Deliverer) Option {
	return func(b *serviceBuilder) {
		b.deliverer = deliverer
	}
}

func WithTickGuard(guard TickGuard) Option {
	return func(b *serviceBuilder) {
		b.tickGuard = guard
	}
}

func WithAttemptHook(hook AttemptHook) Option {
	return func(b *serviceBuilder) {
		b.attemptHook = hook
	}
}

func WithJobEnqueuer(enqueuer JobEnqueuer) Option {
	return func(b *serviceBuilder) {
		b.jobEnqueuer = enqueuer
	}
}

func WithBackoffPolicy(policy BackoffPolicy) Option {
	return func(b *serviceBuilder) {
		b.backoff = policy
	}
}

func WithWorkerOwner(owner string) Option {
	return func(b *serviceBuilder) {
		b.workerOwner = owner
	}
}

func WithClock(now func() time.Time) Option {
	return func(b *serviceBuilder) {
		b.now = now
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("webhooks", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return MapError(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

// FileConfigLoader reads a YAML document. When Section is set only that top
// level key is returned.
type FileConfigLoader struct {
	Path     string
	Section  string
	Optional bool
}

func (l FileConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	path := strings.TrimSpace(l.Path)
	if path == "" {
		return map[string]any{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if l.Optional && errors.Is(err, fs.ErrNotExist) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("core: read config file %q: %w", path, err)
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("core: parse config file %q: %w", path, err)
	}
	section := strings.TrimSpace(l.Section)
	if section == "" {
		return raw, nil
	}
	nested, ok := raw[section]
	if !ok || nested == nil {
		return map[string]any{}, nil
	}
	values, ok := nested.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("core: config section %q is not a mapping", section)
	}
	return values, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

// Load decodes the raw values over defaults. Validation is left to the
// resolver since secrets commonly arrive through env or runtime config.
func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw, cfgx.WithDefaults(defaults))
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// EnvConfigProvider overlays WEBHOOK_* environment variables on whatever
// Base loads. Unset variables leave the loaded value alone.
type EnvConfigProvider struct {
	Base        ConfigProvider
	Environment map[string]string
}

func NewEnvConfigProvider(base ConfigProvider) *EnvConfigProvider {
	return &EnvConfigProvider{Base: base}
}

func (p *EnvConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	cfg := defaults
	if p.Base != nil {
		loaded, err := p.Base.Load(ctx, defaults)
		if err != nil {
			return Config{}, err
		}
		cfg = loaded
	}
	options := env.Options{}
	if p.Environment != nil {
		options.Environment = p.Environment
	}
	if err := env.ParseWithOptions(&cfg, options); err != nil {
		return Config{}, fmt.Errorf("core: parse environment config: %w", err)
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	setString := func(target map[string]any, key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			target[key] = value
		}
	}
	setInt := func(target map[string]any, key string, value int) {
		if includeZero || value != 0 {
			target[key] = value
		}
	}

	setString(layer, "service_name", cfg.ServiceName)
	setString(layer, "outgoing_secret", cfg.OutgoingSecret)
	setString(layer, "incoming_secret", cfg.IncomingSecret)
	setString(layer, "default_target_url", cfg.DefaultTargetURL)
	setInt(layer, "max_retries", cfg.MaxRetries)
	setInt(layer, "retry_backoff_base_ms", cfg.RetryBackoffBaseMs)
	setInt(layer, "retry_backoff_max_ms", cfg.RetryBackoffMaxMs)
	setInt(layer, "worker_tick_interval_ms", cfg.WorkerTickIntervalMs)
	setInt(layer, "batch_size", cfg.BatchSize)
	setInt(layer, "send_timeout_ms", cfg.SendTimeoutMs)
	setInt(layer, "claim_lease_ms", cfg.ClaimLeaseMs)

	inbound := map[string]any{}
	setString(inbound, "verifier", cfg.Inbound.Verifier)
	setString(inbound, "signature_header", cfg.Inbound.SignatureHeader)
	setString(inbound, "signature_prefix", cfg.Inbound.SignaturePrefix)
	setString(inbound, "body_secret_field", cfg.Inbound.BodySecretField)
	setString(inbound, "prompt_callback_secret", cfg.Inbound.PromptCallbackSecret)
	if len(inbound) > 0 {
		layer["inbound"] = inbound
	}
	return layer
}
