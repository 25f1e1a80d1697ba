package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
	"github.com/google/uuid"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

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

type engineBuilder struct {
	runtimeConfig          Config
	logger                 Logger
	loggerProvider         LoggerProvider
	metricsRecorder        MetricsRecorder
	errorFactory           ErrorFactory
	errorMapper            ErrorMapper
	persistenceClient      any
	repositoryFactory      any
	configProvider         ConfigProvider
	optionsResolver        OptionsResolver
	connectorRegistry      ConnectorRegistry
	backoffScheduler       BackoffScheduler
	deletionRules          []DeletionRule
	objectStore            ObjectStore
	metaverseStore         MetaverseStore
	syncRuleStore          SyncRuleStore
	pendingExportStore     PendingExportStore
	deferredReferenceStore DeferredReferenceStore
	watermarkStore         WatermarkStore
	runStore               RunStore
	activitySink           ActivitySink
	clock                  func() time.Time
	idGenerator            func() string
}

type Option func(*engineBuilder)

func WithLogger(logger Logger) Option {
	return func(b *engineBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *engineBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *engineBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *engineBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *engineBuilder) {
		b.errorMapper = mapper
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *engineBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *engineBuilder) {
		b.repositoryFactory = factory
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *engineBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *engineBuilder) {
		b.optionsResolver = resolver
	}
}

func WithConnectorRegistry(registry ConnectorRegistry) Option {
	return func(b *engineBuilder) {
		b.connectorRegistry = registry
	}
}

func WithBackoffScheduler(scheduler BackoffScheduler) Option {
	return func(b *engineBuilder) {
		b.backoffScheduler = scheduler
	}
}

// WithDeletionRules sets the per-object-type metaverse deletion rules.
// Object types without a rule keep their metaverse objects forever.
func WithDeletionRules(rules ...DeletionRule) Option {
	return func(b *engineBuilder) {
		b.deletionRules = append(b.deletionRules, rules...)
	}
}

func WithObjectStore(store ObjectStore) Option {
	return func(b *engineBuilder) {
		b.objectStore = store
	}
}

func WithMetaverseStore(store MetaverseStore) Option {
	return func(b *engineBuilder) {
		b.metaverseStore = store
	}
}

func WithSyncRuleStore(store SyncRuleStore) Option {
	return func(b *engineBuilder) {
		b.syncRuleStore = store
	}
}

func WithPendingExportStore(store PendingExportStore) Option {
	return func(b *engineBuilder) {
		b.pendingExportStore = store
	}
}

func WithDeferredReferenceStore(store DeferredReferenceStore) Option {
	return func(b *engineBuilder) {
		b.deferredReferenceStore = store
	}
}

func WithWatermarkStore(store WatermarkStore) Option {
	return func(b *engineBuilder) {
		b.watermarkStore = store
	}
}

func WithRunStore(store RunStore) Option {
	return func(b *engineBuilder) {
		b.runStore = store
	}
}

func WithActivitySink(sink ActivitySink) Option {
	return func(b *engineBuilder) {
		b.activitySink = sink
	}
}

func WithEngineClock(clock func() time.Time) Option {
	return func(b *engineBuilder) {
		b.clock = clock
	}
}

func WithIDGenerator(generator func() string) Option {
	return func(b *engineBuilder) {
		b.idGenerator = generator
	}
}

func defaultEngineBuilder(runtime Config) engineBuilder {
	loggerProvider, logger := glog.Resolve("metasync", nil, nil)
	return engineBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		clock:           func() time.Time { return time.Now().UTC() },
		idGenerator:     defaultIDGenerator,
	}
}

func defaultIDGenerator() string {
	return uuid.NewString()
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return syncErrorMapper(err)
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

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

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
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
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
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}
	importLayer := map[string]any{}
	if includeZero || cfg.Import.PageSize > 0 {
		importLayer["page_size"] = cfg.Import.PageSize
	}
	if len(importLayer) > 0 {
		layer["import"] = importLayer
	}
	exportLayer := map[string]any{}
	if includeZero || cfg.Export.BatchSize > 0 {
		exportLayer["batch_size"] = cfg.Export.BatchSize
	}
	if includeZero || cfg.Export.MaxParallelism > 0 {
		exportLayer["max_parallelism"] = cfg.Export.MaxParallelism
	}
	if includeZero || cfg.Export.MaxRetries > 0 {
		exportLayer["max_retries"] = cfg.Export.MaxRetries
	}
	if includeZero || cfg.Export.InitialBackoff > 0 {
		exportLayer["initial_backoff"] = cfg.Export.InitialBackoff
	}
	if includeZero || cfg.Export.MaxBackoff > 0 {
		exportLayer["max_backoff"] = cfg.Export.MaxBackoff
	}
	if len(exportLayer) > 0 {
		layer["export"] = exportLayer
	}
	if includeZero || cfg.References.SweepLimit > 0 {
		layer["references"] = map[string]any{
			"sweep_limit": cfg.References.SweepLimit,
		}
	}
	return layer
}
