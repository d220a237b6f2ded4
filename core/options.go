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

type serverBuilder struct {
	runtimeConfig   Config
	class           PolicyClass
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	consumerStore   ConsumerStore
	tokenStore      TokenStore
	nonceLedger     NonceLedger
	recordStore     RecordStore
	accountStore    AccountStore
	tokenSource     TokenSource
	now             func() time.Time
}

type Option func(*serverBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serverBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serverBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serverBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serverBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serverBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serverBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serverBuilder) {
		b.optionsResolver = resolver
	}
}

func WithConsumerStore(store ConsumerStore) Option {
	return func(b *serverBuilder) {
		b.consumerStore = store
	}
}

func WithTokenStore(store TokenStore) Option {
	return func(b *serverBuilder) {
		b.tokenStore = store
	}
}

func WithNonceLedger(ledger NonceLedger) Option {
	return func(b *serverBuilder) {
		b.nonceLedger = ledger
	}
}

func WithRecordStore(store RecordStore) Option {
	return func(b *serverBuilder) {
		b.recordStore = store
	}
}

func WithAccountStore(store AccountStore) Option {
	return func(b *serverBuilder) {
		b.accountStore = store
	}
}

func WithTokenSource(source TokenSource) Option {
	return func(b *serverBuilder) {
		b.tokenSource = source
	}
}

// WithClock overrides the server's time source. Tests pin it to exercise
// expiry boundaries.
func WithClock(now func() time.Time) Option {
	return func(b *serverBuilder) {
		b.now = now
	}
}

func defaultServerBuilder(runtime Config, class PolicyClass) serverBuilder {
	loggerProvider, logger := glog.Resolve("oauth-provider", nil, nil)
	return serverBuilder{
		runtimeConfig:   runtime,
		class:           class,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		tokenSource:     RandomTokenSource{},
		now:             time.Now,
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return providerErrorMapper(err)
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
	if includeZero || strings.TrimSpace(cfg.APIBase) != "" {
		layer["api_base"] = cfg.APIBase
	}

	oauthLayer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.OAuth.Realm) != "" {
		oauthLayer["realm"] = cfg.OAuth.Realm
	}
	if includeZero || cfg.OAuth.TimestampSkew != 0 {
		oauthLayer["timestamp_skew"] = cfg.OAuth.TimestampSkew
	}
	if len(oauthLayer) > 0 {
		layer["oauth"] = oauthLayer
	}

	if includeZero || cfg.Session.TokenTTL != 0 {
		layer["session"] = map[string]any{
			"token_ttl": cfg.Session.TokenTTL,
		}
	}
	return layer
}
