package core

import (
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type ErrorFactory func(message string, category ...goerrors.Category) *goerrors.Error

type ErrorMapper func(err error) *goerrors.Error

// serviceBuilder collects Option values. Anything left unset after the options
// run gets an in-memory or no-op default in fill.
type serviceBuilder struct {
	runtime     Config
	deps        ServiceDependencies
	clock       func() time.Time
	idGenerator func() string
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) { b.deps.Logger = logger }
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) { b.deps.LoggerProvider = provider }
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) { b.deps.MetricsRecorder = recorder }
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *serviceBuilder) { b.deps.ErrorFactory = factory }
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) { b.deps.ErrorMapper = mapper }
}

// WithConfigProvider replaces the raw config source merged under the runtime
// Config passed to NewService.
func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) { b.deps.ConfigProvider = provider }
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) { b.deps.OptionsResolver = resolver }
}

func WithShimRegistry(registry *ShimRegistry) Option {
	return func(b *serviceBuilder) { b.deps.Registry = registry }
}

func WithAuthorizationInfoStore(store AuthorizationInfoStore) Option {
	return func(b *serviceBuilder) { b.deps.InfoStore = store }
}

func WithAuthorizationTokenStore(store AuthorizationTokenStore) Option {
	return func(b *serviceBuilder) { b.deps.TokenStore = store }
}

func WithDataStore(store DataStore) Option {
	return func(b *serviceBuilder) { b.deps.DataStore = store }
}

func WithReplayLedger(ledger ReplayLedger) Option {
	return func(b *serviceBuilder) { b.deps.ReplayLedger = ledger }
}

// WithRefreshScheduler enables background refresh jobs for expiring tokens.
func WithRefreshScheduler(scheduler RefreshScheduler) Option {
	return func(b *serviceBuilder) { b.deps.RefreshScheduler = scheduler }
}

func WithClock(clock func() time.Time) Option {
	return func(b *serviceBuilder) { b.clock = clock }
}

// WithCorrelationIDGenerator overrides uuid generation; tests use it to pin ids.
func WithCorrelationIDGenerator(generator func() string) Option {
	return func(b *serviceBuilder) { b.idGenerator = generator }
}

// fill resolves the logger and defaults every collaborator that only has an
// in-process implementation. Stores that depend on the final config are
// defaulted later in NewService.
func (b *serviceBuilder) fill() {
	d := &b.deps
	provider, logger := glog.Resolve("shims", d.LoggerProvider, d.Logger)
	if provider != nil {
		if named := provider.GetLogger("shims"); named != nil {
			logger = named
		}
	}
	d.LoggerProvider, d.Logger = provider, glog.Ensure(logger)

	if d.MetricsRecorder == nil {
		d.MetricsRecorder = NopMetricsRecorder{}
	}
	if d.ErrorFactory == nil {
		d.ErrorFactory = goerrors.New
	}
	if d.ErrorMapper == nil {
		d.ErrorMapper = DefaultErrorMapper
	}
	if d.ConfigProvider == nil {
		d.ConfigProvider = NewCfgxConfigProvider(nil)
	}
	if d.OptionsResolver == nil {
		d.OptionsResolver = GoOptionsResolver{}
	}
	if d.Registry == nil {
		d.Registry = MustShimRegistry()
	}
	if d.InfoStore == nil {
		d.InfoStore = NewMemoryAuthorizationInfoStore()
	}
	if d.TokenStore == nil {
		d.TokenStore = NewMemoryAuthorizationTokenStore()
	}
	if d.DataStore == nil {
		d.DataStore = NewMemoryDataStore()
	}
	if b.clock == nil {
		b.clock = func() time.Time { return time.Now().UTC() }
	}
	if b.idGenerator == nil {
		b.idGenerator = uuid.NewString
	}
}

// DefaultErrorMapper exposes the shim error envelope mapping to the HTTP boundary.
func DefaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return shimErrorMapper(err)
}
