package core

import (
	"context"
	"time"
)

// Service orchestrates the authorization handshake and data reads over a fixed shim registry.
type Service struct {
	config           Config
	logger           Logger
	loggerProvider   LoggerProvider
	metricsRecorder  MetricsRecorder
	errorFactory     ErrorFactory
	errorMapper      ErrorMapper
	configProvider   ConfigProvider
	optionsResolver  OptionsResolver
	registry         *ShimRegistry
	infoStore        AuthorizationInfoStore
	tokenStore       AuthorizationTokenStore
	dataStore        DataStore
	replayLedger     ReplayLedger
	refreshScheduler RefreshScheduler
	clock            func() time.Time
	idGenerator      func() string
}

type ServiceDependencies struct {
	Logger           Logger
	LoggerProvider   LoggerProvider
	MetricsRecorder  MetricsRecorder
	ErrorFactory     ErrorFactory
	ErrorMapper      ErrorMapper
	ConfigProvider   ConfigProvider
	OptionsResolver  OptionsResolver
	Registry         *ShimRegistry
	InfoStore        AuthorizationInfoStore
	TokenStore       AuthorizationTokenStore
	DataStore        DataStore
	ReplayLedger     ReplayLedger
	RefreshScheduler RefreshScheduler
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := serviceBuilder{runtime: cfg}
	for _, opt := range opts {
		if opt != nil {
			opt(&builder)
		}
	}
	builder.fill()
	deps := builder.deps

	defaults := DefaultConfig()
	loaded, err := deps.ConfigProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(deps.ErrorMapper, err)
	}
	resolved, err := deps.OptionsResolver.Resolve(defaults, loaded, builder.runtime)
	if err != nil {
		return nil, mapBuildError(deps.ErrorMapper, err)
	}
	if deps.ReplayLedger == nil {
		deps.ReplayLedger = NewMemoryReplayLedger(resolved.Replay.TTL())
	}

	return &Service{
		config:           resolved,
		logger:           deps.Logger,
		loggerProvider:   deps.LoggerProvider,
		metricsRecorder:  deps.MetricsRecorder,
		errorFactory:     deps.ErrorFactory,
		errorMapper:      deps.ErrorMapper,
		configProvider:   deps.ConfigProvider,
		optionsResolver:  deps.OptionsResolver,
		registry:         deps.Registry,
		infoStore:        deps.InfoStore,
		tokenStore:       deps.TokenStore,
		dataStore:        deps.DataStore,
		replayLedger:     deps.ReplayLedger,
		refreshScheduler: deps.RefreshScheduler,
		clock:            builder.clock,
		idGenerator:      builder.idGenerator,
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

func (s *Service) Registry() *ShimRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:           s.logger,
		LoggerProvider:   s.loggerProvider,
		MetricsRecorder:  s.metricsRecorder,
		ErrorFactory:     s.errorFactory,
		ErrorMapper:      s.errorMapper,
		ConfigProvider:   s.configProvider,
		OptionsResolver:  s.optionsResolver,
		Registry:         s.registry,
		InfoStore:        s.infoStore,
		TokenStore:       s.tokenStore,
		DataStore:        s.dataStore,
		ReplayLedger:     s.replayLedger,
		RefreshScheduler: s.refreshScheduler,
	}
}

func (s *Service) now() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	if s == nil || s.errorMapper == nil {
		return err
	}
	mapped := s.errorMapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}
