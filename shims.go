// Package shims exposes the shim server: authorization handshakes with
// third-party health data providers and normalized reads of their data.
package shims

import "github.com/goliatone/go-shims/core"

type Config = core.Config

type ProviderConfig = core.ProviderConfig

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type Shim = core.Shim
type ShimRegistry = core.ShimRegistry
type AuthorizationInfoStore = core.AuthorizationInfoStore
type AuthorizationTokenStore = core.AuthorizationTokenStore
type DataStore = core.DataStore
type ReplayLedger = core.ReplayLedger
type RefreshScheduler = core.RefreshScheduler
type SecretProvider = core.SecretProvider

type InitiateAuthorizationRequest = core.InitiateAuthorizationRequest

type ReadRequest = core.ReadRequest

type RefreshTokenRequest = core.RefreshTokenRequest

var (
	WithLogger                  = core.WithLogger
	WithLoggerProvider          = core.WithLoggerProvider
	WithMetricsRecorder         = core.WithMetricsRecorder
	WithErrorFactory            = core.WithErrorFactory
	WithErrorMapper             = core.WithErrorMapper
	WithConfigProvider          = core.WithConfigProvider
	WithOptionsResolver         = core.WithOptionsResolver
	WithShimRegistry            = core.WithShimRegistry
	WithAuthorizationInfoStore  = core.WithAuthorizationInfoStore
	WithAuthorizationTokenStore = core.WithAuthorizationTokenStore
	WithDataStore               = core.WithDataStore
	WithReplayLedger            = core.WithReplayLedger
	WithRefreshScheduler        = core.WithRefreshScheduler
	WithClock                   = core.WithClock
	WithCorrelationIDGenerator  = core.WithCorrelationIDGenerator
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	return core.NewService(cfg, opts...)
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return core.Setup(cfg, opts...)
}
