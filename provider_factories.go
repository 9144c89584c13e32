package shims

import (
	"time"

	"github.com/goliatone/go-shims/core"
	"github.com/goliatone/go-shims/providers/bluebutton"
	"github.com/goliatone/go-shims/providers/fitbit"
	"github.com/goliatone/go-shims/providers/twonet"
	"github.com/goliatone/go-shims/providers/withings"
)

func FitbitShim(cfg fitbit.Config) (core.Shim, error) {
	return fitbit.New(cfg)
}

func WithingsShim(cfg withings.Config) (core.Shim, error) {
	return withings.New(cfg)
}

func TwoNetShim(cfg twonet.Config) (core.Shim, error) {
	return twonet.New(cfg)
}

func BlueButtonShim(cfg bluebutton.Config) (core.Shim, error) {
	return bluebutton.New(cfg)
}

// ShimRuntime carries what every bundled shim shares.
type ShimRuntime struct {
	Transport core.TransportAdapter
	Logger    core.Logger
	Now       func() time.Time
}

// BuiltinShims builds the bundled shims with credentials from
// cfg.Providers[<domain>] and the request timeout from cfg.HTTP.
func BuiltinShims(cfg Config, runtime ShimRuntime) ([]core.Shim, error) {
	timeout := cfg.HTTP.RequestTimeout()

	fitbitShim, err := FitbitShim(fitbit.Config{
		Provider:  cfg.Provider(fitbit.Domain),
		Transport: runtime.Transport,
		Timeout:   timeout,
		Now:       runtime.Now,
		Logger:    runtime.Logger,
	})
	if err != nil {
		return nil, err
	}
	withingsShim, err := WithingsShim(withings.Config{
		Provider:  cfg.Provider(withings.Domain),
		Transport: runtime.Transport,
		Timeout:   timeout,
		Now:       runtime.Now,
		Logger:    runtime.Logger,
	})
	if err != nil {
		return nil, err
	}
	twonetShim, err := TwoNetShim(twonet.Config{
		Provider:  cfg.Provider(twonet.Domain),
		Transport: runtime.Transport,
		Timeout:   timeout,
		Now:       runtime.Now,
		Logger:    runtime.Logger,
	})
	if err != nil {
		return nil, err
	}
	blueButtonShim, err := BlueButtonShim(bluebutton.Config{
		Now:    runtime.Now,
		Logger: runtime.Logger,
	})
	if err != nil {
		return nil, err
	}
	return []core.Shim{fitbitShim, withingsShim, twonetShim, blueButtonShim}, nil
}
