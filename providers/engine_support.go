package providers

import (
	"context"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-shims/core"
	"github.com/goliatone/go-shims/transport"
)

// DefaultRequestTimeout bounds every handshake call unless an engine overrides it.
const DefaultRequestTimeout = 30 * time.Second

// ResolveTransport falls back to a REST adapter with default limits.
func ResolveTransport(adapter core.TransportAdapter) core.TransportAdapter {
	if adapter == nil {
		return transport.NewRESTAdapter(nil)
	}
	return adapter
}

func resolveTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultRequestTimeout
	}
	return timeout
}

func resolveClock(now func() time.Time) func() time.Time {
	if now == nil {
		return func() time.Time { return time.Now().UTC() }
	}
	return now
}

func resolveLogger(logger core.Logger) core.Logger {
	return glog.Ensure(logger)
}

// ConfigError reports a provider this server was never issued credentials for.
func ConfigError(domain string, message string) error {
	return goerrors.New("providers: "+strings.TrimSpace(domain)+": "+message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ShimErrorInternal).
		WithMetadata(map[string]any{"domain": strings.TrimSpace(domain)})
}

func logDebug(ctx context.Context, logger core.Logger, message string, args ...any) {
	if logger == nil {
		return
	}
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	logger.Debug(message, args...)
}
