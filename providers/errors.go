package providers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-shims/core"
)

func providerError(domain string, message string, metadata map[string]any) error {
	return providerWrapError(nil, domain, message, metadata)
}

func providerWrapError(source error, domain string, message string, metadata map[string]any) error {
	if core.IsRateLimited(source) {
		return source
	}
	fields := map[string]any{"domain": strings.TrimSpace(domain)}
	for key, value := range metadata {
		fields[key] = value
	}
	return core.NewProviderError(source, fmt.Sprintf("providers: %s: %s", strings.TrimSpace(domain), message), fields)
}

// ExpectStatus fails on anything other than a 200 response. Bodies are never
// echoed into the error since they may carry credentials.
func ExpectStatus(domain string, operation string, res core.TransportResponse) error {
	if res.StatusCode == http.StatusOK {
		return nil
	}
	return providerError(domain, operation+" returned an unexpected status", map[string]any{
		"operation":   operation,
		"status_code": res.StatusCode,
	})
}

// ProviderStatusError reports an API level failure code carried inside a 200
// response body.
func ProviderStatusError(domain string, operation string, status int) error {
	return providerError(domain, fmt.Sprintf("%s failed with provider status %d", operation, status), map[string]any{
		"operation":       operation,
		"provider_status": status,
	})
}
