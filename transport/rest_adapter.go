// Package transport performs the HTTP calls shims make to provider APIs.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
)

const KindREST = "rest"

const (
	defaultRESTClientTimeout             = 30 * time.Second
	defaultRESTResponseBodyLimit   int64 = 10 << 20
	defaultRESTUserAgent                 = "go-shims"
	errResponseTooLargeMessageTmpl       = "transport: response body exceeds limit of %d bytes"
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter performs the outbound provider calls. Every call is bounded by a
// timeout and a response body limit; nothing is retried.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	DefaultTimeout       time.Duration
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultRESTClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"User-Agent": defaultRESTUserAgent},
		DefaultTimeout:       defaultRESTClientTimeout,
		MaxResponseBodyBytes: defaultRESTResponseBodyLimit,
	}
}

// NewRESTAdapterFromConfig applies the configured timeout and body limit.
func NewRESTAdapterFromConfig(client HTTPDoer, cfg core.HTTPConfig) *RESTAdapter {
	adapter := NewRESTAdapter(client)
	adapter.DefaultTimeout = cfg.RequestTimeout()
	if cfg.MaxResponseBodyBytes > 0 {
		adapter.MaxResponseBodyBytes = cfg.MaxResponseBodyBytes
	}
	return adapter
}

func (*RESTAdapter) Kind() string {
	return KindREST
}

func (a *RESTAdapter) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	if a == nil || a.Client == nil {
		return core.TransportResponse{}, core.NewProviderError(nil, "transport: rest adapter requires an http client", nil)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := requestURL(req)
	if err != nil {
		return core.TransportResponse{}, err
	}
	// The query string may carry signatures and tokens.
	fields := map[string]any{"adapter": KindREST, "url": redactedURL(target)}

	if timeout := a.timeout(req); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	fields["method"] = method
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return core.TransportResponse{}, core.NewValidationError("transport: request cannot be built: "+err.Error(), "method")
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		return core.TransportResponse{}, core.NewProviderError(err, "transport: execute http request", fields)
	}
	defer httpRes.Body.Close()

	fields["status_code"] = httpRes.StatusCode
	limit := a.bodyLimit(req)
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return core.TransportResponse{}, core.NewProviderError(err, "transport: read response body", fields)
	}
	if int64(len(body)) > limit {
		fields["response_limit_b"] = limit
		return core.TransportResponse{}, core.NewProviderError(nil, fmt.Sprintf(errResponseTooLargeMessageTmpl, limit), fields)
	}

	return core.TransportResponse{
		StatusCode: httpRes.StatusCode,
		Headers:    flattenHeaders(httpRes.Header),
		Body:       body,
		Metadata: map[string]any{
			"duration_ms": time.Since(startedAt).Milliseconds(),
			"kind":        KindREST,
			"url":         fields["url"],
		},
	}, nil
}

// requestURL parses req.URL and merges req.Query over any query it carries.
func requestURL(req core.TransportRequest) (*url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, core.NewValidationError("transport: request url is required", "url")
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, core.NewValidationError("transport: request url is invalid", "url")
	}
	if len(req.Query) == 0 {
		return target, nil
	}
	query := target.Query()
	for key, value := range req.Query {
		if key = strings.TrimSpace(key); key != "" {
			query.Set(key, value)
		}
	}
	target.RawQuery = query.Encode()
	return target, nil
}

func (a *RESTAdapter) timeout(req core.TransportRequest) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return a.DefaultTimeout
}

func (a *RESTAdapter) bodyLimit(req core.TransportRequest) int64 {
	switch {
	case req.MaxResponseBodyBytes > 0:
		return req.MaxResponseBodyBytes
	case a.MaxResponseBodyBytes > 0:
		return a.MaxResponseBodyBytes
	default:
		return defaultRESTResponseBodyLimit
	}
}

func setHeaders(dst http.Header, src map[string]string) {
	for key, value := range src {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

func flattenHeaders(headers http.Header) map[string]string {
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

func redactedURL(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}

var _ core.TransportAdapter = (*RESTAdapter)(nil)
