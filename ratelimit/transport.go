package ratelimit

import (
	"context"
	"fmt"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-shims/core"
)

// Transport consults the policy around every call made by next. Requests to a
// throttled host fail fast and 429 responses surface as rate-limited errors.
type Transport struct {
	next   core.TransportAdapter
	policy *AdaptivePolicy
	logger core.Logger
}

func NewTransport(next core.TransportAdapter, policy *AdaptivePolicy, logger core.Logger) (*Transport, error) {
	if next == nil {
		return nil, fmt.Errorf("ratelimit: transport is required")
	}
	if policy == nil {
		policy = NewAdaptivePolicy(NewMemoryStateStore())
	}
	_, logger = glog.Resolve("ratelimit", nil, logger)
	return &Transport{next: next, policy: policy, logger: logger}, nil
}

func (t *Transport) Kind() string {
	return t.next.Kind()
}

func (t *Transport) Do(ctx context.Context, req core.TransportRequest) (core.TransportResponse, error) {
	host := HostOf(req.URL)
	if err := t.policy.BeforeCall(ctx, host); err != nil {
		if throttled, ok := err.(ThrottledError); ok {
			return core.TransportResponse{}, throttled.ToShimError()
		}
		return core.TransportResponse{}, err
	}

	res, err := t.next.Do(ctx, req)
	if err != nil {
		return res, err
	}
	if err := t.policy.AfterCall(ctx, host, res); err != nil {
		t.logger.WithContext(ctx).Warn("rate limit state update failed", "host", host, "error", err.Error())
	}
	if res.StatusCode == 429 {
		return res, ThrottledError{Host: host, RetryAfter: t.policy.retryHint(ctx, host)}.ToShimError()
	}
	return res, nil
}

func (p *AdaptivePolicy) retryHint(ctx context.Context, host string) time.Duration {
	state, found, err := p.load(ctx, host)
	if err != nil || !found {
		return 0
	}
	wait, _ := state.blockedFor(p.now())
	return wait
}

var _ core.TransportAdapter = (*Transport)(nil)
