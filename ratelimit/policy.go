// Package ratelimit throttles outbound provider calls from the rate limit
// headers and 429 responses each provider host returns.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
)

const (
	defaultInitialBackoff = time.Second
	defaultMaxBackoff     = time.Minute
)

type ThrottledError struct {
	Host       string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: provider host %q throttled for %s", e.Host, e.RetryAfter)
}

// ToShimError renders the throttle as a 429 shim error.
func (e ThrottledError) ToShimError() error {
	return core.NewRateLimitedError(e.Error(), e.RetryAfter, map[string]any{"host": e.Host})
}

// AdaptivePolicy tracks each provider host in Store. Throttled responses open
// a window sized by Retry-After, or by exponential backoff when absent.
type AdaptivePolicy struct {
	Store          StateStore
	Now            func() time.Time
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewAdaptivePolicy(store StateStore) *AdaptivePolicy {
	return &AdaptivePolicy{
		Store:          store,
		InitialBackoff: defaultInitialBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

// BeforeCall fails with ThrottledError while host is inside a backoff window
// or has exhausted its advertised quota.
func (p *AdaptivePolicy) BeforeCall(ctx context.Context, host string) error {
	state, found, err := p.load(ctx, host)
	if err != nil || !found {
		return err
	}
	if wait, blocked := state.blockedFor(p.now()); blocked {
		return ThrottledError{Host: state.Host, RetryAfter: wait}
	}
	return nil
}

// AfterCall folds one response into the host state.
func (p *AdaptivePolicy) AfterCall(ctx context.Context, host string, res core.TransportResponse) error {
	state, found, err := p.load(ctx, host)
	if err != nil || p == nil || p.Store == nil {
		return err
	}
	if !found {
		state = State{Host: normalizeHost(host)}
	}
	now := p.now()
	q := readQuota(res.Headers, now)

	state.LastStatus = res.StatusCode
	state.UpdatedAt = now
	state.RetryAfter = q.retryAfter
	if q.limit != nil {
		state.Limit = *q.limit
	}
	if q.remaining != nil {
		state.Remaining = *q.remaining
	}
	if q.resetAt != nil {
		state.ResetAt = q.resetAt
	}

	throttled := res.StatusCode == http.StatusTooManyRequests ||
		(res.StatusCode < http.StatusInternalServerError && q.exhausted())
	if !throttled {
		state.Attempts = 0
		state.ThrottledUntil = nil
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	var wait time.Duration
	switch {
	case q.retryAfter != nil:
		wait = *q.retryAfter
	case q.exhausted() && state.ResetAt != nil && state.ResetAt.After(now):
		wait = state.ResetAt.Sub(now)
	default:
		wait = p.backoff(state.Attempts)
	}
	until := now.Add(wait)
	state.ThrottledUntil = &until
	return p.Store.Upsert(ctx, state)
}

func (p *AdaptivePolicy) load(ctx context.Context, host string) (State, bool, error) {
	if p == nil || p.Store == nil {
		return State{}, false, nil
	}
	state, err := p.Store.Get(ctx, normalizeHost(host))
	switch {
	case errors.Is(err, ErrStateNotFound):
		return State{}, false, nil
	case err != nil:
		return State{}, false, err
	}
	return state, true, nil
}

func (p *AdaptivePolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

// backoff doubles from InitialBackoff for each consecutive throttled attempt.
func (p *AdaptivePolicy) backoff(attempt int) time.Duration {
	wait, ceiling := p.InitialBackoff, p.MaxBackoff
	if wait <= 0 {
		wait = defaultInitialBackoff
	}
	if ceiling <= 0 {
		ceiling = defaultMaxBackoff
	}
	for ; attempt > 1 && wait < ceiling; attempt-- {
		wait *= 2
	}
	return min(wait, ceiling)
}

// HostOf returns the host component used to key throttle state.
func HostOf(rawURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return ""
	}
	return normalizeHost(parsed.Host)
}
