package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Fitbit reports its hourly quota under its own header names; other providers
// use the common x-ratelimit set.
var (
	limitHeaders     = []string{"x-ratelimit-limit", "fitbit-rate-limit-limit"}
	remainingHeaders = []string{"x-ratelimit-remaining", "fitbit-rate-limit-remaining"}
	resetHeaders     = []string{"x-ratelimit-reset", "fitbit-rate-limit-reset"}
)

// unixResetFloor separates relative reset seconds from absolute unix times.
const unixResetFloor = 1_000_000_000

// quota is the rate limit information carried by one response. Nil fields
// were absent or unparseable.
type quota struct {
	limit      *int
	remaining  *int
	resetAt    *time.Time
	retryAfter *time.Duration
}

func readQuota(headers map[string]string, now time.Time) quota {
	h := canonical(headers)
	q := quota{
		limit:     intHeader(h, limitHeaders),
		remaining: intHeader(h, remainingHeaders),
	}
	if seconds := intHeader(h, resetHeaders); seconds != nil && *seconds > 0 {
		reset := time.Unix(int64(*seconds), 0).UTC()
		if *seconds < unixResetFloor {
			reset = now.Add(time.Duration(*seconds) * time.Second)
		}
		q.resetAt = &reset
	}
	if wait, ok := retryAfter(h.Get("Retry-After"), now); ok {
		q.retryAfter = &wait
	}
	return q
}

// exhausted is true when the provider says no calls are left in this window.
func (q quota) exhausted() bool {
	return q.remaining != nil && *q.remaining == 0
}

// retryAfter accepts delta seconds or an HTTP date.
func retryAfter(raw string, now time.Time) (time.Duration, bool) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		return time.Duration(seconds) * time.Second, seconds > 0
	}
	at, err := http.ParseTime(raw)
	if err != nil || !at.After(now) {
		return 0, false
	}
	return at.Sub(now), true
}

func canonical(headers map[string]string) http.Header {
	h := make(http.Header, len(headers))
	for key, value := range headers {
		h.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	return h
}

func intHeader(h http.Header, names []string) *int {
	for _, name := range names {
		raw := h.Get(name)
		if raw == "" {
			continue
		}
		if parsed, err := strconv.Atoi(raw); err == nil {
			return &parsed
		}
	}
	return nil
}
