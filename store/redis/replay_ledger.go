// Package redisstore keeps callback replay claims in redis so that every
// instance behind a load balancer agrees on which correlation ids are spent.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "go-shims:replay:"
	defaultClaimTTL  = 24 * time.Hour
)

var claimDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "shims_replay_claim_duration_ms",
	Help:    "Latency of replay ledger claims in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// ReplayLedger claims keys with SET NX so a key is granted to exactly one caller
// until it expires.
type ReplayLedger struct {
	client     redis.Cmdable
	prefix     string
	defaultTTL time.Duration
}

type ReplayLedgerOption func(*ReplayLedger)

func WithKeyPrefix(prefix string) ReplayLedgerOption {
	return func(l *ReplayLedger) {
		l.prefix = prefix
	}
}

func WithDefaultTTL(ttl time.Duration) ReplayLedgerOption {
	return func(l *ReplayLedger) {
		if ttl > 0 {
			l.defaultTTL = ttl
		}
	}
}

func NewReplayLedger(client redis.Cmdable, opts ...ReplayLedgerOption) (*ReplayLedger, error) {
	if client == nil {
		return nil, fmt.Errorf("redisstore: redis client is required")
	}
	ledger := &ReplayLedger{
		client:     client,
		prefix:     defaultKeyPrefix,
		defaultTTL: defaultClaimTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ledger)
		}
	}
	return ledger, nil
}

func (l *ReplayLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if l == nil || l.client == nil {
		return false, fmt.Errorf("redisstore: replay ledger is not configured")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return false, fmt.Errorf("redisstore: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.defaultTTL
	}

	start := time.Now()
	defer func() {
		claimDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()
	return l.client.SetNX(ctx, l.prefix+key, "1", ttl).Result()
}

var _ core.ReplayLedger = (*ReplayLedger)(nil)
