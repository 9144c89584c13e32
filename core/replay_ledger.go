package core

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

const (
	defaultReplayLedgerTTL        = 24 * time.Hour
	defaultReplayLedgerMaxEntries = 16384
)

// MemoryReplayLedger remembers consumed correlation ids for one process. When
// full, expired claims go first and then the oldest claim. Multi-instance
// deployments use the redis ledger instead.
type MemoryReplayLedger struct {
	Now func() time.Time

	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	expiry     map[string]time.Time
	order      []string
}

func NewMemoryReplayLedger(defaultTTL time.Duration) *MemoryReplayLedger {
	return NewMemoryReplayLedgerWithLimits(defaultTTL, defaultReplayLedgerMaxEntries)
}

func NewMemoryReplayLedgerWithLimits(defaultTTL time.Duration, maxEntries int) *MemoryReplayLedger {
	if defaultTTL <= 0 {
		defaultTTL = defaultReplayLedgerTTL
	}
	if maxEntries <= 0 {
		maxEntries = defaultReplayLedgerMaxEntries
	}
	return &MemoryReplayLedger{ttl: defaultTTL, maxEntries: maxEntries, expiry: make(map[string]time.Time)}
}

// Claim returns true only for the first caller presenting key within ttl.
func (l *MemoryReplayLedger) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key = strings.TrimSpace(key); key == "" {
		return false, errors.New("core: replay key is required")
	}
	if ttl <= 0 {
		ttl = l.ttl
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()
	if until, seen := l.expiry[key]; seen && now.Before(until) {
		return false, nil
	}
	if _, seen := l.expiry[key]; !seen {
		l.order = append(l.order, key)
	}
	l.expiry[key] = now.Add(ttl)
	l.evict(now)
	return true, nil
}

// Len reports live claims.
func (l *MemoryReplayLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prune(l.now())
	return len(l.expiry)
}

func (l *MemoryReplayLedger) now() time.Time {
	if l.Now != nil {
		return l.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *MemoryReplayLedger) evict(now time.Time) {
	if len(l.expiry) <= l.maxEntries {
		return
	}
	l.prune(now)
	for len(l.expiry) > l.maxEntries {
		delete(l.expiry, l.order[0])
		l.order = l.order[1:]
	}
}

func (l *MemoryReplayLedger) prune(now time.Time) {
	kept := l.order[:0]
	for _, key := range l.order {
		if now.Before(l.expiry[key]) {
			kept = append(kept, key)
			continue
		}
		delete(l.expiry, key)
	}
	l.order = kept
}
