package ratelimit

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is what the policy remembers about one provider host.
type State struct {
	Host           string
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Attempts       int
	UpdatedAt      time.Time
}

// blockedFor reports how long calls to the host must still wait at now,
// taking the longer of the backoff window and an exhausted quota.
func (s State) blockedFor(now time.Time) (time.Duration, bool) {
	var wait time.Duration
	if s.ThrottledUntil != nil && s.ThrottledUntil.After(now) {
		wait = s.ThrottledUntil.Sub(now)
	}
	if s.Remaining == 0 && s.ResetAt != nil && s.ResetAt.After(now) {
		wait = max(wait, s.ResetAt.Sub(now))
	}
	return wait, wait > 0
}

type StateStore interface {
	Get(ctx context.Context, host string) (State, error)
	Upsert(ctx context.Context, state State) error
}

// MemoryStateStore keeps host state for the life of the process.
type MemoryStateStore struct {
	mu    sync.RWMutex
	hosts map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{hosts: make(map[string]State)}
}

func (s *MemoryStateStore) Get(_ context.Context, host string) (State, error) {
	s.mu.RLock()
	state, ok := s.hosts[normalizeHost(host)]
	s.mu.RUnlock()
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	state.Host = normalizeHost(state.Host)
	s.mu.Lock()
	s.hosts[state.Host] = state
	s.mu.Unlock()
	return nil
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}
