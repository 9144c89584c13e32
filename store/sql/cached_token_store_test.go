package sqlstore

import (
	"context"
	"sync"
	"testing"
	"time"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shims/core"
)

type stubTokenStore struct {
	mu          sync.Mutex
	tokens      []core.AuthorizationToken
	latestCalls int
	insertCalls int
}

func (s *stubTokenStore) Insert(_ context.Context, token core.AuthorizationToken) (core.AuthorizationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertCalls++
	s.tokens = append(s.tokens, token)
	return token, nil
}

func (s *stubTokenStore) Latest(_ context.Context, username string, domain string) (core.AuthorizationToken, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestCalls++
	for index := len(s.tokens) - 1; index >= 0; index-- {
		if s.tokens[index].Username == username && s.tokens[index].Domain == domain {
			return s.tokens[index], true, nil
		}
	}
	return core.AuthorizationToken{}, false, nil
}

func (s *stubTokenStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestCalls
}

func newTestTokenCacheService(t *testing.T) repositorycache.CacheService {
	t.Helper()
	config := repositorycache.DefaultConfig()
	config.TTL = time.Minute
	service, err := repositorycache.NewCacheService(config)
	if err != nil {
		t.Fatalf("new cache service: %v", err)
	}
	return service
}

func TestCachedTokenStore_Latest_MissFetchThenHit(t *testing.T) {
	base := &stubTokenStore{}
	store, err := NewCachedTokenStore(base, newTestTokenCacheService(t))
	if err != nil {
		t.Fatalf("new cached token store: %v", err)
	}
	ctx := context.Background()
	if _, err := base.Insert(ctx, core.AuthorizationToken{Username: "alice", Domain: "fitbit", AccessToken: "a1", ExpiresAt: core.NeverExpires}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	first, found, err := store.Latest(ctx, "alice", "fitbit")
	if err != nil || !found || first.AccessToken != "a1" {
		t.Fatalf("first latest: %#v found=%v err=%v", first, found, err)
	}
	if _, _, err := store.Latest(ctx, "alice", "fitbit"); err != nil {
		t.Fatalf("second latest: %v", err)
	}
	if base.calls() != 1 {
		t.Fatalf("expected second latest to be a cache hit, base calls=%d", base.calls())
	}
}

func TestCachedTokenStore_InsertInvalidatesOwner(t *testing.T) {
	base := &stubTokenStore{}
	store, err := NewCachedTokenStore(base, newTestTokenCacheService(t))
	if err != nil {
		t.Fatalf("new cached token store: %v", err)
	}
	ctx := context.Background()

	if _, found, err := store.Latest(ctx, "alice", "fitbit"); err != nil || found {
		t.Fatalf("expected cached miss, found=%v err=%v", found, err)
	}
	if _, err := store.Insert(ctx, core.AuthorizationToken{Username: "alice", Domain: "fitbit", AccessToken: "a2", ExpiresAt: core.NeverExpires}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	latest, found, err := store.Latest(ctx, "alice", "fitbit")
	if err != nil || !found || latest.AccessToken != "a2" {
		t.Fatalf("expected fresh token after insert, got %#v found=%v err=%v", latest, found, err)
	}
	if base.calls() != 2 {
		t.Fatalf("expected insert to force a refetch, base calls=%d", base.calls())
	}
}

func TestLatestTokenCacheKey_EscapesSegments(t *testing.T) {
	got := LatestTokenCacheKey(" a/b ", "fit bit")
	if got != "go-shims::token_latest::v1::a%2Fb::fit%20bit" {
		t.Fatalf("unexpected cache key %q", got)
	}
}

func TestNewCachedTokenStore_RequiresDependencies(t *testing.T) {
	if _, err := NewCachedTokenStore(nil, newTestTokenCacheService(t)); err == nil {
		t.Fatalf("expected missing base store to fail")
	}
	if _, err := NewCachedTokenStore(&stubTokenStore{}, nil); err == nil {
		t.Fatalf("expected missing cache service to fail")
	}
}
