package sqlstore

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-shims/core"
)

const latestTokenCacheKeyPrefix = "go-shims::token_latest::v1"

// CachedTokenStore fronts a token store with a read-through cache for
// Latest. Inserts made through it drop the cached entry for the owner.
type CachedTokenStore struct {
	base  core.AuthorizationTokenStore
	cache repositorycache.CacheService
}

type latestToken struct {
	Token core.AuthorizationToken
	Found bool
}

func NewCachedTokenStore(base core.AuthorizationTokenStore, cacheService repositorycache.CacheService) (*CachedTokenStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base token store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: token cache service is required")
	}
	return &CachedTokenStore{base: base, cache: cacheService}, nil
}

// LatestTokenCacheKey is go-shims::token_latest::v1::<username>::<domain>
// with both segments path escaped.
func LatestTokenCacheKey(username string, domain string) string {
	return strings.Join([]string{
		latestTokenCacheKeyPrefix,
		url.PathEscape(strings.TrimSpace(username)),
		url.PathEscape(strings.TrimSpace(domain)),
	}, "::")
}

func (s *CachedTokenStore) Insert(ctx context.Context, token core.AuthorizationToken) (core.AuthorizationToken, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.AuthorizationToken{}, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	stored, err := s.base.Insert(ctx, token)
	if err != nil {
		return core.AuthorizationToken{}, err
	}
	if err := s.cache.Delete(ctx, LatestTokenCacheKey(stored.Username, stored.Domain)); err != nil {
		return core.AuthorizationToken{}, err
	}
	return stored, nil
}

func (s *CachedTokenStore) Latest(ctx context.Context, username string, domain string) (core.AuthorizationToken, bool, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.AuthorizationToken{}, false, fmt.Errorf("sqlstore: cached token store is not configured")
	}
	cached, err := repositorycache.GetOrFetch(ctx, s.cache, LatestTokenCacheKey(username, domain),
		func(ctx context.Context) (latestToken, error) {
			token, found, err := s.base.Latest(ctx, username, domain)
			if err != nil {
				return latestToken{}, err
			}
			return latestToken{Token: token, Found: found}, nil
		},
	)
	if err != nil {
		return core.AuthorizationToken{}, false, err
	}
	token := cached.Token
	token.Extras = token.Extras.Clone()
	return token, cached.Found, nil
}

var _ core.AuthorizationTokenStore = (*CachedTokenStore)(nil)
