package providers

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-shims/core"
	"golang.org/x/sync/singleflight"
)

// TokenRefresher renews expired tokens before a data call. Concurrent
// refreshes of the same token inside the process share one engine call.
type TokenRefresher struct {
	group singleflight.Group
	now   func() time.Time
}

func NewTokenRefresher(now func() time.Time) *TokenRefresher {
	return &TokenRefresher{now: resolveClock(now)}
}

// Ensure returns a usable token. refreshed is non-nil only when a new token
// was minted and must be persisted by the caller.
func (r *TokenRefresher) Ensure(
	ctx context.Context,
	engine core.AuthorizationEngine,
	token core.AuthorizationToken,
) (current core.AuthorizationToken, refreshed *core.AuthorizationToken, err error) {
	if !token.IsExpired(r.now()) {
		return token, nil, nil
	}
	if engine == nil {
		return core.AuthorizationToken{}, nil, core.NewValidationError("providers: authorization engine is required", "engine")
	}
	if strings.TrimSpace(token.RefreshToken) == "" {
		return core.AuthorizationToken{}, nil, core.NewAuthorizationError(
			"authorization for "+token.Domain+" expired, authorize again",
			map[string]any{"domain": token.Domain, "username": token.Username},
		)
	}
	key := strings.Join([]string{token.Domain, token.Username, token.RefreshToken}, "\x00")
	value, err, _ := r.group.Do(key, func() (any, error) {
		return engine.Refresh(ctx, token)
	})
	if err != nil {
		return core.AuthorizationToken{}, nil, err
	}
	next := value.(core.AuthorizationToken)
	next.Username = token.Username
	next.Domain = token.Domain
	return next, &next, nil
}
