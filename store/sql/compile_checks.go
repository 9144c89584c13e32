package sqlstore

import "github.com/goliatone/go-shims/core"

var (
	_ core.AuthorizationInfoStore  = (*AuthorizationInfoStore)(nil)
	_ core.AuthorizationTokenStore = (*AuthorizationTokenStore)(nil)
	_ core.AuthorizationTokenStore = (*CachedTokenStore)(nil)
	_ core.DataStore               = (*DataStore)(nil)
)
