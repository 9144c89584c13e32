package providers

import "github.com/goliatone/go-shims/core"

var (
	_ core.AuthorizationEngine = (*OAuth1Engine)(nil)
	_ core.AuthorizationEngine = (*OAuth2Engine)(nil)
	_ core.AuthorizationEngine = (*FakedEngine)(nil)
)
