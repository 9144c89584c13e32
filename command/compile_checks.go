package command

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-shims/core"
)

var (
	_ gocmd.Commander[InitiateAuthorizationMessage] = (*InitiateAuthorizationCommand)(nil)
	_ gocmd.Commander[CompleteAuthorizationMessage] = (*CompleteAuthorizationCommand)(nil)
	_ gocmd.Commander[RefreshTokenMessage]          = (*RefreshTokenCommand)(nil)

	_ MutatingService = (*core.Service)(nil)
)
