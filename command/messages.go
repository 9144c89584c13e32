package command

import (
	"strings"

	"github.com/goliatone/go-shims/core"
)

const (
	TypeInitiateAuthorization = "shims.command.authorization.initiate"
	TypeCompleteAuthorization = "shims.command.authorization.complete"
	TypeRefreshToken          = "shims.command.token.refresh"
)

type InitiateAuthorizationMessage struct {
	Request core.InitiateAuthorizationRequest
}

func (InitiateAuthorizationMessage) Type() string { return TypeInitiateAuthorization }

func (m InitiateAuthorizationMessage) Validate() error {
	if strings.TrimSpace(m.Request.Username) == "" {
		return core.NewValidationError("username is required", "username")
	}
	if strings.TrimSpace(m.Request.Domain) == "" {
		return core.NewValidationError("domain is required", "domain")
	}
	return nil
}

// CompleteAuthorizationMessage carries one provider callback delivery.
// Dispatching the same message twice replays the first outcome.
type CompleteAuthorizationMessage struct {
	Request *core.CallbackRequest
}

func NewCompleteAuthorizationMessage(params core.CallbackParams) CompleteAuthorizationMessage {
	return CompleteAuthorizationMessage{Request: core.NewCallbackRequest(params)}
}

func (CompleteAuthorizationMessage) Type() string { return TypeCompleteAuthorization }

func (m CompleteAuthorizationMessage) Validate() error {
	if m.Request == nil {
		return core.NewValidationError("command: callback request is required", "request")
	}
	if strings.TrimSpace(m.Request.Params.State) == "" {
		return core.NewValidationError("state is required", "state")
	}
	return nil
}

type RefreshTokenMessage struct {
	Request core.RefreshTokenRequest
}

func (RefreshTokenMessage) Type() string { return TypeRefreshToken }

func (m RefreshTokenMessage) Validate() error {
	if strings.TrimSpace(m.Request.Username) == "" {
		return core.NewValidationError("username is required", "username")
	}
	if strings.TrimSpace(m.Request.Domain) == "" {
		return core.NewValidationError("domain is required", "domain")
	}
	return nil
}
