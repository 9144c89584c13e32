package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-shims/core"
)

type MutatingService interface {
	InitiateAuthorization(ctx context.Context, req core.InitiateAuthorizationRequest) (core.InitiateAuthorizationResult, error)
	CompleteAuthorization(ctx context.Context, req *core.CallbackRequest) (core.CompletionResult, error)
	RefreshToken(ctx context.Context, req core.RefreshTokenRequest) (core.AuthorizationToken, error)
}

type InitiateAuthorizationCommand struct {
	service MutatingService
}

func NewInitiateAuthorizationCommand(service MutatingService) *InitiateAuthorizationCommand {
	return &InitiateAuthorizationCommand{service: service}
}

func (c *InitiateAuthorizationCommand) Execute(ctx context.Context, msg InitiateAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: authorization service is required")
	}
	out, err := c.service.InitiateAuthorization(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CompleteAuthorizationCommand struct {
	service MutatingService
}

func NewCompleteAuthorizationCommand(service MutatingService) *CompleteAuthorizationCommand {
	return &CompleteAuthorizationCommand{service: service}
}

func (c *CompleteAuthorizationCommand) Execute(ctx context.Context, msg CompleteAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: callback service is required")
	}
	if msg.Request == nil {
		return core.NewValidationError("command: callback request is required", "request")
	}
	out, err := c.service.CompleteAuthorization(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshTokenCommand struct {
	service MutatingService
}

func NewRefreshTokenCommand(service MutatingService) *RefreshTokenCommand {
	return &RefreshTokenCommand{service: service}
}

func (c *RefreshTokenCommand) Execute(ctx context.Context, msg RefreshTokenMessage) error {
	if c == nil || c.service == nil {
		return core.NewInternalError("command: refresh service is required")
	}
	out, err := c.service.RefreshToken(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
