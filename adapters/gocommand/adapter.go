// Package gocommand exposes the shim facade on the go-command dispatcher.
package gocommand

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	shims "github.com/goliatone/go-shims"
	shimscommand "github.com/goliatone/go-shims/command"
	"github.com/goliatone/go-shims/core"
	shimsquery "github.com/goliatone/go-shims/query"
)

var errNoRegistry = errors.New("gocommand: registry is not configured")

// ValidateMessageContract requires a non-empty Type() and runs Validate() when present.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	typed, ok := msg.(command.Message)
	switch {
	case !ok:
		return errors.New("gocommand: message must implement Type() string")
	case strings.TrimSpace(typed.Type()) == "":
		return errors.New("gocommand: message type is required")
	}
	return nil
}

// RegistryAdapter wraps a go-command registry. Resolvers added here run when
// the registry is initialized.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) ready() error {
	if a == nil || a.registry == nil {
		return errNoRegistry
	}
	return nil
}

// RegisterCommand registers a commander or querier.
func (a *RegistryAdapter) RegisterCommand(handler any) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.RegisterCommand(handler)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into a go-job queue registry.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return errors.New("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	return a.ready() == nil && a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if err := a.ready(); err != nil {
		return err
	}
	return a.registry.Initialize()
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// bind subscribes handler on the dispatcher and registers it. The subscription
// is dropped again when registration fails.
func bind(adapter *RegistryAdapter, handler any, subscribe func() commanddispatcher.Subscription) (commanddispatcher.Subscription, error) {
	if err := adapter.ready(); err != nil {
		return nil, err
	}
	sub := subscribe()
	if err := adapter.RegisterCommand(handler); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil, err
	}
	return sub, nil
}

func RegisterAndSubscribe[T any](adapter *RegistryAdapter, cmd command.Commander[T], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, errors.New("gocommand: command is required")
	}
	return bind(adapter, cmd, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeCommand(cmd, opts...)
	})
}

func RegisterAndSubscribeQuery[T any, R any](adapter *RegistryAdapter, qry command.Querier[T, R], opts ...runner.Option) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, errors.New("gocommand: query is required")
	}
	return bind(adapter, qry, func() commanddispatcher.Subscription {
		return commanddispatcher.SubscribeQuery(qry, opts...)
	})
}

// Subscriptions groups the dispatcher subscriptions created for a facade.
type Subscriptions []commanddispatcher.Subscription

func (s Subscriptions) Unsubscribe() {
	for _, sub := range s {
		if sub != nil {
			sub.Unsubscribe()
		}
	}
}

// RegisterFacade puts every facade command and query on the dispatcher so the
// shim service is reachable by message type. Nothing stays subscribed when an
// error is returned.
func RegisterFacade(adapter *RegistryAdapter, facade *shims.Facade, opts ...runner.Option) (Subscriptions, error) {
	if facade == nil {
		return nil, errors.New("gocommand: facade is required")
	}
	commands, queries := facade.Commands(), facade.Queries()

	binders := []func() (commanddispatcher.Subscription, error){
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[shimscommand.InitiateAuthorizationMessage](adapter, commands.InitiateAuthorization, opts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[shimscommand.CompleteAuthorizationMessage](adapter, commands.CompleteAuthorization, opts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribe[shimscommand.RefreshTokenMessage](adapter, commands.RefreshToken, opts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[shimsquery.ReadDataMessage, core.ReadResult](adapter, queries.ReadData, opts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[shimsquery.ListSchemasMessage, []shimsquery.SchemaDescriptor](adapter, queries.ListSchemas, opts...)
		},
		func() (commanddispatcher.Subscription, error) {
			return RegisterAndSubscribeQuery[shimsquery.GetSchemaMessage, core.Schema](adapter, queries.GetSchema, opts...)
		},
	}

	subs := make(Subscriptions, 0, len(binders))
	for _, bindOne := range binders {
		sub, err := bindOne()
		if err != nil {
			subs.Unsubscribe()
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}
