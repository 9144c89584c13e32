package shims

import (
	"errors"

	shimscommand "github.com/goliatone/go-shims/command"
	"github.com/goliatone/go-shims/core"
	shimsquery "github.com/goliatone/go-shims/query"
)

type CommandQueryService interface {
	shimscommand.MutatingService
	shimsquery.DataReader
}

type Commands struct {
	InitiateAuthorization *shimscommand.InitiateAuthorizationCommand
	CompleteAuthorization *shimscommand.CompleteAuthorizationCommand
	RefreshToken          *shimscommand.RefreshTokenCommand
}

type Queries struct {
	ReadData    *shimsquery.ReadDataQuery
	ListSchemas *shimsquery.ListSchemasQuery
	GetSchema   *shimsquery.GetSchemaQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

type FacadeOption func(*Facade)

// WithSchemaReader overrides the registry the schema queries list from.
func WithSchemaReader(reader shimsquery.SchemaReader) FacadeOption {
	return func(f *Facade) {
		if reader != nil {
			f.queries.ListSchemas = shimsquery.NewListSchemasQuery(reader)
			f.queries.GetSchema = shimsquery.NewGetSchemaQuery(reader)
		}
	}
}

// NewFacade wraps service in go-command commanders and queriers. Schema
// queries read from the service itself or, failing that, its registry.
func NewFacade(service CommandQueryService, opts ...FacadeOption) (*Facade, error) {
	if service == nil {
		return nil, errors.New("shims: command/query service is required")
	}
	reader := schemaReaderOf(service)
	f := &Facade{
		service: service,
		commands: Commands{
			InitiateAuthorization: shimscommand.NewInitiateAuthorizationCommand(service),
			CompleteAuthorization: shimscommand.NewCompleteAuthorizationCommand(service),
			RefreshToken:          shimscommand.NewRefreshTokenCommand(service),
		},
		queries: Queries{
			ReadData:    shimsquery.NewReadDataQuery(service),
			ListSchemas: shimsquery.NewListSchemasQuery(reader),
			GetSchema:   shimsquery.NewGetSchemaQuery(reader),
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f, nil
}

func (f *Facade) Commands() Commands { return f.commands }

func (f *Facade) Queries() Queries { return f.queries }

func (f *Facade) Service() CommandQueryService { return f.service }

func schemaReaderOf(service CommandQueryService) shimsquery.SchemaReader {
	switch typed := service.(type) {
	case shimsquery.SchemaReader:
		return typed
	case interface{ Registry() *core.ShimRegistry }:
		if registry := typed.Registry(); registry != nil {
			return registry
		}
	}
	return nil
}
