package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-shims/core"
)

var (
	_ gocmd.Querier[ReadDataMessage, core.ReadResult]       = (*ReadDataQuery)(nil)
	_ gocmd.Querier[ListSchemasMessage, []SchemaDescriptor] = (*ListSchemasQuery)(nil)
	_ gocmd.Querier[GetSchemaMessage, core.Schema]          = (*GetSchemaQuery)(nil)

	_ DataReader   = (*core.Service)(nil)
	_ SchemaReader = (*core.ShimRegistry)(nil)
)
