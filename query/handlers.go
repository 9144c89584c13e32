package query

import (
	"context"
	"sort"
	"strings"

	"github.com/goliatone/go-shims/core"
)

type DataReader interface {
	ReadData(ctx context.Context, req core.ReadRequest) (core.ReadResult, error)
}

// SchemaReader is satisfied by *core.ShimRegistry.
type SchemaReader interface {
	Domains() []string
	Get(domain string) (core.Shim, error)
}

// SchemaDescriptor names one schema and the versions its shim serves.
type SchemaDescriptor struct {
	SchemaID string `json:"schema_id"`
	Domain   string `json:"domain"`
	Versions []int  `json:"versions"`
}

type ReadDataQuery struct {
	reader DataReader
}

func NewReadDataQuery(reader DataReader) *ReadDataQuery {
	return &ReadDataQuery{reader: reader}
}

func (q *ReadDataQuery) Query(ctx context.Context, msg ReadDataMessage) (core.ReadResult, error) {
	if q == nil || q.reader == nil {
		return core.ReadResult{}, core.NewInternalError("query: data reader is required")
	}
	return q.reader.ReadData(ctx, msg.Request)
}

type ListSchemasQuery struct {
	reader SchemaReader
}

func NewListSchemasQuery(reader SchemaReader) *ListSchemasQuery {
	return &ListSchemasQuery{reader: reader}
}

func (q *ListSchemasQuery) Query(ctx context.Context, msg ListSchemasMessage) ([]SchemaDescriptor, error) {
	if q == nil || q.reader == nil {
		return nil, core.NewInternalError("query: schema reader is required")
	}
	domains := q.reader.Domains()
	if domain := strings.TrimSpace(msg.Domain); domain != "" {
		domains = []string{domain}
	}
	out := make([]SchemaDescriptor, 0)
	for _, domain := range domains {
		shim, err := q.reader.Get(domain)
		if err != nil {
			return nil, err
		}
		for _, schemaID := range shim.SchemaIDs() {
			out = append(out, SchemaDescriptor{
				SchemaID: schemaID,
				Domain:   shim.Domain(),
				Versions: shim.SchemaVersions(schemaID),
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SchemaID < out[j].SchemaID })
	return out, nil
}

type GetSchemaQuery struct {
	reader SchemaReader
}

func NewGetSchemaQuery(reader SchemaReader) *GetSchemaQuery {
	return &GetSchemaQuery{reader: reader}
}

func (q *GetSchemaQuery) Query(ctx context.Context, msg GetSchemaMessage) (core.Schema, error) {
	if q == nil || q.reader == nil {
		return core.Schema{}, core.NewInternalError("query: schema reader is required")
	}
	schemaID, err := core.ParseSchemaID(msg.SchemaID)
	if err != nil {
		return core.Schema{}, err
	}
	shim, err := q.reader.Get(schemaID.Domain)
	if err != nil {
		return core.Schema{}, err
	}
	version := msg.Version
	if version <= 0 {
		version = 1
	}
	return shim.Schema(schemaID.String(), version)
}
