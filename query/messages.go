package query

import (
	"strings"

	"github.com/goliatone/go-shims/core"
)

const (
	TypeReadData    = "shims.query.data.read"
	TypeListSchemas = "shims.query.schemas.list"
	TypeGetSchema   = "shims.query.schemas.get"
)

type ReadDataMessage struct {
	Request core.ReadRequest
}

func (ReadDataMessage) Type() string { return TypeReadData }

func (m ReadDataMessage) Validate() error {
	if strings.TrimSpace(m.Request.SchemaID) == "" {
		return core.NewValidationError("schema id is required", "schema_id")
	}
	if m.Request.Skip < 0 {
		return core.NewValidationError("num_to_skip must not be negative", "num_to_skip")
	}
	if m.Request.Limit < 0 {
		return core.NewValidationError("num_to_return must not be negative", "num_to_return")
	}
	return nil
}

// ListSchemasMessage lists every registered schema, or only Domain's when set.
type ListSchemasMessage struct {
	Domain string
}

func (ListSchemasMessage) Type() string { return TypeListSchemas }

func (ListSchemasMessage) Validate() error { return nil }

type GetSchemaMessage struct {
	SchemaID string
	Version  int
}

func (GetSchemaMessage) Type() string { return TypeGetSchema }

func (m GetSchemaMessage) Validate() error {
	if _, err := core.ParseSchemaID(m.SchemaID); err != nil {
		return err
	}
	if m.Version < 0 {
		return core.NewValidationError("query: version must not be negative", "version")
	}
	return nil
}
