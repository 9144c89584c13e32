package core

import (
	"sort"
	"strconv"
	"strings"
)

const SchemaNamespace = "omh"

// SchemaID is the parsed form of "<namespace>:<domain>:<type>".
type SchemaID struct {
	Namespace string
	Domain    string
	Type      string
}

func ParseSchemaID(raw string) (SchemaID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SchemaID{}, NewValidationError("schema id is required", "schema_id")
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return SchemaID{}, NewValidationError("schema id "+raw+" is malformed, expected namespace:domain:type", "schema_id")
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return SchemaID{}, NewValidationError("schema id "+raw+" is malformed, expected namespace:domain:type", "schema_id")
		}
	}
	return SchemaID{Namespace: parts[0], Domain: parts[1], Type: parts[2]}, nil
}

func NewSchemaID(domain string, typ string) SchemaID {
	return SchemaID{Namespace: SchemaNamespace, Domain: domain, Type: typ}
}

func (id SchemaID) String() string {
	return id.Namespace + ":" + id.Domain + ":" + id.Type
}

// SchemaPrefix returns the prefix every schema served by domain carries.
func SchemaPrefix(domain string) string {
	return SchemaNamespace + ":" + domain + ":"
}

// SchemaCatalog is an immutable version-1 schema set for one shim.
type SchemaCatalog struct {
	domain  string
	schemas map[string]Schema
	ids     []string
}

func NewSchemaCatalog(domain string, schemas ...Schema) SchemaCatalog {
	catalog := SchemaCatalog{domain: domain, schemas: make(map[string]Schema, len(schemas))}
	for _, schema := range schemas {
		catalog.schemas[schema.ID] = schema
	}
	catalog.ids = make([]string, 0, len(catalog.schemas))
	for id := range catalog.schemas {
		catalog.ids = append(catalog.ids, id)
	}
	sort.Strings(catalog.ids)
	return catalog
}

func (c SchemaCatalog) IDs() []string {
	return append([]string(nil), c.ids...)
}

func (c SchemaCatalog) Versions(id string) []int {
	schema, ok := c.schemas[strings.TrimSpace(id)]
	if !ok {
		return []int{}
	}
	return []int{schema.Version}
}

func (c SchemaCatalog) Schema(id string, version int) (Schema, error) {
	id = strings.TrimSpace(id)
	schema, ok := c.schemas[id]
	if !ok || schema.Version != version {
		return Schema{}, NewNotFoundError("schema "+id+" is not served by "+c.domain, map[string]any{
			"schema_id": id,
			"version":   version,
			"domain":    c.domain,
		})
	}
	return schema, nil
}

// Resolve validates that raw belongs to this catalog and returns its parsed form.
func (c SchemaCatalog) Resolve(raw string, version int) (SchemaID, error) {
	parsed, err := ParseSchemaID(raw)
	if err != nil {
		return SchemaID{}, err
	}
	if parsed.Domain != c.domain {
		return SchemaID{}, NewValidationError("schema id "+raw+" does not belong to "+c.domain, "schema_id")
	}
	schema, ok := c.schemas[parsed.String()]
	if !ok {
		return SchemaID{}, NewValidationError("schema id "+raw+" is not served by "+c.domain, "schema_id")
	}
	if schema.Version != version {
		return SchemaID{}, NewValidationError("schema "+raw+" has no version "+strconv.Itoa(version), "version")
	}
	return parsed, nil
}
