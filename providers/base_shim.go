package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/goliatone/go-shims/core"
)

// BaseShim carries the discovery half of the shim contract. Concrete shims
// embed it and add FetchData.
type BaseShim struct {
	domain  string
	engine  core.AuthorizationEngine
	catalog core.SchemaCatalog
}

func NewBaseShim(domain string, engine core.AuthorizationEngine, schemas ...core.Schema) BaseShim {
	domain = strings.TrimSpace(domain)
	return BaseShim{
		domain:  domain,
		engine:  engine,
		catalog: core.NewSchemaCatalog(domain, schemas...),
	}
}

func (b BaseShim) Domain() string { return b.domain }

func (b BaseShim) AuthorizationEngine() core.AuthorizationEngine { return b.engine }

func (b BaseShim) SchemaIDs() []string { return b.catalog.IDs() }

func (b BaseShim) SchemaVersions(schemaID string) []int { return b.catalog.Versions(schemaID) }

func (b BaseShim) Schema(schemaID string, version int) (core.Schema, error) {
	return b.catalog.Schema(schemaID, version)
}

// ResolveSchema validates a fetch request against the catalog. A zero version
// means version 1.
func (b BaseShim) ResolveSchema(req core.FetchRequest) (core.SchemaID, error) {
	version := req.Version
	if version <= 0 {
		version = 1
	}
	return b.catalog.Resolve(req.SchemaID, version)
}

// DoJSON performs req and decodes a 200 JSON response into target.
func DoJSON(
	ctx context.Context,
	adapter core.TransportAdapter,
	domain string,
	operation string,
	req core.TransportRequest,
	target any,
) error {
	res, err := ResolveTransport(adapter).Do(ctx, req)
	if err != nil {
		return providerWrapError(err, domain, operation+" request failed", map[string]any{"operation": operation})
	}
	if err := ExpectStatus(domain, operation, res); err != nil {
		return err
	}
	if err := json.Unmarshal(res.Body, target); err != nil {
		return providerWrapError(err, domain, operation+" response is not valid json", map[string]any{"operation": operation})
	}
	return nil
}

// MalformedResponse reports a 200 response whose shape is unusable.
func MalformedResponse(domain string, operation string, detail string) error {
	return providerError(domain, operation+" response is malformed: "+detail, map[string]any{"operation": operation})
}
