// Package bluebutton publishes the Blue Button+ record types. The record
// transfer itself is not wired, so reads succeed with an empty page.
package bluebutton

import (
	"context"
	"time"

	"github.com/goliatone/go-shims/core"
	"github.com/goliatone/go-shims/providers"
)

const Domain = "blue_button_plus"

const (
	TypeDemographics = "demographics"
	TypeMedications  = "medications"
)

type Config struct {
	Now    func() time.Time
	Logger core.Logger
}

type Shim struct {
	providers.BaseShim
}

func New(cfg Config) (*Shim, error) {
	engine, err := providers.NewFakedEngine(providers.FakedConfig{
		Domain: Domain,
		Now:    cfg.Now,
		Logger: cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &Shim{BaseShim: providers.NewBaseShim(Domain, engine, schemas()...)}, nil
}

func (s *Shim) FetchData(_ context.Context, req core.FetchRequest) (core.FetchResult, error) {
	if _, err := s.ResolveSchema(req); err != nil {
		return core.FetchResult{}, err
	}
	// TODO: fetch the patient record once a Blue Button+ direct endpoint is configured.
	return core.FetchResult{Points: []core.DataPoint{}}, nil
}

func schemas() []core.Schema {
	return []core.Schema{
		{
			ID:      core.NewSchemaID(Domain, TypeDemographics).String(),
			Version: 1,
			Definition: map[string]any{
				"type": "object",
				"doc":  "Patient demographics.",
				"fields": []any{
					map[string]any{"name": "name", "type": "string", "doc": "Full name."},
					map[string]any{"name": "birth_date", "type": "string", "doc": "Date of birth."},
					map[string]any{"name": "gender", "type": "string", "doc": "Administrative gender.", "optional": true},
				},
			},
		},
		{
			ID:      core.NewSchemaID(Domain, TypeMedications).String(),
			Version: 1,
			Definition: map[string]any{
				"type": "object",
				"doc":  "Medication list entry.",
				"fields": []any{
					map[string]any{"name": "name", "type": "string", "doc": "Medication name."},
					map[string]any{"name": "dose", "type": "string", "doc": "Dose and unit.", "optional": true},
					map[string]any{"name": "status", "type": "string", "doc": "Active or discontinued.", "optional": true},
				},
			},
		},
	}
}

var _ core.Shim = (*Shim)(nil)
