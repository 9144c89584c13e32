package core

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

// CfgxConfigProvider decodes a raw map over the defaults with cfgx and
// validates the result.
type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil || p.Loader == nil {
		return buildConfig(map[string]any{}, defaults)
	}
	raw, err := p.Loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, fmt.Errorf("core: load raw config: %w", err)
	}
	return buildConfig(raw, defaults)
}

func buildConfig(raw map[string]any, defaults Config) (Config, error) {
	return cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
}

// GoOptionsResolver layers defaults < loaded < runtime with go-options. Zero
// values in the loaded and runtime layers count as unset.
type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), configLayer(reflect.ValueOf(defaults), true),
			opts.WithSnapshotID[map[string]any]("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), configLayer(reflect.ValueOf(loaded), false),
			opts.WithSnapshotID[map[string]any]("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), configLayer(reflect.ValueOf(runtime), false),
			opts.WithSnapshotID[map[string]any]("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: build options stack: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: merge options: %w", err)
	}
	return buildConfig(merged.Value, defaults)
}

// configLayer walks a config struct by its koanf tags. Nested structs become
// nested maps; provider entries are copied whole so a partial override never
// mixes credentials from two layers.
func configLayer(v reflect.Value, keepZero bool) map[string]any {
	layer := map[string]any{}
	t := v.Type()
	for i := range t.NumField() {
		key := t.Field(i).Tag.Get("koanf")
		if key == "" {
			continue
		}
		field := v.Field(i)
		switch field.Kind() {
		case reflect.Struct:
			if nested := configLayer(field, keepZero); len(nested) > 0 {
				layer[key] = nested
			}
		case reflect.Map:
			if field.Len() == 0 && !keepZero {
				continue
			}
			entries := make(map[string]any, field.Len())
			iter := field.MapRange()
			for iter.Next() {
				entries[strings.TrimSpace(iter.Key().String())] = configLayer(iter.Value(), true)
			}
			layer[key] = entries
		default:
			if keepZero || !field.IsZero() {
				layer[key] = field.Interface()
			}
		}
	}
	return layer
}
