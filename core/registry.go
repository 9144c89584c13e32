package core

import (
	"fmt"
	"sort"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// ShimRegistry maps a domain to its shim. It is filled by the constructor and
// never written again, so concurrent readers need no locking.
type ShimRegistry struct {
	shims   map[string]Shim
	domains []string
}

func NewShimRegistry(shims ...Shim) (*ShimRegistry, error) {
	registry := &ShimRegistry{shims: make(map[string]Shim, len(shims))}
	for _, shim := range shims {
		if shim == nil {
			return nil, fmt.Errorf("core: shim is required")
		}
		domain := strings.TrimSpace(shim.Domain())
		if domain == "" {
			return nil, fmt.Errorf("core: shim domain is required")
		}
		if strings.Contains(domain, ":") {
			return nil, fmt.Errorf("core: shim domain %q is invalid", domain)
		}
		if _, exists := registry.shims[domain]; exists {
			return nil, fmt.Errorf("core: shim %q already registered", domain)
		}
		registry.shims[domain] = shim
		registry.domains = append(registry.domains, domain)
	}
	sort.Strings(registry.domains)
	return registry, nil
}

// MustShimRegistry panics on registration errors; intended for static wiring.
func MustShimRegistry(shims ...Shim) *ShimRegistry {
	registry, err := NewShimRegistry(shims...)
	if err != nil {
		panic(err)
	}
	return registry
}

func (r *ShimRegistry) Has(domain string) bool {
	if r == nil {
		return false
	}
	_, ok := r.shims[strings.TrimSpace(domain)]
	return ok
}

func (r *ShimRegistry) Get(domain string) (Shim, error) {
	domain = strings.TrimSpace(domain)
	if r != nil {
		if shim, ok := r.shims[domain]; ok {
			return shim, nil
		}
	}
	return nil, wrapShimError(ErrShimNotFound, goerrors.CategoryNotFound,
		fmt.Sprintf("domain %q is not registered", domain),
		map[string]any{"domain": domain},
	)
}

func (r *ShimRegistry) Domains() []string {
	if r == nil {
		return []string{}
	}
	return append([]string(nil), r.domains...)
}
