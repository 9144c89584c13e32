package shims

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/goliatone/go-shims/core"
)

// ShimPack groups shims a downstream module contributes under one name.
type ShimPack struct {
	Name  string
	Shims []core.Shim
}

// ExtensionHooks collects shim packs registered next to the built-in shims.
// It is safe for concurrent registration, typically from init functions.
type ExtensionHooks struct {
	mu    sync.RWMutex
	packs map[string][]core.Shim
}

func NewExtensionHooks() *ExtensionHooks {
	return &ExtensionHooks{packs: make(map[string][]core.Shim)}
}

func (h *ExtensionHooks) RegisterShimPack(pack ShimPack) error {
	name := strings.TrimSpace(pack.Name)
	switch {
	case h == nil:
		return errors.New("shims: extension hooks are nil")
	case name == "":
		return errors.New("shims: shim pack name is required")
	case len(pack.Shims) == 0:
		return fmt.Errorf("shims: shim pack %q has no shims", name)
	case slices.Contains(pack.Shims, nil):
		return fmt.Errorf("shims: shim pack %q contains a nil shim", name)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.packs[name]; taken {
		return fmt.Errorf("shims: shim pack %q already registered", name)
	}
	h.packs[name] = slices.Clone(pack.Shims)
	return nil
}

// ShimPacks returns the registered packs ordered by name.
func (h *ExtensionHooks) ShimPacks() []ShimPack {
	if h == nil {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]ShimPack, 0, len(h.packs))
	for _, name := range slices.Sorted(maps.Keys(h.packs)) {
		out = append(out, ShimPack{Name: name, Shims: slices.Clone(h.packs[name])})
	}
	return out
}

// BuildRegistry returns a registry holding base followed by every pack's
// shims in pack name order. A domain claimed twice is an error.
func (h *ExtensionHooks) BuildRegistry(base ...core.Shim) (*core.ShimRegistry, error) {
	all := slices.Clone(base)
	for _, pack := range h.ShimPacks() {
		all = append(all, pack.Shims...)
	}
	return core.NewShimRegistry(all...)
}
