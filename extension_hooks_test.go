package shims

import (
	"testing"

	"github.com/goliatone/go-shims/core"
	"github.com/goliatone/go-shims/providers/bluebutton"
)

func TestExtensionHooks_RegisterAndBuildRegistry(t *testing.T) {
	shim, err := BlueButtonShim(bluebutton.Config{})
	if err != nil {
		t.Fatalf("new shim: %v", err)
	}
	hooks := NewExtensionHooks()
	pack := ShimPack{Name: "records-pack", Shims: []core.Shim{shim}}
	if err := hooks.RegisterShimPack(pack); err != nil {
		t.Fatalf("register shim pack: %v", err)
	}
	if err := hooks.RegisterShimPack(pack); err == nil {
		t.Fatalf("expected duplicate shim pack registration error")
	}
	if err := hooks.RegisterShimPack(ShimPack{Name: "empty"}); err == nil {
		t.Fatalf("expected empty pack to be rejected")
	}

	registry, err := hooks.BuildRegistry()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	if !registry.Has(bluebutton.Domain) {
		t.Fatalf("expected shim pack registration in registry")
	}
	if _, err := hooks.BuildRegistry(shim); err == nil {
		t.Fatalf("expected a domain claimed twice to fail")
	}
}

func TestExtensionHooks_PacksAreOrderedAndCopied(t *testing.T) {
	shim, err := BlueButtonShim(bluebutton.Config{})
	if err != nil {
		t.Fatalf("new shim: %v", err)
	}
	hooks := NewExtensionHooks()
	for _, name := range []string{"zeta", " alpha "} {
		if err := hooks.RegisterShimPack(ShimPack{Name: name, Shims: []core.Shim{shim}}); err != nil {
			t.Fatalf("register %q: %v", name, err)
		}
	}
	if err := hooks.RegisterShimPack(ShimPack{Name: "nil", Shims: []core.Shim{nil}}); err == nil {
		t.Fatalf("expected nil shim to be rejected")
	}

	packs := hooks.ShimPacks()
	if len(packs) != 2 || packs[0].Name != "alpha" || packs[1].Name != "zeta" {
		t.Fatalf("unexpected packs %#v", packs)
	}
	packs[0].Shims[0] = nil
	if hooks.ShimPacks()[0].Shims[0] == nil {
		t.Fatalf("expected ShimPacks to return copies")
	}
}
