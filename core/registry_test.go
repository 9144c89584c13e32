package core

import (
	"errors"
	"sync"
	"testing"
)

func TestShimRegistry_RegistersByDomain(t *testing.T) {
	registry, err := NewShimRegistry(newStubShim("withings", "weight_kg"), newStubShim("fitbit", "steps"))
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if !registry.Has("fitbit") || !registry.Has("withings") {
		t.Fatalf("expected both shims to be registered")
	}
	if registry.Has("twonet") {
		t.Fatalf("expected twonet to be absent")
	}
	domains := registry.Domains()
	if len(domains) != 2 || domains[0] != "fitbit" || domains[1] != "withings" {
		t.Fatalf("expected sorted domains, got %v", domains)
	}
	domains[0] = "mutated"
	if registry.Domains()[0] != "fitbit" {
		t.Fatalf("expected Domains to return a copy")
	}
	shim, err := registry.Get("fitbit")
	if err != nil || shim.Domain() != "fitbit" {
		t.Fatalf("expected fitbit shim, got %v err=%v", shim, err)
	}
}

func TestShimRegistry_RejectsInvalidRegistrations(t *testing.T) {
	if _, err := NewShimRegistry(newStubShim("fitbit"), newStubShim("fitbit")); err == nil {
		t.Fatalf("expected duplicate domain error")
	}
	if _, err := NewShimRegistry(newStubShim(" ")); err == nil {
		t.Fatalf("expected empty domain error")
	}
	if _, err := NewShimRegistry(nil); err == nil {
		t.Fatalf("expected nil shim error")
	}
}

func TestShimRegistry_GetUnknownIsNotFound(t *testing.T) {
	registry := MustShimRegistry(newStubShim("fitbit"))
	_, err := registry.Get("moves")
	if !errors.Is(err, ErrShimNotFound) {
		t.Fatalf("expected ErrShimNotFound, got %v", err)
	}
}

func TestShimRegistry_ConcurrentReads(t *testing.T) {
	registry := MustShimRegistry(newStubShim("fitbit"), newStubShim("withings"))
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				if _, err := registry.Get("fitbit"); err != nil {
					t.Errorf("get: %v", err)
					return
				}
				_ = registry.Domains()
			}
		}()
	}
	wg.Wait()
}
