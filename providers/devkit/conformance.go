package devkit

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-shims/core"
)

// ValidateShimConformance checks the schema discovery half of the shim
// contract without touching the network.
func ValidateShimConformance(ctx context.Context, shim core.Shim) error {
	if shim == nil {
		return fmt.Errorf("devkit: shim is required")
	}
	domain := strings.TrimSpace(shim.Domain())
	if domain == "" {
		return fmt.Errorf("devkit: shim domain is required")
	}
	if shim.AuthorizationEngine() == nil {
		return fmt.Errorf("devkit: %s: authorization engine is required", domain)
	}
	ids := shim.SchemaIDs()
	if len(ids) == 0 {
		return fmt.Errorf("devkit: %s: at least one schema id is required", domain)
	}
	if !sort.StringsAreSorted(ids) {
		return fmt.Errorf("devkit: %s: schema ids must be sorted", domain)
	}
	prefix := core.SchemaPrefix(domain)
	for _, id := range ids {
		if !strings.HasPrefix(id, prefix) {
			return fmt.Errorf("devkit: %s: schema id %q lacks prefix %q", domain, id, prefix)
		}
		versions := shim.SchemaVersions(id)
		if len(versions) != 1 || versions[0] != 1 {
			return fmt.Errorf("devkit: %s: schema %q must publish version 1 only, got %v", domain, id, versions)
		}
		schema, err := shim.Schema(id, 1)
		if err != nil {
			return fmt.Errorf("devkit: %s: schema %q: %w", domain, id, err)
		}
		if schema.ID != id || schema.Version != 1 {
			return fmt.Errorf("devkit: %s: schema %q reported as %q v%d", domain, id, schema.ID, schema.Version)
		}
		if _, err := shim.Schema(id, 2); !isCategory(err, goerrors.CategoryNotFound) {
			return fmt.Errorf("devkit: %s: schema %q v2 should be not found, got %v", domain, id, err)
		}
	}
	if versions := shim.SchemaVersions(prefix + "devkit_unknown"); len(versions) != 0 {
		return fmt.Errorf("devkit: %s: unknown schema should have no versions", domain)
	}
	_, err := shim.FetchData(ctx, core.FetchRequest{
		SchemaID: "omh:devkit-foreign:thing",
		Version:  1,
		Token:    core.AuthorizationToken{Domain: domain, AccessToken: "x", ExpiresAt: core.NeverExpires},
		Limit:    1,
	})
	if !isCategory(err, goerrors.CategoryValidation) && !isCategory(err, goerrors.CategoryBadInput) {
		return fmt.Errorf("devkit: %s: foreign schema ids must be rejected as invalid, got %v", domain, err)
	}
	return nil
}

func ValidateReplayLedgerConformance(ctx context.Context, ledger core.ReplayLedger, key string) error {
	if ledger == nil {
		return fmt.Errorf("devkit: replay ledger is required")
	}
	claimed, err := ledger.Claim(ctx, key, time.Minute)
	if err != nil {
		return err
	}
	if !claimed {
		return fmt.Errorf("devkit: first claim should be accepted")
	}
	claimed, err = ledger.Claim(ctx, key, time.Minute)
	if err != nil {
		return err
	}
	if claimed {
		return fmt.Errorf("devkit: second claim should be rejected")
	}
	return nil
}

// ValidateTokenStoreConformance inserts three tokens out of expiration order
// and expects the latest-by-expiration one back.
func ValidateTokenStoreConformance(ctx context.Context, store core.AuthorizationTokenStore, username string, domain string) error {
	if store == nil {
		return fmt.Errorf("devkit: token store is required")
	}
	base := time.Date(2030, time.January, 1, 0, 0, 0, 0, time.UTC)
	for _, offset := range []int{100, 300, 200} {
		_, err := store.Insert(ctx, core.AuthorizationToken{
			Username:     username,
			Domain:       domain,
			AccessToken:  fmt.Sprintf("access-%d", offset),
			RefreshToken: fmt.Sprintf("refresh-%d", offset),
			ExpiresAt:    base.Add(time.Duration(offset) * time.Second),
		})
		if err != nil {
			return err
		}
	}
	latest, found, err := store.Latest(ctx, username, domain)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("devkit: expected a latest token for %s/%s", username, domain)
	}
	if latest.AccessToken != "access-300" || latest.RefreshToken != "refresh-300" {
		return fmt.Errorf("devkit: expected the latest-expiring token, got %q", latest.AccessToken)
	}
	if latest.ID == "" {
		return fmt.Errorf("devkit: stored tokens must carry an id")
	}
	if _, found, err := store.Latest(ctx, username+"-other", domain); err != nil {
		return err
	} else if found {
		return fmt.Errorf("devkit: tokens must not leak across users")
	}
	return nil
}

func isCategory(err error, category goerrors.Category) bool {
	if err == nil {
		return false
	}
	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		return rich.Category == category
	}
	return errors.Is(err, core.ErrUnsupportedOperation) && category == goerrors.CategoryOperation
}
