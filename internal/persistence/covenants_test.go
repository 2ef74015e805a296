package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/go-covenant/internal/persistence"
)

func TestActivateCovenantAndCurrent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.ActivateCovenant(ctx, "v1", []string{"fs_read", "net_fetch"}); err != nil {
		t.Fatalf("activate v1: %v", err)
	}
	if err := store.ActivateCovenant(ctx, "v2", []string{"fs_read"}); err != nil {
		t.Fatalf("activate v2: %v", err)
	}

	version, ok, err := store.CurrentCovenantVersion(ctx)
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if !ok || version != "v2" {
		t.Fatalf("current version = %q ok=%v, want v2", version, ok)
	}
}

func TestActivateCovenantDuplicateVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.ActivateCovenant(ctx, "v1", []string{"fs_read"}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	err := store.ActivateCovenant(ctx, "v1", []string{"net_fetch"})
	if !errors.Is(err, persistence.ErrDuplicateVersion) {
		t.Fatalf("re-activate v1: got %v, want ErrDuplicateVersion", err)
	}

	// The failed activation must not have touched the registered scopes.
	ok, err := store.IsScopeAllowed(ctx, "v1", "net_fetch")
	if err != nil {
		t.Fatalf("scope check: %v", err)
	}
	if ok {
		t.Fatal("net_fetch allowed under v1 after rejected duplicate")
	}
}

func TestHistoricalVersionsStayQueryable(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.ActivateCovenant(ctx, "v1", []string{"proc_spawn"}); err != nil {
		t.Fatalf("activate v1: %v", err)
	}
	if err := store.ActivateCovenant(ctx, "v2", []string{"fs_read"}); err != nil {
		t.Fatalf("activate v2: %v", err)
	}

	// v1 is no longer current but its scope set is unchanged.
	ok, err := store.IsScopeAllowed(ctx, "v1", "proc_spawn")
	if err != nil {
		t.Fatalf("scope check v1: %v", err)
	}
	if !ok {
		t.Fatal("proc_spawn should still be allowed under historical v1")
	}
}

func TestIsScopeAllowedUnknownVersion(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.ActivateCovenant(ctx, "v1", []string{"fs_read"}); err != nil {
		t.Fatalf("activate: %v", err)
	}

	// No fallback to the current version for unknown ones.
	_, err := store.IsScopeAllowed(ctx, "v99", "fs_read")
	if !errors.Is(err, persistence.ErrUnknownVersion) {
		t.Fatalf("unknown version: got %v, want ErrUnknownVersion", err)
	}
}

func TestListCovenantsOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"v1", "v2", "v3"} {
		if err := store.ActivateCovenant(ctx, v, nil); err != nil {
			t.Fatalf("activate %s: %v", v, err)
		}
	}

	covenants, err := store.ListCovenants(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(covenants) != 3 {
		t.Fatalf("got %d covenants, want 3", len(covenants))
	}
	for i, want := range []string{"v1", "v2", "v3"} {
		if covenants[i].Version != want {
			t.Errorf("covenants[%d] = %q, want %q", i, covenants[i].Version, want)
		}
	}
}
