package persistence_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/basket/go-covenant/internal/persistence"
)

func TestAppendAndQueryAudit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	id, err := store.AppendAudit(ctx, persistence.AuditAction{
		Actor:           "local",
		ActionType:      "fs_read",
		Scope:           "fs_read",
		Allowed:         true,
		CovenantVersion: "v1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id == "" {
		t.Fatal("append returned empty id")
	}

	rows, err := store.QueryAudit(ctx, persistence.AuditFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	got := rows[0]
	if got.ID != id || got.Actor != "local" || !got.Allowed || got.CovenantVersion != "v1" {
		t.Fatalf("unexpected row: %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("created_at not populated")
	}
}

func TestQueryAuditNewestFirstWithStableTieBreak(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Rows land within the same second; the id tie-break keeps the
	// ordering deterministic regardless of timestamp resolution.
	var ids []string
	for i := 0; i < 5; i++ {
		id, err := store.AppendAudit(ctx, persistence.AuditAction{
			Actor:      "local",
			ActionType: fmt.Sprintf("action-%d", i),
			Scope:      "fs_read",
			Allowed:    true,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		ids = append(ids, id)
	}

	rows, err := store.QueryAudit(ctx, persistence.AuditFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("got %d rows, want 5", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		prev, cur := rows[i-1], rows[i]
		if cur.CreatedAt.After(prev.CreatedAt) {
			t.Fatalf("rows not newest first at %d: %v then %v", i, prev.CreatedAt, cur.CreatedAt)
		}
		if cur.CreatedAt.Equal(prev.CreatedAt) && cur.ID > prev.ID {
			t.Fatalf("id tie-break not descending at %d: %s then %s", i, prev.ID, cur.ID)
		}
	}

	again, err := store.QueryAudit(ctx, persistence.AuditFilter{})
	if err != nil {
		t.Fatalf("requery: %v", err)
	}
	for i := range rows {
		if rows[i].ID != again[i].ID {
			t.Fatalf("ordering unstable at %d: %s vs %s", i, rows[i].ID, again[i].ID)
		}
	}
}

func TestQueryAuditFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	entries := []persistence.AuditAction{
		{Actor: "local", ActionType: "read", Scope: "fs_read", Allowed: true},
		{Actor: "scheduler", ActionType: "pattern_compile", Scope: "pattern_compile", Allowed: true},
		{Actor: "local", ActionType: "fetch", Scope: "net_fetch", Allowed: false, Reason: "scope not in covenant"},
	}
	for i, a := range entries {
		if _, err := store.AppendAudit(ctx, a); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	byScope, err := store.QueryAudit(ctx, persistence.AuditFilter{Scope: "net_fetch"})
	if err != nil {
		t.Fatalf("scope filter: %v", err)
	}
	if len(byScope) != 1 || byScope[0].Allowed {
		t.Fatalf("scope filter: %+v", byScope)
	}

	byActor, err := store.QueryAudit(ctx, persistence.AuditFilter{Actor: "local"})
	if err != nil {
		t.Fatalf("actor filter: %v", err)
	}
	if len(byActor) != 2 {
		t.Fatalf("actor filter: got %d rows, want 2", len(byActor))
	}

	limited, err := store.QueryAudit(ctx, persistence.AuditFilter{Limit: 2})
	if err != nil {
		t.Fatalf("limit: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit: got %d rows, want 2", len(limited))
	}

	future, err := store.QueryAudit(ctx, persistence.AuditFilter{Since: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("since filter: %v", err)
	}
	if len(future) != 0 {
		t.Fatalf("since in the future matched %d rows", len(future))
	}
}
