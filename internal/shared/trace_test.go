package shared_test

import (
	"context"
	"testing"

	"github.com/basket/go-covenant/internal/shared"
)

func TestTraceIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	if got := shared.TraceID(ctx); got != "-" {
		t.Fatalf("TraceID on bare context = %q, want -", got)
	}

	id := shared.NewTraceID()
	if id == "" {
		t.Fatal("NewTraceID returned empty string")
	}
	ctx = shared.WithTraceID(ctx, id)
	if got := shared.TraceID(ctx); got != id {
		t.Fatalf("TraceID = %q, want %q", got, id)
	}
}

func TestActorDefaultsToLocal(t *testing.T) {
	ctx := context.Background()
	if got := shared.Actor(ctx); got != shared.DefaultActor {
		t.Fatalf("Actor on bare context = %q, want %q", got, shared.DefaultActor)
	}
	ctx = shared.WithActor(ctx, "ci-runner")
	if got := shared.Actor(ctx); got != "ci-runner" {
		t.Fatalf("Actor = %q", got)
	}
	if got := shared.Actor(shared.WithActor(context.Background(), "")); got != shared.DefaultActor {
		t.Fatalf("empty actor should fall back to default, got %q", got)
	}
}

func TestEventIDAbsentIsEmpty(t *testing.T) {
	ctx := context.Background()
	if got := shared.EventID(ctx); got != "" {
		t.Fatalf("EventID on bare context = %q, want empty", got)
	}
	ctx = shared.WithEventID(ctx, "evt-123")
	if got := shared.EventID(ctx); got != "evt-123" {
		t.Fatalf("EventID = %q", got)
	}
}
