package persistence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/basket/go-covenant/internal/persistence"
)

func resolveTestEvent(t *testing.T, store *persistence.Store) persistence.Event {
	t.Helper()
	ctx := context.Background()
	e, h := openEventWithHypothesis(t, store)
	test, err := store.RecordTest(ctx, persistence.Test{
		EventID:      e.ID,
		HypothesisID: h.ID,
		Description:  "re-pair the speaker",
		Result:       "plays",
		EvidenceRef:  "log:" + e.ID,
	})
	if err != nil {
		t.Fatalf("record test: %v", err)
	}
	if _, err := store.RecordOutcome(ctx, persistence.Outcome{
		EventID:      e.ID,
		Summary:      "stale pairing record",
		EvidenceRefs: []string{test.ID},
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	return e
}

func TestInsertPatternRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	e := resolveTestEvent(t, store)

	p, err := store.InsertPattern(ctx, persistence.Pattern{
		EventID:         e.ID,
		Trigger:         "restore audio playback bluetooth speaker will not play",
		Invariant:       "pairing records go stale across firmware updates",
		Counterexample:  "stale pairing record",
		BestResponse:    "re-pair the speaker",
		DomainSignature: "audio/bluetooth",
		EvidenceRefs:    []string{"log:" + e.ID},
	})
	if err != nil {
		t.Fatalf("insert pattern: %v", err)
	}
	if p.ID == "" || p.CreatedAt.IsZero() {
		t.Fatalf("identity not populated: %+v", p)
	}

	got, err := store.GetPattern(ctx, p.ID)
	if err != nil {
		t.Fatalf("get pattern: %v", err)
	}
	if got.Trigger != p.Trigger || got.BestResponse != p.BestResponse {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
	if len(got.EvidenceRefs) != 1 || got.EvidenceRefs[0] != "log:"+e.ID {
		t.Fatalf("evidence refs: %+v", got.EvidenceRefs)
	}
}

func TestInsertPatternRequiresResolvedEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	open, _ := openEventWithHypothesis(t, store)
	_, err := store.InsertPattern(ctx, persistence.Pattern{
		EventID: open.ID,
		Trigger: "anything",
	})
	if !errors.Is(err, persistence.ErrEventNotResolved) {
		t.Fatalf("open event: got %v, want ErrEventNotResolved", err)
	}

	_, err = store.InsertPattern(ctx, persistence.Pattern{
		EventID: "no-such-event",
		Trigger: "anything",
	})
	if !errors.Is(err, persistence.ErrEventNotFound) {
		t.Fatalf("missing event: got %v, want ErrEventNotFound", err)
	}
}

func TestListPatternsNewestFirst(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		e := resolveTestEvent(t, store)
		if _, err := store.InsertPattern(ctx, persistence.Pattern{
			EventID: e.ID,
			Trigger: "trigger",
		}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	patterns, err := store.ListPatterns(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(patterns) != 3 {
		t.Fatalf("got %d patterns, want 3", len(patterns))
	}
	for i := 1; i < len(patterns); i++ {
		if patterns[i].CreatedAt.After(patterns[i-1].CreatedAt) {
			t.Fatalf("not newest first at %d", i)
		}
	}
}

func TestHasPattern(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	e := resolveTestEvent(t, store)

	ok, err := store.HasPattern(ctx, e.ID)
	if err != nil || ok {
		t.Fatalf("before compile: ok=%v err=%v", ok, err)
	}
	if _, err := store.InsertPattern(ctx, persistence.Pattern{EventID: e.ID, Trigger: "t"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	ok, err = store.HasPattern(ctx, e.ID)
	if err != nil || !ok {
		t.Fatalf("after compile: ok=%v err=%v", ok, err)
	}
}
