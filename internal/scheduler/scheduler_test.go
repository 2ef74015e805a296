package scheduler_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/go-covenant/internal/pattern"
	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/scheduler"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "covenant.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func resolveEvent(t *testing.T, store *persistence.Store) persistence.Event {
	t.Helper()
	ctx := context.Background()
	e, err := store.OpenEvent(ctx, "bluetooth speaker will not play", "audio/bluetooth")
	if err != nil {
		t.Fatalf("open event: %v", err)
	}
	h, err := store.AddHypothesis(ctx, persistence.Hypothesis{
		EventID:     e.ID,
		ModelType:   "stale pairing record",
		Probability: 0.6,
	})
	if err != nil {
		t.Fatalf("add hypothesis: %v", err)
	}
	test, err := store.RecordTest(ctx, persistence.Test{
		EventID:      e.ID,
		HypothesisID: h.ID,
		Description:  "re-pair the speaker",
		Result:       "plays",
	})
	if err != nil {
		t.Fatalf("record test: %v", err)
	}
	if _, err := store.RecordOutcome(ctx, persistence.Outcome{
		EventID:      e.ID,
		Summary:      "re-pair the speaker",
		EvidenceRefs: []string{test.ID},
	}); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	return e
}

func TestSweepCompilesBacklog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	resolveEvent(t, store)
	resolveEvent(t, store)
	if _, err := store.OpenEvent(ctx, "still open", ""); err != nil {
		t.Fatalf("open event: %v", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		Store:    store,
		Compiler: pattern.NewCompiler(store, nil),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	compiled, err := sched.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if compiled != 2 {
		t.Fatalf("compiled = %d, want 2", compiled)
	}

	patterns, err := store.ListPatterns(ctx)
	if err != nil {
		t.Fatalf("list patterns: %v", err)
	}
	if len(patterns) != 2 {
		t.Fatalf("corpus = %d, want 2", len(patterns))
	}

	// The sweep left one audit row under the scheduler actor.
	rows, err := store.QueryAudit(ctx, persistence.AuditFilter{Actor: scheduler.SweepActor})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(rows) != 1 || rows[0].ActionType != scheduler.SweepActionType {
		t.Fatalf("audit rows: %+v", rows)
	}
	// With no covenant activated the row records the none version.
	if rows[0].CovenantVersion != "none" {
		t.Fatalf("covenant_version = %q", rows[0].CovenantVersion)
	}
}

func TestSweepIsIdempotentOnDrainedBacklog(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	resolveEvent(t, store)

	sched, err := scheduler.New(scheduler.Config{
		Store:    store,
		Compiler: pattern.NewCompiler(store, nil),
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	if _, err := sched.Sweep(ctx); err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	compiled, err := sched.Sweep(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if compiled != 0 {
		t.Fatalf("second sweep compiled %d, want 0", compiled)
	}

	// Empty sweeps do not spam the ledger.
	rows, err := store.QueryAudit(ctx, persistence.AuditFilter{Actor: scheduler.SweepActor})
	if err != nil {
		t.Fatalf("query audit: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(rows))
	}
}

func TestSchedulerFiresWhenDue(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for a minute boundary")
	}
	store := openTestStore(t)
	ctx := context.Background()
	resolveEvent(t, store)

	// Every-minute schedule with a fast tick; the first due tick after
	// the minute boundary runs the sweep.
	sched, err := scheduler.New(scheduler.Config{
		Store:    store,
		Compiler: pattern.NewCompiler(store, nil),
		CronExpr: "* * * * *",
		Interval: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, 90*time.Second, func() bool {
		patterns, err := store.ListPatterns(ctx)
		return err == nil && len(patterns) > 0
	})
}

func TestNewRejectsBadCronExpr(t *testing.T) {
	_, err := scheduler.New(scheduler.Config{CronExpr: "not a schedule"})
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}
