// Package scheduler runs the periodic pattern compile sweep: resolved
// events that have no pattern yet are compiled into the corpus on a
// cron schedule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	cotel "github.com/basket/go-covenant/internal/otel"
	"github.com/basket/go-covenant/internal/pattern"
	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/shared"
)

// SweepActor and SweepActionType identify compile-sweep rows in the
// audit ledger.
const (
	SweepActor      = "scheduler"
	SweepActionType = "pattern_compile"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the compile scheduler.
type Config struct {
	Store    *persistence.Store
	Compiler *pattern.Compiler
	Logger   *slog.Logger
	Metrics  *cotel.Metrics
	CronExpr string        // compile schedule; defaults to hourly if empty
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically sweeps resolved-but-uncompiled events into
// patterns. Each sweep that compiles at least one pattern writes one
// audit row so the ledger shows when background compilation ran.
type Scheduler struct {
	store    *persistence.Store
	compiler *pattern.Compiler
	logger   *slog.Logger
	metrics  *cotel.Metrics
	schedule cronlib.Schedule
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	nextRun time.Time
}

// New creates a Scheduler with the given config. The cron expression is
// validated here so a bad schedule fails at startup, not at first tick.
func New(cfg Config) (*Scheduler, error) {
	expr := cfg.CronExpr
	if expr == "" {
		expr = "0 * * * *"
	}
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		compiler: cfg.Compiler,
		logger:   logger,
		metrics:  cfg.Metrics,
		schedule: schedule,
		interval: interval,
		nextRun:  schedule.Next(time.Now()),
	}, nil
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("compile scheduler started", "interval", s.interval, "next_run", s.nextRun)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("compile scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	due := !now.Before(s.nextRun)
	if due {
		s.nextRun = s.schedule.Next(now)
	}
	s.mu.Unlock()
	if !due {
		return
	}
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Error("compile sweep failed", "error", err)
	}
}

// Sweep compiles every resolved event without a pattern and returns how
// many patterns were added. A sweep that compiled anything appends one
// audit row under the scheduler actor. Per-event failures are logged and
// skipped so one broken event cannot wedge the backlog.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	pending, err := s.store.ListUncompiledResolved(ctx)
	if err != nil {
		return 0, err
	}
	if s.metrics != nil {
		s.metrics.CompileRuns.Add(ctx, 1)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	compiled := 0
	for _, event := range pending {
		if _, err := s.compiler.CompileAndStore(ctx, event.ID); err != nil {
			s.logger.Error("compile sweep: event skipped",
				"event_id", event.ID, "error", err)
			continue
		}
		compiled++
	}
	if s.metrics != nil && compiled > 0 {
		s.metrics.PatternsEmitted.Add(ctx, int64(compiled))
	}

	if compiled > 0 {
		version, ok, err := s.store.CurrentCovenantVersion(ctx)
		if err != nil {
			return compiled, err
		}
		if !ok {
			version = "none"
		}
		if _, err := s.store.AppendAudit(ctx, persistence.AuditAction{
			Actor:           SweepActor,
			ActionType:      SweepActionType,
			Scope:           SweepActionType,
			Allowed:         true,
			CovenantVersion: version,
			TraceID:         shared.TraceID(ctx),
		}); err != nil {
			return compiled, err
		}
	}

	s.logger.Info("compile sweep finished", "pending", len(pending), "compiled", compiled)
	return compiled, nil
}
