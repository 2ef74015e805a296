// Command covenant is the covenant-gated audit ledger and diagnostic
// knowledge engine. It gates scoped actions against the active covenant,
// records diagnostic events, and compiles resolved events into a
// matchable pattern corpus.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/basket/go-covenant/internal/config"
	"github.com/basket/go-covenant/internal/gate"
	cotel "github.com/basket/go-covenant/internal/otel"
	"github.com/basket/go-covenant/internal/pattern"
	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/recorder"
	"github.com/basket/go-covenant/internal/scheduler"
	"github.com/basket/go-covenant/internal/shared"
	"github.com/basket/go-covenant/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE:
  %s -daemon                   Run the daemon: config watcher plus the
                               scheduled pattern compile sweep

COVENANT:
  %s activate [-file path]     Activate the covenant.json declaration
  %s show                      Show the active covenant and its scopes
  %s check <scope> [-action t] Ask the gate for a decision (exit 1 if blocked)

LEDGER:
  %s audit [flags]             Query the audit ledger (newest first)

EVENTS:
  %s open <description>        Open a diagnostic event
  %s intent <event-id> [flags] Record the event's intent token
  %s hypothesis <event-id>     Attach a hypothesis
  %s test <event-id> [flags]   Record a test against a hypothesis
  %s resolve <event-id>        Record the outcome and resolve the event
  %s events [-status s]        List events
  %s capture [file]            Replay a full session from JSON (or stdin)

PATTERNS:
  %s compile [event-id]        Compile one resolved event, or sweep all
  %s match <query...> [-k n]   Rank patterns against a free-text query

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  COVENANT_HOME            Data directory (default: ~/.covenant)
  COVENANT_DB              Database path override
  COVENANT_FILE            Pin the covenant.json declaration path
  COVENANT_LOG_LEVEL       debug, info, warn, error
  COVENANT_ACTOR           Actor recorded on audit rows
`)
}

func main() {
	daemon := flag.Bool("daemon", false, "run in daemon mode (config watcher and compile scheduler)")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: load config: %v\n", err)
		os.Exit(1)
	}

	// Quiet logs (file-only) on a terminal so command output stays clean.
	quietLogs := isatty.IsTerminal(os.Stdout.Fd()) && !*daemon
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: init logger: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	// Every invocation gets one trace id and one acting principal; the
	// gate stamps both onto the audit rows it appends.
	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	actor := cfg.Actor
	if actor == "" {
		actor = shared.DefaultActor
	}
	ctx = shared.WithActor(ctx, actor)

	app := &appContext{cfg: cfg, logger: logger}

	if *daemon {
		os.Exit(runDaemon(ctx, app))
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "-h", "--help":
		printUsage()
	case "activate":
		os.Exit(runActivateCommand(ctx, app, args[1:]))
	case "show":
		os.Exit(runShowCommand(ctx, app))
	case "check":
		os.Exit(runCheckCommand(ctx, app, args[1:]))
	case "audit":
		os.Exit(runAuditCommand(ctx, app, args[1:]))
	case "open":
		os.Exit(runOpenCommand(ctx, app, args[1:]))
	case "intent":
		os.Exit(runIntentCommand(ctx, app, args[1:]))
	case "hypothesis":
		os.Exit(runHypothesisCommand(ctx, app, args[1:]))
	case "test":
		os.Exit(runTestCommand(ctx, app, args[1:]))
	case "resolve":
		os.Exit(runResolveCommand(ctx, app, args[1:]))
	case "events":
		os.Exit(runEventsCommand(ctx, app, args[1:]))
	case "capture":
		os.Exit(runCaptureCommand(ctx, app, args[1:]))
	case "compile":
		os.Exit(runCompileCommand(ctx, app, args[1:]))
	case "match":
		os.Exit(runMatchCommand(ctx, app, args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "covenant: unknown command %q\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

// appContext bundles the pieces every subcommand needs.
type appContext struct {
	cfg    config.Config
	logger *slog.Logger
}

// withStore opens the store, runs fn, and closes it. Subcommands are
// short-lived; each run owns the database for its duration.
func (a *appContext) withStore(ctx context.Context, fn func(*persistence.Store) int) int {
	store, err := persistence.Open(a.cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: open store: %v\n", err)
		return 1
	}
	defer store.Close()
	_ = ctx
	return fn(store)
}

func runDaemon(ctx context.Context, app *appContext) int {
	provider, err := cotel.Init(ctx, app.cfg.Otel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: init otel: %v\n", err)
		return 1
	}
	defer provider.Shutdown(context.Background())

	metrics, err := cotel.NewMetrics(provider.Meter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: init metrics: %v\n", err)
		return 1
	}

	store, err := persistence.Open(app.cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: open store: %v\n", err)
		return 1
	}
	defer store.Close()

	sched, err := scheduler.New(scheduler.Config{
		Store:    store,
		Compiler: pattern.NewCompiler(store, app.logger),
		Logger:   app.logger,
		Metrics:  metrics,
		CronExpr: app.cfg.CompileSchedule,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "covenant: invalid compile schedule: %v\n", err)
		return 1
	}
	sched.Start(ctx)
	defer sched.Stop()

	watcher := config.NewWatcher(app.cfg.HomeDir, app.cfg.CovenantPath, app.logger)
	if err := watcher.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "covenant: start watcher: %v\n", err)
		return 1
	}

	app.logger.Info("daemon started",
		"home", app.cfg.HomeDir,
		"db", app.cfg.DBPath,
		"compile_schedule", app.cfg.CompileSchedule,
	)

	for {
		select {
		case <-ctx.Done():
			app.logger.Info("daemon stopping")
			return 0
		case ev, ok := <-watcher.Events():
			if !ok {
				return 0
			}
			app.handleReload(ctx, store, ev)
		}
	}
}

// handleReload reacts to watched file changes. A changed covenant
// declaration is re-activated if its version is new; config changes only
// take effect on restart and are just logged.
func (a *appContext) handleReload(ctx context.Context, store *persistence.Store, ev config.ReloadEvent) {
	if !strings.HasSuffix(ev.Path, "covenant.json") {
		a.logger.Info("config changed, restart to apply", "path", ev.Path)
		return
	}
	if _, err := activateFromFile(ctx, store, a, ev.Path); err != nil {
		a.logger.Error("covenant reload failed", "path", ev.Path, "error", err)
	}
}

// newGate builds a gate without telemetry wiring, for one-shot commands.
func (a *appContext) newGate(store *persistence.Store) *gate.Gate {
	return gate.New(store, a.logger, nil, nil)
}

func (a *appContext) newRecorder(store *persistence.Store) *recorder.Recorder {
	return recorder.New(store, a.logger)
}
