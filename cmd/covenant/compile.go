package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/go-covenant/internal/pattern"
	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/scheduler"
)

func runCompileCommand(ctx context.Context, app *appContext, args []string) int {
	return app.withStore(ctx, func(store *persistence.Store) int {
		compiler := pattern.NewCompiler(store, app.logger)

		// With an event id, compile that one event.
		if len(args) > 0 {
			p, err := compiler.CompileAndStore(ctx, args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "covenant: compile: %v\n", err)
				return 1
			}
			fmt.Printf("compiled pattern %s\n  trigger: %s\n", p.ID, p.Trigger)
			return 0
		}

		// Otherwise sweep the whole resolved-but-uncompiled backlog,
		// leaving the same audit trail the background sweep would.
		sched, err := scheduler.New(scheduler.Config{
			Store:    store,
			Compiler: compiler,
			Logger:   app.logger,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		compiled, err := sched.Sweep(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: sweep: %v\n", err)
			return 1
		}
		fmt.Printf("compiled %d pattern(s)\n", compiled)
		return 0
	})
}
