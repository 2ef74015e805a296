package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/go-covenant/internal/covenant"
	"github.com/basket/go-covenant/internal/persistence"
	"github.com/basket/go-covenant/internal/shared"
)

// activateFromFile loads a declaration file, registers it as the new
// current covenant, and appends an audit row for the activation.
func activateFromFile(ctx context.Context, store *persistence.Store, app *appContext, path string) (covenant.Declaration, error) {
	decl, err := covenant.Load(path)
	if err != nil {
		return covenant.Declaration{}, err
	}
	if err := store.ActivateCovenant(ctx, decl.Version, decl.ScopeNames()); err != nil {
		return covenant.Declaration{}, err
	}
	_, err = store.AppendAudit(ctx, persistence.AuditAction{
		Actor:           shared.Actor(ctx),
		ActionType:      "covenant_activate",
		Scope:           "covenant_activate",
		Allowed:         true,
		CovenantVersion: decl.Version,
		TraceID:         shared.TraceID(ctx),
	})
	return decl, err
}

func runActivateCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("activate", flag.ExitOnError)
	file := fs.String("file", "", "covenant.json path (default: resolve from working directory)")
	_ = fs.Parse(args)

	path := *file
	if path == "" {
		path = app.cfg.CovenantPath
	}
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		resolved, err := covenant.Resolve("", wd)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		path = resolved
	}

	return app.withStore(ctx, func(store *persistence.Store) int {
		decl, err := activateFromFile(ctx, store, app, path)
		if err != nil {
			if errors.Is(err, persistence.ErrDuplicateVersion) {
				fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
				return 1
			}
			fmt.Fprintf(os.Stderr, "covenant: activate: %v\n", err)
			return 1
		}
		fmt.Printf("activated covenant %s (%d scopes) from %s\n",
			decl.Version, len(decl.Scopes), path)
		return 0
	})
}

func runShowCommand(ctx context.Context, app *appContext) int {
	return app.withStore(ctx, func(store *persistence.Store) int {
		version, ok, err := store.CurrentCovenantVersion(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		if !ok {
			fmt.Println("no covenant activated")
			return 0
		}
		c, err := store.GetCovenant(ctx, version)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		fmt.Printf("covenant %s (activated %s)\n", c.Version, c.CreatedAt.Format("2006-01-02 15:04:05"))
		if len(c.Scopes) == 0 {
			fmt.Println("  no scopes allowed")
			return 0
		}
		for _, scope := range c.Scopes {
			fmt.Printf("  %s\n", scope)
		}
		return 0
	})
}

func runCheckCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	action := fs.String("action", "", "action type to record (default: the scope name)")
	event := fs.String("event", "", "diagnostic event id to correlate the audit row with")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: covenant check <scope> [-action type] [-event id]")
		return 2
	}
	scope := strings.TrimSpace(fs.Arg(0))
	actionType := *action
	if actionType == "" {
		actionType = scope
	}
	if *event != "" {
		ctx = shared.WithEventID(ctx, *event)
	}

	return app.withStore(ctx, func(store *persistence.Store) int {
		d, err := app.newGate(store).Authorize(ctx, shared.Actor(ctx), actionType, scope)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		if d.Allowed {
			fmt.Printf("allowed under covenant %s (audit %s)\n", d.CovenantVersion, d.AuditID)
			return 0
		}
		fmt.Printf("blocked: %s (covenant %s, audit %s)\n", d.Reason, d.CovenantVersion, d.AuditID)
		return 1
	})
}
