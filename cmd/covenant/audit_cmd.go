package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/basket/go-covenant/internal/persistence"
)

func runAuditCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	scope := fs.String("scope", "", "filter by scope")
	actor := fs.String("actor", "", "filter by actor")
	since := fs.String("since", "", "only rows at or after this time (RFC 3339)")
	until := fs.String("until", "", "only rows at or before this time (RFC 3339)")
	limit := fs.Int("limit", 50, "maximum rows to print (0 = all)")
	asJSON := fs.Bool("json", false, "print rows as JSON lines")
	_ = fs.Parse(args)

	filter := persistence.AuditFilter{Scope: *scope, Actor: *actor, Limit: *limit}
	if *since != "" {
		ts, err := time.Parse(time.RFC3339, *since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: parse -since: %v\n", err)
			return 2
		}
		filter.Since = ts
	}
	if *until != "" {
		ts, err := time.Parse(time.RFC3339, *until)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: parse -until: %v\n", err)
			return 2
		}
		filter.Until = ts
	}

	return app.withStore(ctx, func(store *persistence.Store) int {
		rows, err := store.QueryAudit(ctx, filter)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
			return 1
		}
		if *asJSON {
			enc := json.NewEncoder(os.Stdout)
			for _, row := range rows {
				if err := enc.Encode(row); err != nil {
					fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
					return 1
				}
			}
			return 0
		}
		if len(rows) == 0 {
			fmt.Println("no audit rows")
			return 0
		}
		for _, row := range rows {
			verdict := "allowed"
			if !row.Allowed {
				verdict = "BLOCKED"
			}
			fmt.Printf("%s  %-7s  actor=%s scope=%s action=%s covenant=%s",
				row.CreatedAt.Format("2006-01-02 15:04:05"),
				verdict, row.Actor, row.Scope, row.ActionType, row.CovenantVersion)
			if row.Reason != "" {
				fmt.Printf(" reason=%q", row.Reason)
			}
			if row.EventID != "" {
				fmt.Printf(" event=%s", row.EventID)
			}
			fmt.Println()
		}
		return 0
	})
}
