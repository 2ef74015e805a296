package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/basket/go-covenant/internal/pattern"
	"github.com/basket/go-covenant/internal/persistence"
)

func runMatchCommand(ctx context.Context, app *appContext, args []string) int {
	fs := flag.NewFlagSet("match", flag.ExitOnError)
	topK := fs.Int("k", app.cfg.MatchTopK, "maximum ranked patterns to return")
	asJSON := fs.Bool("json", false, "print matches as JSON")
	_ = fs.Parse(args)
	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: covenant match <query...> [-k n] [-json]")
		return 2
	}
	query := strings.Join(fs.Args(), " ")

	return app.withStore(ctx, func(store *persistence.Store) int {
		matcher := pattern.NewMatcher(store, app.logger, nil, nil)
		matches, err := matcher.Match(ctx, query, *topK)
		if err != nil {
			fmt.Fprintf(os.Stderr, "covenant: match: %v\n", err)
			return 1
		}
		if *asJSON {
			if err := json.NewEncoder(os.Stdout).Encode(matches); err != nil {
				fmt.Fprintf(os.Stderr, "covenant: %v\n", err)
				return 1
			}
			return 0
		}
		fmt.Println(pattern.Render(matches))
		return 0
	})
}
